package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Decoders for still-image sources.
	_ "image/jpeg"
	_ "image/png"
)

// ErrSourceUnavailable marks a source that could not be opened or stopped
// delivering frames. The worker backs off and reopens it.
var ErrSourceUnavailable = errors.New("frame source unavailable")

// Source delivers decoded frames. Read returns io.EOF at the end of a finite
// stream.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Rewinder is implemented by looping sources. After io.EOF the worker calls
// Rewind and keeps reading.
type Rewinder interface {
	Rewind() error
}

// Opener opens a fresh Source. It is called again after every failure.
type Opener func(ctx context.Context) (Source, error)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImageDirSource plays the still images in a directory in name order and
// loops. It needs no native decoders, which makes it the source of choice
// for simulation runs and tests.
type ImageDirSource struct {
	paths []string
	next  int
}

// OpenImageDir returns an Opener for the images in dir.
func OpenImageDir(dir string) Opener {
	return func(ctx context.Context) (Source, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, dir)
		}
		sort.Strings(paths)
		return &ImageDirSource{paths: paths}, nil
	}
}

func (s *ImageDirSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (s *ImageDirSource) Rewind() error {
	s.next = 0
	return nil
}

func (s *ImageDirSource) Close() error { return nil }
