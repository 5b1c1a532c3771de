// Package vision holds the OpenCV-backed pieces of the pipeline: video and
// camera sources, night contrast enhancement and the background-subtraction
// vehicle counter. Building it requires OpenCV.
package vision

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/banshee-data/junction/internal/capture"
)

// VideoSource reads frames from a video file or camera through OpenCV.
// File sources report io.EOF at the end and can be rewound; cameras cannot.
type VideoSource struct {
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	size image.Point
	file bool
}

// OpenVideoFile returns an Opener for a looping video file.
func OpenVideoFile(path string, size image.Point) capture.Opener {
	return func(ctx context.Context) (capture.Source, error) {
		c, err := gocv.VideoCaptureFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
		}
		return newVideoSource(c, size, true), nil
	}
}

// OpenCamera returns an Opener for a camera given as a device index or a
// stream URL.
func OpenCamera(device string, size image.Point) capture.Opener {
	return func(ctx context.Context) (capture.Source, error) {
		var id interface{} = device
		if n, err := strconv.Atoi(device); err == nil {
			id = n
		}
		c, err := gocv.OpenVideoCapture(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
		}
		c.Set(gocv.VideoCaptureBufferSize, 1)
		return newVideoSource(c, size, false), nil
	}
}

func newVideoSource(c *gocv.VideoCapture, size image.Point, file bool) *VideoSource {
	return &VideoSource{cap: c, mat: gocv.NewMat(), size: size, file: file}
}

func (v *VideoSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := v.cap.Read(&v.mat); !ok || v.mat.Empty() {
		if v.file {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: camera read failed", capture.ErrSourceUnavailable)
	}
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(v.mat, &resized, v.size, 0, 0, gocv.InterpolationNearestNeighbor)
	return resized.ToImage()
}

// Rewind seeks a file source back to its first frame.
func (v *VideoSource) Rewind() error {
	if !v.file {
		return fmt.Errorf("camera sources cannot rewind")
	}
	v.cap.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

func (v *VideoSource) Close() error {
	v.mat.Close()
	return v.cap.Close()
}
