package telemetry

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"sync"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/traffic"
)

// FeedEncoder turns frames into base64 JPEG strings for the viewer. Each
// approach's last encoding is reused until its frame sequence changes, so a
// fast control loop does not re-encode the same picture.
type FeedEncoder struct {
	quality int

	mu    sync.Mutex
	cache [traffic.NumDirections]cachedFeed
	buf   bytes.Buffer
}

type cachedFeed struct {
	seq     uint64
	encoded string
}

func NewFeedEncoder(quality int) *FeedEncoder {
	return &FeedEncoder{quality: quality}
}

// Encode returns the feed for every approach keyed by direction name.
func (e *FeedEncoder) Encode(frames [traffic.NumDirections]capture.Frame) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]string, traffic.NumDirections)
	for _, d := range traffic.Directions {
		f := frames[d]
		if f.Image == nil {
			continue
		}
		c := &e.cache[d]
		if c.encoded == "" || c.seq != f.Seq {
			e.buf.Reset()
			if err := jpeg.Encode(&e.buf, f.Image, &jpeg.Options{Quality: e.quality}); err != nil {
				continue
			}
			c.seq = f.Seq
			c.encoded = base64.StdEncoding.EncodeToString(e.buf.Bytes())
		}
		out[d.String()] = c.encoded
	}
	return out
}
