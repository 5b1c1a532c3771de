// Package perception turns the latest frames into per-approach vehicle
// counts and flags. The object detector itself is pluggable; everything
// after the bounding boxes (class filtering, stop-line regions, stall and
// emergency flags) happens here so every backend behaves the same.
package perception

import (
	"context"
	"errors"
	"image"

	"github.com/banshee-data/junction/internal/traffic"
)

// ErrPerceptionFailure wraps detector errors. The analyzer recovers from it
// by carrying the previous observation forward.
var ErrPerceptionFailure = errors.New("perception failure")

// Detection is one labelled box in pipeline pixel coordinates.
type Detection struct {
	Class      int
	Box        image.Rectangle
	Confidence float64
}

// Centroid returns the box centre.
func (d Detection) Centroid() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

// Input is one approach's frame for a detection batch.
type Input struct {
	Direction traffic.Direction
	Image     *image.RGBA
}

// Detector finds objects in a batch of frames. The result has one slice per
// input, in input order.
type Detector interface {
	Detect(ctx context.Context, batch []Input) ([][]Detection, error)
}

// Enhancer improves contrast on dark frames before detection.
type Enhancer interface {
	Enhance(img *image.RGBA) (*image.RGBA, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, batch []Input) ([][]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, batch []Input) ([][]Detection, error) {
	return f(ctx, batch)
}
