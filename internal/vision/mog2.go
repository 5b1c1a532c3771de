package vision

import (
	"context"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/junction/internal/perception"
	"github.com/banshee-data/junction/internal/traffic"
)

// Blob filter bounds for the background-subtraction counter.
const (
	mog2History      = 500
	mog2VarThreshold = 25
	warmupFrames     = 10
	minBlobArea      = 500
	maxBlobArea      = 15000
	minAspect        = 0.2
	maxAspect        = 4.0
	carClass         = 2
)

// MOG2 counts moving blobs with one background model per approach. It needs
// no model weights, at the cost of reporting every blob as a car. The first
// frames of each approach only train the model and report nothing.
type MOG2 struct {
	mu     sync.Mutex
	models map[traffic.Direction]*mog2Model
	kernel gocv.Mat
}

type mog2Model struct {
	sub    gocv.BackgroundSubtractorMOG2
	frames int
}

func NewMOG2() *MOG2 {
	return &MOG2{
		models: make(map[traffic.Direction]*mog2Model),
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5)),
	}
}

func (m *MOG2) Detect(ctx context.Context, batch []perception.Input) ([][]perception.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]perception.Detection, len(batch))
	for i, in := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dets, err := m.detectOne(in)
		if err != nil {
			return nil, err
		}
		out[i] = dets
	}
	return out, nil
}

func (m *MOG2) detectOne(in perception.Input) ([]perception.Detection, error) {
	model, ok := m.models[in.Direction]
	if !ok {
		model = &mog2Model{sub: gocv.NewBackgroundSubtractorMOG2WithParams(mog2History, mog2VarThreshold, true)}
		m.models[in.Direction] = model
	}

	src, err := gocv.ImageToMatRGB(in.Image)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	mask := gocv.NewMat()
	defer mask.Close()
	model.sub.Apply(blurred, &mask)

	model.frames++
	if model.frames <= warmupFrames {
		return nil, nil
	}

	// Shadows are marked 127 by MOG2; keep only confident foreground.
	gocv.Threshold(mask, &mask, 250, 255, gocv.ThresholdBinary)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, m.kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, m.kernel)
	gocv.Dilate(mask, &mask, m.kernel)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var dets []perception.Detection
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < minBlobArea || area > maxBlobArea {
			continue
		}
		r := gocv.BoundingRect(c)
		if r.Dy() == 0 {
			continue
		}
		aspect := float64(r.Dx()) / float64(r.Dy())
		if aspect < minAspect || aspect > maxAspect {
			continue
		}
		dets = append(dets, perception.Detection{Class: carClass, Box: r, Confidence: 1})
	}
	return dets, nil
}

func (m *MOG2) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d, model := range m.models {
		model.sub.Close()
		delete(m.models, d)
	}
	return m.kernel.Close()
}
