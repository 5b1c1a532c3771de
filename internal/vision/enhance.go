package vision

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/junction/internal/capture"
)

// CLAHE equalises the luma channel of dark frames with contrast-limited
// adaptive histogram equalisation, leaving chroma untouched.
type CLAHE struct {
	mu    sync.Mutex
	clahe gocv.CLAHE
}

// NewCLAHE returns an enhancer with clip limit 2 over an 8x8 tile grid.
func NewCLAHE() *CLAHE {
	return &CLAHE{clahe: gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))}
}

func (c *CLAHE) Enhance(img *image.RGBA) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(src, &ycrcb, gocv.ColorBGRToYCrCb)

	channels := gocv.Split(ycrcb)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	luma := gocv.NewMat()
	defer luma.Close()
	c.clahe.Apply(channels[0], &luma)
	channels[0].Close()
	channels[0] = luma.Clone()

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(merged, &out, gocv.ColorYCrCbToBGR)

	enhanced, err := out.ToImage()
	if err != nil {
		return nil, err
	}
	return capture.Normalize(enhanced, img.Bounds().Size()), nil
}

func (c *CLAHE) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clahe.Close()
}
