package perception

import (
	"image"

	"gonum.org/v1/gonum/stat"
)

// luminanceStride samples every fourth pixel in each axis.
const luminanceStride = 4

// MeanBrightness returns the mean HSV value channel (max of R, G, B) over a
// sampled grid of img, in 0-255.
func MeanBrightness(img *image.RGBA) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	samples := make([]float64, 0, (b.Dx()/luminanceStride+1)*(b.Dy()/luminanceStride+1))
	for y := b.Min.Y; y < b.Max.Y; y += luminanceStride {
		for x := b.Min.X; x < b.Max.X; x += luminanceStride {
			i := img.PixOffset(x, y)
			r, g, bl := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
			v := r
			if g > v {
				v = g
			}
			if bl > v {
				v = bl
			}
			samples = append(samples, float64(v))
		}
	}
	return stat.Mean(samples, nil)
}
