package capture

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/junction/internal/traffic"
)

// Normalize returns src scaled to size as a fresh RGBA image. Nearest
// neighbour is enough for counting and keeps the per-frame cost low.
func Normalize(src image.Image, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if src.Bounds().Size() == size {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Placeholder renders the black "<DIR> LOST" frame shown for an approach
// whose source is unavailable.
func Placeholder(d traffic.Direction, size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	label := strings.ToUpper(d.String()) + " LOST"
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 220, G: 40, B: 40, A: 255}),
		Face: face,
	}
	width := drawer.MeasureString(label).Ceil()
	x := (size.X - width) / 2
	y := size.Y / 2
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(label)
	return img
}
