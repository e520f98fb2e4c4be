package pack

import (
	"image"

	"golang.org/x/image/draw"
)

// ToNRGBA returns img as a tightly packed straight-alpha RGBA8 image with
// its origin at (0,0). Images already in that layout are returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
