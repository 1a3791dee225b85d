package rimage

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorizeDisparity renders a normalized disparity image with a hue ramp running from blue for
// small disparities (far) to red for large ones (near). Zero, the invalid value, stays black.
func ColorizeDisparity(disp *image.Gray) *image.RGBA {
	out := image.NewRGBA(disp.Bounds())
	var palette [256]color.RGBA
	for i := 1; i < len(palette); i++ {
		h := 240 * (1 - float64(i-1)/254)
		r, g, b := colorful.Hsv(h, 1, 1).Clamped().RGB255()
		palette[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	palette[0] = color.RGBA{A: 255}

	b := disp.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetRGBA(x, y, palette[disp.GrayAt(x, y).Y])
		}
	}
	return out
}
