package stereo

import (
	"image"
	"math"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
)

// MaxDisparity returns the largest disparity over all fields, or 0 when no field holds a positive
// value. NaN samples are ignored.
func MaxDisparity(fields ...*rimage.Buffer[float32]) float32 {
	var maxD float32
	for _, f := range fields {
		for _, d := range f.Data() {
			if d > maxD {
				maxD = d
			}
		}
	}
	return maxD
}

// NormalizeDisparity scales a disparity field to 8 bits: 255*d/maxD clamped to [0, 255] and
// truncated. NaN maps to 0 and a non-positive maxD gives an all zero image.
func NormalizeDisparity(field *rimage.Buffer[float32], maxD float32) *image.Gray {
	out := image.NewGray(field.Bounds())
	if !(maxD > 0) {
		return out
	}
	for y := 0; y < field.Height(); y++ {
		row := field.Row(y)
		pix := out.Pix[y*out.Stride : y*out.Stride+len(row)]
		for x, d := range row {
			v := 255 * float64(d) / float64(maxD)
			switch {
			case math.IsNaN(v) || v <= 0:
				pix[x] = 0
			case v >= 255:
				pix[x] = 255
			default:
				pix[x] = uint8(v)
			}
		}
	}
	return out
}

// NormalizeDisparities scales both fields by their common maximum.
func NormalizeDisparities(left, right *rimage.Buffer[float32]) (*image.Gray, *image.Gray) {
	maxD := MaxDisparity(left, right)
	return NormalizeDisparity(left, maxD), NormalizeDisparity(right, maxD)
}
