package rimage

import (
	"image"
	"math"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Luminance weights of the BGR to gray conversion.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// ToGray converts an image to an 8-bit single channel buffer. 8-bit gray images are copied,
// 16-bit gray images are scaled by 1/256, 8-bit color images are reduced to luminance and 16-bit
// color images are scaled by 1/256 per channel before the luminance reduction. Any other
// encoding fails with ErrUnsupportedImageFormat.
func ToGray(img image.Image) (*Buffer[uint8], error) {
	if img == nil {
		return nil, utils.NewUnsupportedImageFormatError(img)
	}
	b := img.Bounds()
	out := NewBuffer[uint8](b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < out.height; y++ {
			start := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Row(y), src.Pix[start:start+out.width])
		}
	case *image.Gray16:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = scale16(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.RGBA:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				c := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
				row[x] = luma(c.R, c.G, c.B)
			}
		}
	case *image.NRGBA:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				row[x] = luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			}
		}
	case *image.YCbCr:
		// The luma plane of a YCbCr image already is the gray image.
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = src.YCbCrAt(b.Min.X+x, b.Min.Y+y).Y
			}
		}
	case *image.RGBA64:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				c := src.RGBA64At(b.Min.X+x, b.Min.Y+y)
				row[x] = luma(scale16(c.R), scale16(c.G), scale16(c.B))
			}
		}
	case *image.NRGBA64:
		for y := 0; y < out.height; y++ {
			row := out.Row(y)
			for x := range row {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				r := uint16(src.Pix[i+0])<<8 | uint16(src.Pix[i+1])
				g := uint16(src.Pix[i+2])<<8 | uint16(src.Pix[i+3])
				bl := uint16(src.Pix[i+4])<<8 | uint16(src.Pix[i+5])
				row[x] = luma(scale16(r), scale16(g), scale16(bl))
			}
		}
	default:
		return nil, utils.NewUnsupportedImageFormatError(img)
	}
	return out, nil
}

// scale16 rescales a 16-bit sample by 1/256, rounding to nearest and saturating.
func scale16(v uint16) uint8 {
	return saturate8(float64(v) / 256)
}

func luma(r, g, b uint8) uint8 {
	return saturate8(lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b))
}

func saturate8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// GrayImage copies an 8-bit buffer into an *image.Gray.
func GrayImage(buf *Buffer[uint8]) *image.Gray {
	img := image.NewGray(buf.Bounds())
	for y := 0; y < buf.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+buf.width], buf.Row(y))
	}
	return img
}
