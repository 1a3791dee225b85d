package rimage

import (
	"image"
	"image/draw"
	"math"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Remapper resamples an image through per-pixel source coordinate maps. The output has the size
// of the maps and output pixel (x, y) is sampled from src at (mapX(x, y), mapY(x, y)).
type Remapper interface {
	Remap(src image.Image, mapX, mapY *Buffer[float32]) (image.Image, error)
}

// RemapperFunc adapts a function to the Remapper interface.
type RemapperFunc func(src image.Image, mapX, mapY *Buffer[float32]) (image.Image, error)

// Remap calls f.
func (f RemapperFunc) Remap(src image.Image, mapX, mapY *Buffer[float32]) (image.Image, error) {
	return f(src, mapX, mapY)
}

// BilinearRemapper is the built in Remapper.
var BilinearRemapper Remapper = RemapperFunc(Remap)

// pixLayout describes interleaved pixel storage: channels samples of depth bytes each, big
// endian for 16-bit samples.
type pixLayout struct {
	pix      []uint8
	stride   int
	rect     image.Rectangle
	channels int
	depth    int
}

func (l *pixLayout) offset(x, y int) int {
	return (y-l.rect.Min.Y)*l.stride + (x-l.rect.Min.X)*l.channels*l.depth
}

func (l *pixLayout) get(x, y, c int) float64 {
	i := l.offset(x, y) + c*l.depth
	if l.depth == 2 {
		return float64(uint16(l.pix[i])<<8 | uint16(l.pix[i+1]))
	}
	return float64(l.pix[i])
}

func (l *pixLayout) set(x, y, c int, v float64) {
	i := l.offset(x, y) + c*l.depth
	if l.depth == 2 {
		s := uint16(clampRound(v, math.MaxUint16))
		l.pix[i] = uint8(s >> 8)
		l.pix[i+1] = uint8(s)
		return
	}
	l.pix[i] = uint8(clampRound(v, math.MaxUint8))
}

func clampRound(v, hi float64) float64 {
	v = math.Round(v)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// layoutOf returns the storage of img and a constructor for an empty image of the same encoding.
// YCbCr images are converted to RGBA first.
func layoutOf(img image.Image) (pixLayout, func(image.Rectangle) (image.Image, pixLayout), error) {
	switch src := img.(type) {
	case *image.Gray:
		return pixLayout{src.Pix, src.Stride, src.Rect, 1, 1}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewGray(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 1, 1}
		}, nil
	case *image.Gray16:
		return pixLayout{src.Pix, src.Stride, src.Rect, 1, 2}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewGray16(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 1, 2}
		}, nil
	case *image.RGBA:
		return pixLayout{src.Pix, src.Stride, src.Rect, 4, 1}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewRGBA(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 4, 1}
		}, nil
	case *image.NRGBA:
		return pixLayout{src.Pix, src.Stride, src.Rect, 4, 1}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewNRGBA(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 4, 1}
		}, nil
	case *image.RGBA64:
		return pixLayout{src.Pix, src.Stride, src.Rect, 4, 2}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewRGBA64(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 4, 2}
		}, nil
	case *image.NRGBA64:
		return pixLayout{src.Pix, src.Stride, src.Rect, 4, 2}, func(r image.Rectangle) (image.Image, pixLayout) {
			out := image.NewNRGBA64(r)
			return out, pixLayout{out.Pix, out.Stride, out.Rect, 4, 2}
		}, nil
	case *image.YCbCr:
		rgba := image.NewRGBA(src.Rect)
		draw.Draw(rgba, rgba.Rect, src, src.Rect.Min, draw.Src)
		return layoutOf(rgba)
	default:
		return pixLayout{}, nil, utils.NewUnsupportedImageFormatError(img)
	}
}

// Remap resamples src with bilinear interpolation. Samples that fall outside of src contribute
// zero, so pixels mapped far outside the source come out black.
func Remap(src image.Image, mapX, mapY *Buffer[float32]) (image.Image, error) {
	if mapX == nil || mapY == nil {
		return nil, utils.NewRectificationFailedError(nil, "no remap coordinates")
	}
	if mapX.Size() != mapY.Size() {
		return nil, utils.NewDimensionMismatchError("remap coordinate maps", mapX.Size(), mapY.Size())
	}
	in, newImage, err := layoutOf(src)
	if err != nil {
		return nil, err
	}
	dst, out := newImage(image.Rect(0, 0, mapX.Width(), mapX.Height()))

	vals := make([]float64, in.channels)
	for y := 0; y < mapX.Height(); y++ {
		rowX, rowY := mapX.Row(y), mapY.Row(y)
		for x := range rowX {
			sampleBilinear(&in, float64(rowX[x])+float64(in.rect.Min.X), float64(rowY[x])+float64(in.rect.Min.Y), vals)
			for c, v := range vals {
				out.set(x, y, c, v)
			}
		}
	}
	return dst, nil
}

func sampleBilinear(in *pixLayout, sx, sy float64, vals []float64) {
	for c := range vals {
		vals[c] = 0
	}
	if math.IsNaN(sx) || math.IsNaN(sy) {
		return
	}
	fx, fy := math.Floor(sx), math.Floor(sy)
	if fx < float64(in.rect.Min.X-1) || fy < float64(in.rect.Min.Y-1) ||
		fx >= float64(in.rect.Max.X) || fy >= float64(in.rect.Max.Y) {
		return
	}
	x0, y0 := int(fx), int(fy)
	ax, ay := sx-fx, sy-fy
	weights := [4]float64{(1 - ax) * (1 - ay), ax * (1 - ay), (1 - ax) * ay, ax * ay}
	corners := [4]image.Point{{x0, y0}, {x0 + 1, y0}, {x0, y0 + 1}, {x0 + 1, y0 + 1}}
	for i, p := range corners {
		if weights[i] == 0 || !p.In(in.rect) {
			continue
		}
		for c := range vals {
			vals[c] += weights[i] * in.get(p.X, p.Y, c)
		}
	}
}
