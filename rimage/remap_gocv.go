//go:build gocv

package rimage

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// OpenCVRemapper remaps through OpenCV. It only handles 8-bit gray and RGBA frames; other
// encodings fall back to Remap.
var OpenCVRemapper Remapper = RemapperFunc(remapOpenCV)

func init() {
	BilinearRemapper = OpenCVRemapper
}

func remapOpenCV(src image.Image, mapX, mapY *Buffer[float32]) (image.Image, error) {
	if mapX == nil || mapY == nil {
		return nil, utils.NewRectificationFailedError(nil, "no remap coordinates")
	}
	if mapX.Size() != mapY.Size() {
		return nil, utils.NewDimensionMismatchError("remap coordinate maps", mapX.Size(), mapY.Size())
	}

	var in gocv.Mat
	var err error
	switch img := src.(type) {
	case *image.Gray:
		in, err = gocv.ImageGrayToMatGray(img)
	case *image.RGBA:
		in, err = gocv.ImageToMatRGBA(img)
	default:
		return Remap(src, mapX, mapY)
	}
	if err != nil {
		return nil, errors.Wrap(err, "converting frame to mat")
	}
	defer in.Close()

	mx, err := floatMat(mapX)
	if err != nil {
		return nil, err
	}
	defer mx.Close()
	my, err := floatMat(mapY)
	if err != nil {
		return nil, err
	}
	defer my.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.Remap(in, &out, &mx, &my, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	img, err := out.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "converting remapped mat")
	}
	if _, isGray := src.(*image.Gray); isGray {
		buf, err := ToGray(img)
		if err != nil {
			return nil, err
		}
		return GrayImage(buf), nil
	}
	return img, nil
}

func floatMat(b *Buffer[float32]) (gocv.Mat, error) {
	raw := make([]byte, 4*len(b.Data()))
	for i, v := range b.Data() {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return gocv.NewMatFromBytes(b.Height(), b.Width(), gocv.MatTypeCV32FC1, raw)
}
