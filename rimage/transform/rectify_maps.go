package transform

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// RectifyMapper computes the rectification maps of a calibrated pair for a given image size.
type RectifyMapper interface {
	ComputeMaps(params *CalibrationParameters, size image.Point) (*RectificationMaps, error)
}

// BouguetMapper rectifies with StereoRectify and builds undistort-rectify maps for both cameras.
type BouguetMapper struct{}

// ComputeMaps implements RectifyMapper.
func (BouguetMapper) ComputeMaps(params *CalibrationParameters, size image.Point) (*RectificationMaps, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	left, right := params.Intrinsics(false, size), params.Intrinsics(true, size)
	leftDist, rightDist := params.Distortion(false), params.Distortion(true)
	rect, err := StereoRectify(left, right, leftDist, rightDist, size, params.Rotation(), params.Translation())
	if err != nil {
		return nil, utils.NewConfigurationCorruptError("stereo rectification", err)
	}

	maps := &RectificationMaps{Size: size, Rectification: rect}
	maps.LeftX, maps.LeftY = InitUndistortRectifyMap(left, leftDist, rect.R1, rect.P1, size)
	maps.RightX, maps.RightY = InitUndistortRectifyMap(right, rightDist, rect.R2, rect.P2, size)
	maps.LeftROI = ValidRectangle(maps.LeftX, maps.LeftY, size)
	maps.RightROI = ValidRectangle(maps.RightX, maps.RightY, size)
	return maps, nil
}

// InitUndistortRectifyMap returns, for every pixel of the rectified image, the source pixel of
// the raw image of a camera with the given intrinsics and distortion, rectification rotation r
// and new projection p.
func InitUndistortRectifyMap(
	cam *PinholeCameraIntrinsics,
	dist *BrownConrady,
	r, p *mat.Dense,
	size image.Point,
) (*rimage.Buffer[float32], *rimage.Buffer[float32]) {
	var pr, ir mat.Dense
	pr.Mul(p.Slice(0, 3, 0, 3), r)
	if err := ir.Inverse(&pr); err != nil {
		ir.CloneFrom(eye(3))
	}

	mapX := rimage.NewBuffer[float32](size.X, size.Y)
	mapY := rimage.NewBuffer[float32](size.X, size.Y)
	for v := 0; v < size.Y; v++ {
		rowX, rowY := mapX.Row(v), mapY.Row(v)
		fv := float64(v)
		for u := range rowX {
			fu := float64(u)
			xw := ir.At(0, 0)*fu + ir.At(0, 1)*fv + ir.At(0, 2)
			yw := ir.At(1, 0)*fu + ir.At(1, 1)*fv + ir.At(1, 2)
			w := ir.At(2, 0)*fu + ir.At(2, 1)*fv + ir.At(2, 2)
			xd, yd := dist.Transform(xw/w, yw/w)
			src := cam.Pixel(r2.Point{X: xd, Y: yd})
			rowX[u], rowY[u] = float32(src.X), float32(src.Y)
		}
	}
	return mapX, mapY
}

// ValidRectangle returns the largest rectangle, found by shrinking the image border, in which
// every map entry samples from inside the source image.
func ValidRectangle(mapX, mapY *rimage.Buffer[float32], size image.Point) image.Rectangle {
	const eps = 1e-3
	valid := func(x, y int) bool {
		sx, sy := mapX.At(x, y), mapY.At(x, y)
		return sx >= -eps && sy >= -eps && sx <= float32(size.X-1)+eps && sy <= float32(size.Y-1)+eps
	}
	countRow := func(y, x0, x1 int) int {
		n := 0
		for x := x0; x < x1; x++ {
			if !valid(x, y) {
				n++
			}
		}
		return n
	}
	countCol := func(x, y0, y1 int) int {
		n := 0
		for y := y0; y < y1; y++ {
			if !valid(x, y) {
				n++
			}
		}
		return n
	}

	rect := mapX.Bounds()
	for !rect.Empty() {
		// top, bottom, left, right
		counts := [4]int{
			countRow(rect.Min.Y, rect.Min.X, rect.Max.X),
			countRow(rect.Max.Y-1, rect.Min.X, rect.Max.X),
			countCol(rect.Min.X, rect.Min.Y, rect.Max.Y),
			countCol(rect.Max.X-1, rect.Min.Y, rect.Max.Y),
		}
		worst := 0
		for i, c := range counts {
			if c > counts[worst] {
				worst = i
			}
		}
		if counts[worst] == 0 {
			return rect
		}
		switch worst {
		case 0:
			rect.Min.Y++
		case 1:
			rect.Max.Y--
		case 2:
			rect.Min.X++
		default:
			rect.Max.X--
		}
	}
	return image.Rectangle{}
}

// RectificationMaps are the immutable products of a rectification: coordinate maps and valid
// rectangles for both cameras plus the rectified projection geometry.
type RectificationMaps struct {
	Size           image.Point
	LeftX, LeftY   *rimage.Buffer[float32]
	RightX, RightY *rimage.Buffer[float32]
	LeftROI        image.Rectangle
	RightROI       image.Rectangle
	Rectification  *StereoRectification

	remapper rimage.Remapper
}

// Q returns the 4x4 reprojection matrix.
func (m *RectificationMaps) Q() *mat.Dense {
	return m.Rectification.Q
}

// Rectify remaps a raw frame of the left or right camera into the rectified image plane. The
// frame must have the calibrated image size. The output keeps the encoding class of the input.
func (m *RectificationMaps) Rectify(frame image.Image, isRightCamera bool) (image.Image, error) {
	if m == nil {
		return nil, utils.NewRectificationFailedError(nil, "no rectification maps")
	}
	if frame == nil {
		return nil, utils.NewRectificationFailedError(nil, "no frame")
	}
	if size := frame.Bounds().Size(); size != m.Size {
		return nil, utils.NewRectificationFailedError(
			utils.NewDimensionMismatchError("frame size", m.Size, size), "frame does not match calibration")
	}
	mapX, mapY := m.LeftX, m.LeftY
	if isRightCamera {
		mapX, mapY = m.RightX, m.RightY
	}
	if mapX == nil || mapY == nil {
		return nil, utils.NewRectificationFailedError(nil, "rectification maps are missing")
	}

	remapper := m.remapper
	if remapper == nil {
		remapper = rimage.BilinearRemapper
	}
	out, err := remapper.Remap(frame, mapX, mapY)
	if err != nil {
		if errors.Is(err, utils.ErrUnsupportedImageFormat) {
			return nil, err
		}
		return nil, utils.NewRectificationFailedError(err, "remapping frame")
	}
	return out, nil
}
