package stereo

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/rock-image-processing/image-processing-stereo/mapping"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// DisparityToDistanceImage converts a left-reference disparity map into depths along the
// rectified left camera's optical axis, in the units of the calibration baseline. A subsampled
// map is scaled back to the rectified image size. Invalid or non-positive disparities and points
// behind the camera give NaN.
func DisparityToDistanceImage(disp *rimage.Buffer[float32], maps *transform.RectificationMaps, t time.Time) (*mapping.DistanceImage, error) {
	if maps == nil || maps.Rectification == nil {
		return nil, utils.NewRectificationFailedError(nil, "no rectification geometry")
	}
	if disp == nil || disp.Width() <= 0 || disp.Height() <= 0 {
		return nil, utils.NewError(utils.ErrDimensionMismatch, nil, "empty disparity map")
	}
	step := float64(maps.Size.X) / float64(disp.Width())

	rect := maps.Rectification
	f := rect.FocalLength()
	c := rect.PrincipalPoint()
	q := maps.Q()

	out := mapping.NewDistanceImage(disp.Width(), disp.Height())
	out.Time = t
	out.ScaleX, out.ScaleY = step/f, step/f
	out.CenterX, out.CenterY = -c.X/f, -c.Y/f

	in := mat.NewVecDense(4, nil)
	var h mat.VecDense
	for y := 0; y < disp.Height(); y++ {
		for x, d := range disp.Row(y) {
			if !(d > 0) {
				continue
			}
			in.SetVec(0, float64(x)*step)
			in.SetVec(1, float64(y)*step)
			in.SetVec(2, float64(d))
			in.SetVec(3, 1)
			h.MulVec(q, in)
			w := h.AtVec(3)
			if !(w > 0) {
				continue
			}
			z := h.AtVec(2) / w
			if math.IsInf(z, 0) || math.IsNaN(z) {
				continue
			}
			out.Set(x, y, float32(z))
		}
	}
	return out, nil
}
