package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// StereoRectification is the result of rectifying a calibrated camera pair. R1 and R2 rotate
// each camera into the common rectified frame, P1 and P2 project rectified points into the new
// image planes and Q reprojects a pixel with its disparity to 3D, in the units of the baseline.
type StereoRectification struct {
	R1, R2 *mat.Dense
	P1, P2 *mat.Dense
	Q      *mat.Dense
	// Horizontal is false when the baseline is mostly vertical.
	Horizontal bool
}

// FocalLength returns the common focal length of the rectified cameras in pixels.
func (sr *StereoRectification) FocalLength() float64 {
	return sr.P1.At(0, 0)
}

// PrincipalPoint returns the principal point of the rectified reference (left) camera.
func (sr *StereoRectification) PrincipalPoint() r2.Point {
	return r2.Point{X: sr.P1.At(0, 2), Y: sr.P1.At(1, 2)}
}

// Baseline returns the signed baseline along the rectified axis.
func (sr *StereoRectification) Baseline() float64 {
	idx := 0
	if !sr.Horizontal {
		idx = 1
	}
	return sr.P2.At(idx, 3) / sr.P2.At(idx, idx)
}

// StereoRectify computes the Bouguet rectification of a camera pair whose right camera is
// positioned at rotation R and translation T relative to the left. Principal points of both
// rectified views coincide, so objects at infinity have zero disparity, and the new focal length
// keeps all source pixels without rescaling.
func StereoRectify(
	left, right *PinholeCameraIntrinsics,
	leftDist, rightDist *BrownConrady,
	size image.Point,
	rotation *mat.Dense,
	translation r3.Vector,
) (*StereoRectification, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if translation.Norm() == 0 {
		return nil, errors.New("cameras share the same optical center")
	}

	// rotate each camera half way towards the other
	om := RotationVector(rotation).Mul(-0.5)
	rr := Rodrigues(om)
	t := mulVec(rr, translation)

	idx := 0
	tIdx := t.X
	if math.Abs(t.X) <= math.Abs(t.Y) {
		idx = 1
		tIdx = t.Y
	}
	var uu r3.Vector
	sign := 1.0
	if tIdx < 0 {
		sign = -1
	}
	if idx == 0 {
		uu.X = sign
	} else {
		uu.Y = sign
	}

	// align the baseline with the image axis
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(tIdx)/t.Norm()) / nw)
	}
	wr := Rodrigues(ww)

	var rect1, rect2 mat.Dense
	rect1.Mul(wr, rr.T())
	rect2.Mul(wr, rr)
	t = mulVec(&rect2, translation)
	if idx == 0 {
		tIdx = t.X
	} else {
		tIdx = t.Y
	}

	cams := [2]*PinholeCameraIntrinsics{left, right}
	dists := [2]*BrownConrady{leftDist, rightDist}
	nx, ny := float64(size.X), float64(size.Y)

	fcNew := math.MaxFloat64
	for k := 0; k < 2; k++ {
		fc := cams[k].Fy
		if idx == 1 {
			fc = cams[k].Fx
		}
		if dk1 := dists[k].RadialK1; dk1 < 0 {
			fc *= 1 + dk1*(nx*nx+ny*ny)/(4*fc*fc)
		}
		fcNew = math.Min(fcNew, fc)
	}

	var ccNew [2]r2.Point
	rects := [2]*mat.Dense{&rect1, &rect2}
	for k := 0; k < 2; k++ {
		var avg r2.Point
		for i := 0; i < 4; i++ {
			corner := r2.Point{X: float64(i%2) * (nx - 1), Y: float64(i/2) * (ny - 1)}
			xn, yn := undistortPixel(cams[k], dists[k], corner)
			p := mulVec(rects[k], r3.Vector{X: xn, Y: yn, Z: 1})
			avg = avg.Add(r2.Point{X: fcNew * p.X / p.Z, Y: fcNew * p.Y / p.Z})
		}
		avg = avg.Mul(0.25)
		ccNew[k] = r2.Point{X: (nx-1)/2 - avg.X, Y: (ny-1)/2 - avg.Y}
	}
	cc := ccNew[0].Add(ccNew[1]).Mul(0.5)
	ccNew[0], ccNew[1] = cc, cc

	p1 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[0].X, 0,
		0, fcNew, ccNew[0].Y, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[1].X, 0,
		0, fcNew, ccNew[1].Y, 0,
		0, 0, 1, 0,
	})
	p2.Set(idx, 3, tIdx*fcNew)

	ccDiff := ccNew[0].X - ccNew[1].X
	if idx == 1 {
		ccDiff = ccNew[0].Y - ccNew[1].Y
	}
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -ccNew[0].X,
		0, 1, 0, -ccNew[0].Y,
		0, 0, 0, fcNew,
		0, 0, -1 / tIdx, ccDiff / tIdx,
	})

	return &StereoRectification{R1: &rect1, R2: &rect2, P1: p1, P2: p2, Q: q, Horizontal: idx == 0}, nil
}

// undistortPixel maps a distorted pixel to undistorted normalized coordinates.
func undistortPixel(cam *PinholeCameraIntrinsics, dist *BrownConrady, p r2.Point) (float64, float64) {
	n := cam.Normalize(p)
	return dist.Undistort(n.X, n.Y)
}
