package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Rodrigues converts a rotation vector (axis scaled by angle in radians) to a 3x3 rotation matrix.
func Rodrigues(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	if theta < 1e-15 {
		return eye(3)
	}
	k := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	c1 := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + c1*k.X*k.X, c1*k.X*k.Y - s*k.Z, c1*k.X*k.Z + s*k.Y,
		c1*k.Y*k.X + s*k.Z, c + c1*k.Y*k.Y, c1*k.Y*k.Z - s*k.X,
		c1*k.Z*k.X - s*k.Y, c1*k.Z*k.Y + s*k.X, c + c1*k.Z*k.Z,
	})
}

// RotationVector converts a 3x3 rotation matrix back to its rotation vector.
func RotationVector(r mat.Matrix) r3.Vector {
	rx := r.At(2, 1) - r.At(1, 2)
	ry := r.At(0, 2) - r.At(2, 0)
	rz := r.At(1, 0) - r.At(0, 1)

	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (r.At(0, 0) + r.At(1, 1) + r.At(2, 2) - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s >= 1e-5 {
		vth := 1 / (2 * s) * theta
		return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
	}
	if c > 0 {
		return r3.Vector{}
	}

	// theta is close to pi: recover the axis from the symmetric part
	t00 := (r.At(0, 0) + 1) * 0.5
	t11 := (r.At(1, 1) + 1) * 0.5
	t22 := (r.At(2, 2) + 1) * 0.5
	t01 := (r.At(0, 1) + r.At(1, 0)) * 0.25
	t02 := (r.At(0, 2) + r.At(2, 0)) * 0.25
	t12 := (r.At(1, 2) + r.At(2, 1)) * 0.25
	rx = math.Sqrt(math.Max(t00, 0))
	ry = math.Sqrt(math.Max(t11, 0))
	if t01 < 0 {
		ry = -ry
	}
	rz = math.Sqrt(math.Max(t22, 0))
	if t02 < 0 {
		rz = -rz
	}
	if math.Abs(rx) < math.Abs(ry) && math.Abs(rx) < math.Abs(rz) && (t12 > 0) != (ry*rz > 0) {
		rz = -rz
	}
	axis := r3.Vector{X: rx, Y: ry, Z: rz}
	return axis.Mul(theta / axis.Norm())
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func mulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
