package transform

// BrownConrady is the four coefficient Brown-Conrady lens model (k1, k2, p1, p2) acting on
// normalized image coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// Parameters returns the coefficients in the order k1, k2, p1, p2.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts an undistorted normalized point:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
func (bc *BrownConrady) Transform(xu, yu float64) (float64, float64) {
	if bc == nil {
		return xu, yu
	}
	r2 := xu*xu + yu*yu
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2
	xd := xu*radDist + 2.0*bc.TangentialP1*xu*yu + bc.TangentialP2*(r2+2.0*xu*xu)
	yd := yu*radDist + 2.0*bc.TangentialP2*xu*yu + bc.TangentialP1*(r2+2.0*yu*yu)
	return xd, yd
}

// Undistort inverts Transform with Newton-Raphson iterations starting from the distorted point.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}

	xu, yu := xd, yd
	const maxIterations = 20
	const tolerance = 1e-12

	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r2*r2
		xdEst, ydEst := bc.Transform(xu, yu)

		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		dRad := bc.RadialK1 + 2.0*bc.RadialK2*r2
		dRadDistDxu := 2.0 * xu * dRad
		dRadDistDyu := 2.0 * yu * dRad

		dxdDxu := radDist + xu*dRadDistDxu + 2.0*bc.TangentialP1*yu + 6.0*bc.TangentialP2*xu
		dxdDyu := xu*dRadDistDyu + 2.0*bc.TangentialP1*xu + 2.0*bc.TangentialP2*yu
		dydDxu := yu*dRadDistDxu + 2.0*bc.TangentialP2*yu + 2.0*bc.TangentialP1*xu
		dydDyu := radDist + yu*dRadDistDyu + 2.0*bc.TangentialP2*xu + 6.0*bc.TangentialP1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}
	return xu, yu
}
