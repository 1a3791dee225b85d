// Package transform holds the stereo calibration model of a two camera rig and everything
// derived from it: camera matrices, lens distortion, Bouguet rectification and the remap
// coordinate maps that align a raw frame pair.
package transform

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// PinholeCameraIntrinsics is the linear part of a camera calibration for images of
// Width x Height pixels.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// Normalize maps a pixel to normalized image coordinates on the z = 1 plane.
func (params *PinholeCameraIntrinsics) Normalize(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - params.Ppx) / params.Fx, Y: (p.Y - params.Ppy) / params.Fy}
}

// Pixel is the inverse of Normalize.
func (params *PinholeCameraIntrinsics) Pixel(n r2.Point) r2.Point {
	return r2.Point{X: params.Fx*n.X + params.Ppx, Y: params.Fy*n.Y + params.Ppy}
}

// GetCameraMatrix returns K = [[fx 0 ppx] [0 fy ppy] [0 0 1]].
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}
