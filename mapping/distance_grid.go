package mapping

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// DistanceGrid is a metric grid of distances stored as a dense matrix with one row per image row.
type DistanceGrid struct {
	Time time.Time

	ScaleX  float64
	ScaleY  float64
	CenterX float64
	CenterY float64

	data *mat.Dense
}

// NewDistanceGrid returns a grid of width x height cells all set to NaN.
func NewDistanceGrid(width, height int) *DistanceGrid {
	raw := make([]float64, width*height)
	for i := range raw {
		raw[i] = math.NaN()
	}
	return &DistanceGrid{data: mat.NewDense(height, width, raw)}
}

// Width returns the number of columns.
func (g *DistanceGrid) Width() int {
	_, c := g.data.Dims()
	return c
}

// Height returns the number of rows.
func (g *DistanceGrid) Height() int {
	r, _ := g.data.Dims()
	return r
}

// At returns the distance at (x, y).
func (g *DistanceGrid) At(x, y int) float64 {
	return g.data.At(y, x)
}

// Project returns the projective plane coordinate of cell (x, y).
func (g *DistanceGrid) Project(x, y int) r2.Point {
	return r2.Point{
		X: float64(x)*g.ScaleX + g.CenterX,
		Y: float64(y)*g.ScaleY + g.CenterY,
	}
}

// Matrix exposes the underlying storage.
func (g *DistanceGrid) Matrix() mat.Matrix {
	return g.data
}
