// Package mapping holds the metric output of the stereo pipeline: a distance image and the grid a
// spatial mapping consumer stores it in.
package mapping

import (
	"image"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/rock-image-processing/image-processing-stereo/pointcloud"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// DistanceImage is a row-major field of distances along camera rays. NaN marks a sample with no
// value. A grid index (x, y) maps to the projective plane through p = x*scale + center per axis.
type DistanceImage struct {
	Time time.Time

	Data   []float32
	Width  int
	Height int

	ScaleX  float64
	ScaleY  float64
	CenterX float64
	CenterY float64
}

// NewDistanceImage returns a distance image with every sample unset.
func NewDistanceImage(width, height int) *DistanceImage {
	data := make([]float32, width*height)
	nan := float32(math.NaN())
	for i := range data {
		data[i] = nan
	}
	return &DistanceImage{Data: data, Width: width, Height: height}
}

// SetIntrinsic sets the scale and center from a focal length and principal point, so that
// a grid index maps to the normalized image plane.
func (di *DistanceImage) SetIntrinsic(fx, fy, cx, cy float64) {
	di.ScaleX = 1 / fx
	di.ScaleY = 1 / fy
	di.CenterX = -cx / fx
	di.CenterY = -cy / fy
}

func (di *DistanceImage) checkSize() error {
	if di.Width <= 0 || di.Height <= 0 || len(di.Data) != di.Width*di.Height {
		return utils.NewError(utils.ErrDimensionMismatch, nil,
			"distance image of %dx%d holds %d samples", di.Width, di.Height, len(di.Data))
	}
	return nil
}

// At returns the sample at (x, y).
func (di *DistanceImage) At(x, y int) float32 {
	return di.Data[y*di.Width+x]
}

// Set stores the sample at (x, y).
func (di *DistanceImage) Set(x, y int, d float32) {
	di.Data[y*di.Width+x] = d
}

// Project returns the projective plane coordinate of grid index (x, y).
func (di *DistanceImage) Project(x, y int) r2.Point {
	return r2.Point{
		X: float64(x)*di.ScaleX + di.CenterX,
		Y: float64(y)*di.ScaleY + di.CenterY,
	}
}

// Point returns the 3D point of grid index (x, y), and false if the sample has no value.
func (di *DistanceImage) Point(x, y int) (r3.Vector, bool) {
	d := float64(di.At(x, y))
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return r3.Vector{}, false
	}
	p := di.Project(x, y)
	return r3.Vector{X: p.X * d, Y: p.Y * d, Z: d}, true
}

// Bounds returns the grid rectangle.
func (di *DistanceImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, di.Width, di.Height)
}

// ToPointCloud reconstructs every valid sample into a point cloud. Each point carries its
// grid index y*width+x as its value.
func (di *DistanceImage) ToPointCloud() (pointcloud.PointCloud, error) {
	if err := di.checkSize(); err != nil {
		return nil, err
	}
	cloud := pointcloud.NewWithPrealloc(len(di.Data))
	for y := 0; y < di.Height; y++ {
		for x := 0; x < di.Width; x++ {
			p, ok := di.Point(x, y)
			if !ok {
				continue
			}
			if err := cloud.Set(p, pointcloud.NewPixelData(y*di.Width+x)); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}

// UpdateDistanceGrid copies the image into grid. With a nil grid a new one is built from the
// image's size, scale and center and created is true.
func (di *DistanceImage) UpdateDistanceGrid(grid *DistanceGrid) (*DistanceGrid, bool, error) {
	if err := di.checkSize(); err != nil {
		return nil, false, err
	}
	created := false
	if grid == nil {
		grid = NewDistanceGrid(di.Width, di.Height)
		created = true
	} else if grid.Width() != di.Width || grid.Height() != di.Height {
		return nil, false, utils.NewDimensionMismatchError("distance grid",
			image.Pt(di.Width, di.Height), image.Pt(grid.Width(), grid.Height()))
	}
	grid.ScaleX, grid.ScaleY = di.ScaleX, di.ScaleY
	grid.CenterX, grid.CenterY = di.CenterX, di.CenterY
	grid.Time = di.Time
	for y := 0; y < di.Height; y++ {
		row := di.Data[y*di.Width : (y+1)*di.Width]
		for x, d := range row {
			grid.data.Set(y, x, float64(d))
		}
	}
	return grid, created, nil
}
