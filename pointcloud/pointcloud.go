// Package pointcloud defines a point cloud and provides an implementation for one.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasPixel bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge extends the meta data by a point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasPixel() {
			meta.HasPixel = true
		}
	}
	meta.MinX, meta.MaxX = math.Min(meta.MinX, v.X), math.Max(meta.MaxX, v.X)
	meta.MinY, meta.MaxY = math.Min(meta.MinY, v.Y), math.Max(meta.MaxY, v.Y)
	meta.MinZ, meta.MaxZ = math.Min(meta.MinZ, v.Z), math.Max(meta.MaxZ, v.Z)
}

// PointCloud is a general purpose container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud, replacing the data of a point already there.
	Set(p r3.Vector, d Data) error

	// At returns the data of the point at the given position and whether it exists.
	At(x, y, z float64) (Data, bool)

	// Iterate calls fn for every point in insertion order until fn returns false.
	Iterate(fn func(p r3.Vector, d Data) bool)
}

// PointAndData is a point with its data.
type PointAndData struct {
	P r3.Vector
	D Data
}

type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]int
	meta     MetaData
}

// New returns an empty PointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PointCloud with room for size points.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]int, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	i, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.points[i].D, true
}

// Set rejects points that cannot be stored as a map key.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
		return errors.Errorf("cannot store point with NaN coordinate %v", p)
	}
	if i, ok := cloud.indexMap[p]; ok {
		cloud.points[i].D = d
		cloud.meta.Merge(p, d)
		return nil
	}
	cloud.indexMap[p] = len(cloud.points)
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(fn func(p r3.Vector, d Data) bool) {
	for _, pd := range cloud.points {
		if !fn(pd.P, pd.D) {
			return
		}
	}
}
