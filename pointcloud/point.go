package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector returns the position (x, y, z).
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data is what a point carries besides its position: the rgb field of a colored PCD file, or the
// row-major index of the distance image pixel the point was reconstructed from.
type Data interface {
	HasColor() bool
	RGB255() (uint8, uint8, uint8)

	HasPixel() bool
	Pixel() int
}

const (
	colorSet uint8 = 1 << iota
	pixelSet
)

type pointData struct {
	flags uint8
	rgb   [3]uint8
	pixel int
}

// NewBasicData returns data for a bare position.
func NewBasicData() Data {
	return &pointData{}
}

// NewColoredData returns data for a point read with an rgb field. Alpha is dropped.
func NewColoredData(c color.NRGBA) Data {
	return &pointData{flags: colorSet, rgb: [3]uint8{c.R, c.G, c.B}}
}

// NewPixelData returns data for a point reconstructed from the distance image pixel at index.
func NewPixelData(index int) Data {
	return &pointData{flags: pixelSet, pixel: index}
}

func (d *pointData) HasColor() bool {
	return d.flags&colorSet != 0
}

func (d *pointData) RGB255() (uint8, uint8, uint8) {
	return d.rgb[0], d.rgb[1], d.rgb[2]
}

func (d *pointData) HasPixel() bool {
	return d.flags&pixelSet != 0
}

func (d *pointData) Pixel() int {
	return d.pixel
}
