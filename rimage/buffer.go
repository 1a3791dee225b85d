// Package rimage holds the owning pixel buffers that move image data between pipeline stages,
// along with grayscale conversion, the PGM file format and the remap primitive.
package rimage

import (
	"image"
	"io"

	"github.com/pkg/errors"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Sample is the set of pixel sample types a Buffer can hold.
type Sample interface {
	~uint8 | ~uint16 | ~float32 | ~float64
}

// Buffer is an exclusively owned, fixed size, row-major width x height array of samples.
// A Buffer is never resized; a different size needs a new Buffer.
type Buffer[T Sample] struct {
	width, height int
	data          []T
}

// NewBuffer returns a zeroed buffer of the given size.
func NewBuffer[T Sample](width, height int) *Buffer[T] {
	if width < 0 || height < 0 {
		panic(errors.Errorf("invalid buffer size %dx%d", width, height))
	}
	return &Buffer[T]{width: width, height: height, data: make([]T, width*height)}
}

// NewBufferFromData takes ownership of data as a width x height buffer.
func NewBufferFromData[T Sample](width, height int, data []T) (*Buffer[T], error) {
	if width < 0 || height < 0 || len(data) != width*height {
		return nil, errors.Errorf("data of length %d cannot back a %dx%d buffer", len(data), width, height)
	}
	return &Buffer[T]{width: width, height: height, data: data}, nil
}

// Width returns the number of columns.
func (b *Buffer[T]) Width() int {
	return b.width
}

// Height returns the number of rows.
func (b *Buffer[T]) Height() int {
	return b.height
}

// Size returns the width and height as a point.
func (b *Buffer[T]) Size() image.Point {
	return image.Pt(b.width, b.height)
}

// Bounds returns the rectangle covered by the buffer.
func (b *Buffer[T]) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.width, b.height)
}

// In reports whether (x, y) addresses a sample.
func (b *Buffer[T]) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

func (b *Buffer[T]) kxy(x, y int) int {
	return (y * b.width) + x
}

// At returns the sample at (x, y).
func (b *Buffer[T]) At(x, y int) T {
	return b.data[b.kxy(x, y)]
}

// Set stores the sample at (x, y).
func (b *Buffer[T]) Set(x, y int, v T) {
	b.data[b.kxy(x, y)] = v
}

// Row returns the samples of row y. The slice aliases the buffer.
func (b *Buffer[T]) Row(y int) []T {
	start := b.kxy(0, y)
	return b.data[start : start+b.width : start+b.width]
}

// Data returns all samples in row-major order. The slice aliases the buffer.
func (b *Buffer[T]) Data() []T {
	return b.data
}

// Fill sets every sample to v.
func (b *Buffer[T]) Fill(v T) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Clone returns a deep copy that shares no storage with b.
func (b *Buffer[T]) Clone() *Buffer[T] {
	data := make([]T, len(b.data))
	copy(data, b.data)
	return &Buffer[T]{width: b.width, height: b.height, data: data}
}

// MinMax returns the smallest and largest sample. Both are zero for an empty buffer.
func (b *Buffer[T]) MinMax() (T, T) {
	var minV, maxV T
	for i, v := range b.data {
		if i == 0 || v < minV {
			minV = v
		}
		if i == 0 || v > maxV {
			maxV = v
		}
	}
	return minV, maxV
}

// Store writes the buffer as its dimensions followed by the sample vector, all little endian.
func (b *Buffer[T]) Store(out io.Writer) error {
	if err := utils.StoreVector(out, []uint32{uint32(b.width), uint32(b.height)}); err != nil {
		return err
	}
	return utils.StoreVector(out, b.data)
}

// LoadBuffer reads a buffer written by Store.
func LoadBuffer[T Sample](in io.Reader) (*Buffer[T], error) {
	dims, err := utils.LoadVector[uint32](in)
	if err != nil {
		return nil, errors.Wrap(err, "reading buffer dimensions")
	}
	if len(dims) != 2 {
		return nil, errors.Errorf("expected 2 dimensions but got %d", len(dims))
	}
	data, err := utils.LoadVector[T](in)
	if err != nil {
		return nil, errors.Wrap(err, "reading buffer samples")
	}
	return NewBufferFromData(int(dims[0]), int(dims[1]), data)
}
