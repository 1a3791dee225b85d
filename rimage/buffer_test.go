package rimage

import (
	"bytes"
	"testing"

	"go.viam.com/test"
)

func TestBufferInvariant(t *testing.T) {
	for _, size := range [][2]int{{0, 0}, {1, 1}, {7, 3}, {640, 480}} {
		b := NewBuffer[float32](size[0], size[1])
		test.That(t, len(b.Data()), test.ShouldEqual, size[0]*size[1])
		test.That(t, b.Width(), test.ShouldEqual, size[0])
		test.That(t, b.Height(), test.ShouldEqual, size[1])
	}

	_, err := NewBufferFromData(3, 2, []uint8{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, func() { NewBuffer[uint8](-1, 2) }, test.ShouldPanic)
}

func TestBufferAccess(t *testing.T) {
	b := NewBuffer[uint16](4, 3)
	b.Set(3, 2, 700)
	b.Set(0, 1, 5)
	test.That(t, b.At(3, 2), test.ShouldEqual, 700)
	test.That(t, b.Data()[11], test.ShouldEqual, 700)
	test.That(t, b.Row(1)[0], test.ShouldEqual, 5)
	test.That(t, len(b.Row(2)), test.ShouldEqual, 4)
	test.That(t, cap(b.Row(0)), test.ShouldEqual, 4)

	b.Row(0)[2] = 9
	test.That(t, b.At(2, 0), test.ShouldEqual, 9)

	test.That(t, b.In(3, 2), test.ShouldBeTrue)
	test.That(t, b.In(4, 2), test.ShouldBeFalse)
	test.That(t, b.In(0, -1), test.ShouldBeFalse)

	minV, maxV := b.MinMax()
	test.That(t, minV, test.ShouldEqual, 0)
	test.That(t, maxV, test.ShouldEqual, 700)
}

func TestBufferCloneIsIndependent(t *testing.T) {
	b := NewBuffer[float64](2, 2)
	b.Fill(1.5)
	c := b.Clone()
	c.Set(0, 0, -3)
	test.That(t, b.At(0, 0), test.ShouldEqual, 1.5)
	test.That(t, c.At(0, 0), test.ShouldEqual, -3)
	test.That(t, c.At(1, 1), test.ShouldEqual, 1.5)
}

func TestBufferStoreLoad(t *testing.T) {
	b := NewBuffer[float32](3, 2)
	for i := range b.Data() {
		b.Data()[i] = float32(i) * 0.25
	}
	var out bytes.Buffer
	test.That(t, b.Store(&out), test.ShouldBeNil)

	loaded, err := LoadBuffer[float32](&out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Size(), test.ShouldResemble, b.Size())
	test.That(t, loaded.Data(), test.ShouldResemble, b.Data())

	_, err = LoadBuffer[float32](bytes.NewReader([]byte{1, 2}))
	test.That(t, err, test.ShouldNotBeNil)
}
