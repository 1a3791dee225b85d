package utils

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Number is any fixed size sample type that can be stored with StoreVector.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// maxVectorLen guards against allocating from a corrupt length prefix.
const maxVectorLen = 1 << 30

// StoreVector writes the length of v as a little endian uint64 followed by its elements.
func StoreVector[T Number](out io.Writer, v []T) error {
	if err := binary.Write(out, binary.LittleEndian, uint64(len(v))); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, v)
}

// LoadVector reads a vector written by StoreVector.
func LoadVector[T Number](in io.Reader) ([]T, error) {
	var n uint64
	if err := binary.Read(in, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxVectorLen {
		return nil, errors.Errorf("vector length %d too large", n)
	}
	v := make([]T, n)
	if err := binary.Read(in, binary.LittleEndian, v); err != nil {
		return nil, errors.Wrapf(err, "reading %d elements", n)
	}
	return v, nil
}
