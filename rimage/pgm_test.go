package rimage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func TestReadPGM(t *testing.T) {
	data := "P5\n# written by hand\n3 2\n# max\n255\n" + string([]byte{0, 1, 2, 3, 4, 255})
	buf, err := ReadPGM(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.Size().X, test.ShouldEqual, 3)
	test.That(t, buf.Size().Y, test.ShouldEqual, 2)
	test.That(t, buf.Data(), test.ShouldResemble, []uint8{0, 1, 2, 3, 4, 255})

	// a sample value equal to a whitespace byte right after the header
	buf, err = ReadPGM(strings.NewReader("P5 1 1 200\n\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.At(0, 0), test.ShouldEqual, '\n')
}

func TestReadPGMRejects(t *testing.T) {
	for name, data := range map[string]string{
		"wrong magic":   "P2\n1 1\n255\n\x00",
		"maxval 16 bit": "P5\n1 1\n65535\n\x00\x00",
		"zero maxval":   "P5\n1 1\n0\n\x00",
		"short data":    "P5\n2 2\n255\n\x00\x01\x02",
		"bad width":     "P5\nx 2\n255\n",
		"zero height":   "P5\n2 0\n255\n",
		"empty":         "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadPGM(strings.NewReader(data))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestPGMRoundTrip(t *testing.T) {
	buf := NewBuffer[uint8](5, 4)
	for i := range buf.Data() {
		buf.Data()[i] = uint8(i * 13)
	}
	var out bytes.Buffer
	test.That(t, WritePGM(&out, buf), test.ShouldBeNil)
	test.That(t, strings.HasPrefix(out.String(), "P5\n5 4\n255\n"), test.ShouldBeTrue)

	back, err := ReadPGM(&out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Data(), test.ShouldResemble, buf.Data())
}

func TestPGMFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.pgm")
	buf := NewBuffer[uint8](2, 2)
	buf.Fill(128)
	test.That(t, WritePGMFile(path, buf), test.ShouldBeNil)

	back, err := ReadPGMFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Data(), test.ShouldResemble, buf.Data())

	_, err = ReadPGMFile(filepath.Join(dir, "missing.pgm"))
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	bad := filepath.Join(dir, "bad.pgm")
	test.That(t, os.WriteFile(bad, []byte("P5\n4 4\n255\nabc"), 0o600), test.ShouldBeNil)
	_, err = ReadPGMFile(bad)
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	err = WritePGMFile(filepath.Join(dir, "no", "such", "dir.pgm"), buf)
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)
}
