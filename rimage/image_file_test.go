package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	img.SetGray(1, 2, color.Gray{Y: 99})

	for _, name := range []string{"a.png", "a.bmp", "a.tiff", "a.ppm", "a.pgm"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			test.That(t, WriteImageFile(path, img), test.ShouldBeNil)
			back, err := ReadImageFile(path)
			test.That(t, err, test.ShouldBeNil)
			buf, err := ToGray(back)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, buf.At(1, 2), test.ShouldEqual, 99)
			test.That(t, buf.At(0, 0), test.ShouldEqual, 0)
		})
	}

	gray16 := image.NewGray16(image.Rect(0, 0, 2, 1))
	gray16.SetGray16(1, 0, color.Gray16{Y: 0xffff})
	ppmPath := filepath.Join(dir, "wide.ppm")
	test.That(t, WriteImageFile(ppmPath, gray16), test.ShouldBeNil)
	back, err := ReadImageFile(ppmPath)
	test.That(t, err, test.ShouldBeNil)
	buf, err := ToGray(back)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.At(1, 0), test.ShouldEqual, 255)

	err = WriteImageFile(filepath.Join(dir, "a.xyz"), img)
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)

	_, err = ReadImageFile(filepath.Join(dir, "nope.png"))
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)
}
