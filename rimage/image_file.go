package rimage

import (
	"bufio"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func init() {
	image.RegisterFormat("pgm", pgmMagic, decodePGM, decodePGMConfig)
}

func decodePGM(r io.Reader) (image.Image, error) {
	buf, err := ReadPGM(r)
	if err != nil {
		return nil, err
	}
	return GrayImage(buf), nil
}

func decodePGMConfig(r io.Reader) (image.Config, error) {
	br := bufio.NewReader(r)
	if tok, err := readPNMToken(br); err != nil || tok != pgmMagic {
		return image.Config{}, errors.New("not a binary gray map")
	}
	var dims [2]int
	for i := range dims {
		tok, err := readPNMToken(br)
		if err != nil {
			return image.Config{}, err
		}
		dims[i], err = strconv.Atoi(tok)
		if err != nil {
			return image.Config{}, err
		}
	}
	return image.Config{ColorModel: color.GrayModel, Width: dims[0], Height: dims[1]}, nil
}

// ReadImageFile decodes a PNG, JPEG, BMP, TIFF, PPM or PGM file. Paletted images are expanded
// to RGBA.
func ReadImageFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	if pal, ok := img.(*image.Paletted); ok {
		rgba := image.NewRGBA(pal.Rect)
		draw.Draw(rgba, rgba.Rect, pal, pal.Rect.Min, draw.Src)
		return rgba, nil
	}
	return img, nil
}

// WriteImageFile encodes img according to the extension of path. Binary gray and pixel maps
// (.pgm, .ppm) are written directly, everything else goes through the formats imaging knows.
func WriteImageFile(path string, img image.Image) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(io.Writer, image.Image) error
	switch ext {
	case ".pgm":
		encode = func(w io.Writer, img image.Image) error {
			buf, err := ToGray(img)
			if err != nil {
				return err
			}
			return WritePGM(w, buf)
		}
	case ".ppm":
		// ppm only encodes color models, gray frames are widened first.
		encode = func(w io.Writer, img image.Image) error {
			return ppm.Encode(w, imaging.Clone(img))
		}
	default:
		format, err := imaging.FormatFromExtension(ext)
		if err != nil {
			return utils.NewIOError(path, errors.Wrapf(err, "do not know how to encode %q files", ext))
		}
		encode = func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, format, imaging.JPEGQuality(95))
		}
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return utils.NewIOError(path, err)
	}
	defer func() {
		err = multierr.Combine(err, closeAsIOError(path, f))
	}()
	bw := bufio.NewWriter(f)
	if err := encode(bw, img); err != nil {
		return utils.NewIOError(path, err)
	}
	if err := bw.Flush(); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}
