package rimage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// pgmMagic identifies a binary 8-bit gray map.
const pgmMagic = "P5"

// maxPGMDim bounds the dimensions accepted from a header.
const maxPGMDim = 1 << 15

// ReadPGM decodes a binary (P5) gray map with a maximum sample value of at most 255.
func ReadPGM(r io.Reader) (*Buffer[uint8], error) {
	br := bufio.NewReader(r)

	magic, err := readPNMToken(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if magic != pgmMagic {
		return nil, errors.Errorf("unexpected magic %q, expected %q", magic, pgmMagic)
	}

	var header [3]int
	for i, name := range []string{"width", "height", "maximum value"} {
		tok, err := readPNMToken(br)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		header[i], err = strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", name)
		}
	}
	width, height, maxVal := header[0], header[1], header[2]
	if width <= 0 || height <= 0 || width > maxPGMDim || height > maxPGMDim {
		return nil, errors.Errorf("bad width or height %dx%d", width, height)
	}
	if maxVal <= 0 || maxVal > 255 {
		return nil, errors.Errorf("maximum value %d does not fit 8 bits", maxVal)
	}

	buf := NewBuffer[uint8](width, height)
	if _, err := io.ReadFull(br, buf.Data()); err != nil {
		return nil, errors.Wrapf(err, "reading %dx%d samples", width, height)
	}
	return buf, nil
}

// readPNMToken skips whitespace and '#' comment lines, then returns the next token and consumes
// the single whitespace byte that ends it.
func readPNMToken(br *bufio.Reader) (string, error) {
	var c byte
	var err error
	for {
		c, err = br.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '#' {
			if _, err := br.ReadString('\n'); err != nil {
				return "", err
			}
			continue
		}
		if !isPNMSpace(c) {
			break
		}
	}
	tok := []byte{c}
	for {
		c, err = br.ReadByte()
		if err != nil {
			return "", err
		}
		if isPNMSpace(c) {
			return string(tok), nil
		}
		tok = append(tok, c)
	}
}

func isPNMSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// WritePGM encodes buf as a binary gray map with maximum value 255.
func WritePGM(w io.Writer, buf *Buffer[uint8]) error {
	if _, err := fmt.Fprintf(w, "%s\n%d %d\n%d\n", pgmMagic, buf.Width(), buf.Height(), 255); err != nil {
		return err
	}
	_, err := w.Write(buf.Data())
	return err
}

// ReadPGMFile reads a gray map from path. Failures are reported as ErrIO.
func ReadPGMFile(path string) (*Buffer[uint8], error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	buf, err := ReadPGM(f)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	return buf, nil
}

// WritePGMFile writes buf to path, replacing any existing file. Failures are reported as ErrIO.
func WritePGMFile(path string, buf *Buffer[uint8]) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return utils.NewIOError(path, err)
	}
	defer func() {
		err = multierr.Combine(err, closeAsIOError(path, f))
	}()
	bw := bufio.NewWriter(f)
	if err := WritePGM(bw, buf); err != nil {
		return utils.NewIOError(path, err)
	}
	if err := bw.Flush(); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}

func closeAsIOError(path string, c io.Closer) error {
	if err := c.Close(); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}
