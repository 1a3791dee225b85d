package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// PCDType is the data encoding of a PCD file.
type PCDType int

// The supported PCD encodings.
const (
	PCDAscii PCDType = iota
	PCDBinary
)

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 0
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 255}
}

// ToPCD writes the cloud in the point cloud library PCD v0.7 format. Coordinates are written
// unscaled.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	fields := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n"
	if hasColor {
		fields = "FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F U\nCOUNT 1 1 1 1\n"
	}
	data := "ascii"
	if outputType == PCDBinary {
		data = "binary"
	}
	if _, err := fmt.Fprintf(out,
		"VERSION .7\n%sWIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		fields, cloud.Size(), cloud.Size(), data); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 16)
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(d))
				n = 16
			}
			_, err = out.Write(buf[:n])
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%g %g %g %d\n", float32(p.X), float32(p.Y), float32(p.Z), colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%g %g %g\n", float32(p.X), float32(p.Y), float32(p.Z))
			}
		}
		return err == nil
	})
	return err
}

// WritePCDFile writes the cloud to path. Failures are reported as ErrIO.
func WritePCDFile(path string, cloud PointCloud, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return utils.NewIOError(path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = multierr.Combine(err, utils.NewIOError(path, closeErr))
		}
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return utils.NewIOError(path, err)
	}
	if err := w.Flush(); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}

type pcdHeader struct {
	fields []string
	points int
	data   string
}

// ReadPCD reads a PCD file with x y z and optional rgb fields, as written by ToPCD.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	in := bufio.NewReader(inRaw)
	var header pcdHeader
	for header.data == "" {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading pcd header")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "FIELDS":
			header.fields = parts[1:]
		case "POINTS":
			if len(parts) != 2 {
				return nil, errors.Errorf("bad POINTS line %q", line)
			}
			if header.points, err = strconv.Atoi(parts[1]); err != nil {
				return nil, errors.Wrap(err, "parsing POINTS")
			}
		case "DATA":
			if len(parts) != 2 {
				return nil, errors.Errorf("bad DATA line %q", line)
			}
			header.data = parts[1]
		}
	}
	hasColor := len(header.fields) == 4 && header.fields[3] == "rgb"
	if len(header.fields) < 3 || header.fields[0] != "x" || header.fields[1] != "y" || header.fields[2] != "z" ||
		(len(header.fields) == 4 && !hasColor) || len(header.fields) > 4 {
		return nil, errors.Errorf("unsupported fields %v", header.fields)
	}

	cloud := NewWithPrealloc(header.points)
	set := func(x, y, z float32, c uint32) error {
		d := NewBasicData()
		if hasColor {
			d = NewColoredData(pcdIntToColor(c))
		}
		return cloud.Set(r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}, d)
	}
	switch header.data {
	case "ascii":
		for i := 0; i < header.points; i++ {
			line, err := in.ReadString('\n')
			if err != nil && (err != io.EOF || line == "") {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			vals := strings.Fields(line)
			if len(vals) != len(header.fields) {
				return nil, errors.Errorf("point %d has %d values, expected %d", i, len(vals), len(header.fields))
			}
			var xyz [3]float32
			for j := range xyz {
				f, err := strconv.ParseFloat(vals[j], 32)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing point %d", i)
				}
				xyz[j] = float32(f)
			}
			var c uint64
			if hasColor {
				if c, err = strconv.ParseUint(vals[3], 10, 32); err != nil {
					return nil, errors.Wrapf(err, "parsing color of point %d", i)
				}
			}
			if err := set(xyz[0], xyz[1], xyz[2], uint32(c)); err != nil {
				return nil, err
			}
		}
	case "binary":
		buf := make([]byte, 4*len(header.fields))
		for i := 0; i < header.points; i++ {
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			var c uint32
			if hasColor {
				c = binary.LittleEndian.Uint32(buf[12:])
			}
			if err := set(
				math.Float32frombits(binary.LittleEndian.Uint32(buf)),
				math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
				math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
				c); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("unsupported pcd data encoding %q", header.data)
	}
	return cloud, nil
}

// ReadPCDFile reads a PCD file from path.
func ReadPCDFile(path string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	cloud, err := ReadPCD(f)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	return cloud, nil
}
