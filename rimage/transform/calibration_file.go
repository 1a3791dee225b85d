package transform

import (
	"bufio"
	"image"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// calibrationDocument is the YAML layout of a saved calibration: the node scalars at the top
// level followed by the matrices derived from them. Only the scalars are read back.
type calibrationDocument struct {
	CalibrationParameters `yaml:",inline"`
	ImageWidth            int              `yaml:"image_width,omitempty"`
	ImageHeight           int              `yaml:"image_height,omitempty"`
	Derived               *derivedMatrices `yaml:"derived,omitempty"`
}

type derivedMatrices struct {
	CameraMatrixLeft  [][]float64 `yaml:"camera_matrix_left,flow"`
	CameraMatrixRight [][]float64 `yaml:"camera_matrix_right,flow"`
	DistortionLeft    []float64   `yaml:"distortion_left,flow"`
	DistortionRight   []float64   `yaml:"distortion_right,flow"`
	Rotation          [][]float64 `yaml:"rotation,flow"`
	Translation       []float64   `yaml:"translation,flow"`
	R1                [][]float64 `yaml:"r1,flow,omitempty"`
	R2                [][]float64 `yaml:"r2,flow,omitempty"`
	P1                [][]float64 `yaml:"p1,flow,omitempty"`
	P2                [][]float64 `yaml:"p2,flow,omitempty"`
	Q                 [][]float64 `yaml:"q,flow,omitempty"`
}

func rows(m mat.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// ReadCalibrationNode reads the calibration node stored in a YAML file, under key when key is
// not empty. A missing file, an empty document or a missing key is ErrConfigurationUnavailable;
// malformed YAML is ErrConfigurationCorrupt.
func ReadCalibrationNode(path, key string) (map[string]interface{}, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.NewConfigurationUnavailableError(path, err)
		}
		return nil, utils.NewIOError(path, err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, utils.NewConfigurationCorruptError(path, err)
	}
	if len(doc) == 0 {
		return nil, utils.NewConfigurationUnavailableError(path, errors.New("empty document"))
	}
	if key == "" {
		return doc, nil
	}
	sub, ok := doc[key]
	if !ok {
		return nil, utils.NewConfigurationUnavailableError(path, errors.Errorf("no key %q", key))
	}
	node, ok := sub.(map[string]interface{})
	if !ok {
		return nil, utils.NewConfigurationCorruptError(path, errors.Errorf("key %q does not hold a mapping", key))
	}
	return node, nil
}

// WriteCalibrationFile writes params, the image size when known and the derived matrices to path,
// replacing any existing file. rect may be nil when no rectification has been computed.
func WriteCalibrationFile(path string, params *CalibrationParameters, size image.Point, rect *StereoRectification) (err error) {
	doc := calibrationDocument{
		CalibrationParameters: *params,
		ImageWidth:            size.X,
		ImageHeight:           size.Y,
		Derived: &derivedMatrices{
			CameraMatrixLeft:  rows(params.Intrinsics(false, size).GetCameraMatrix()),
			CameraMatrixRight: rows(params.Intrinsics(true, size).GetCameraMatrix()),
			DistortionLeft:    params.Distortion(false).Parameters(),
			DistortionRight:   params.Distortion(true).Parameters(),
			Rotation:          rows(params.Rotation()),
			Translation:       []float64{params.Tx, params.Ty, params.Tz},
		},
	}
	if rect != nil {
		doc.Derived.R1 = rows(rect.R1)
		doc.Derived.R2 = rows(rect.R2)
		doc.Derived.P1 = rows(rect.P1)
		doc.Derived.P2 = rows(rect.P2)
		doc.Derived.Q = rows(rect.Q)
	}

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

	bw := bufio.NewWriter(f)
	enc := yaml.NewEncoder(bw)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return utils.NewIOError(path, err)
	}
	if err := enc.Close(); err != nil {
		return utils.NewIOError(path, err)
	}
	if err := bw.Flush(); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}
