package transform

import (
	"fmt"
	"image"
	"math"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// CalibrationParameters are the persisted scalars of a stereo calibration. Suffix 1 is the left
// camera, suffix 2 the right one. D0..D3 are the k1, k2, p1, p2 distortion coefficients and
// tx..rz place the right camera relative to the left (rotation as a Rodrigues vector).
type CalibrationParameters struct {
	Fx1 float64 `json:"fx1" yaml:"fx1"`
	Fy1 float64 `json:"fy1" yaml:"fy1"`
	Cx1 float64 `json:"cx1" yaml:"cx1"`
	Cy1 float64 `json:"cy1" yaml:"cy1"`
	D01 float64 `json:"d01" yaml:"d01"`
	D11 float64 `json:"d11" yaml:"d11"`
	D21 float64 `json:"d21" yaml:"d21"`
	D31 float64 `json:"d31" yaml:"d31"`

	Fx2 float64 `json:"fx2" yaml:"fx2"`
	Fy2 float64 `json:"fy2" yaml:"fy2"`
	Cx2 float64 `json:"cx2" yaml:"cx2"`
	Cy2 float64 `json:"cy2" yaml:"cy2"`
	D02 float64 `json:"d02" yaml:"d02"`
	D12 float64 `json:"d12" yaml:"d12"`
	D22 float64 `json:"d22" yaml:"d22"`
	D32 float64 `json:"d32" yaml:"d32"`

	Tx float64 `json:"tx" yaml:"tx"`
	Ty float64 `json:"ty" yaml:"ty"`
	Tz float64 `json:"tz" yaml:"tz"`
	Rx float64 `json:"rx" yaml:"rx"`
	Ry float64 `json:"ry" yaml:"ry"`
	Rz float64 `json:"rz" yaml:"rz"`
}

// CalibrationFields lists the keys of a persisted calibration node. All of them are required.
var CalibrationFields = []string{
	"fx1", "fy1", "cx1", "cy1", "d01", "d11", "d21", "d31",
	"fx2", "fy2", "cx2", "cy2", "d02", "d12", "d22", "d32",
	"tx", "ty", "tz", "rx", "ry", "rz",
}

// Optional node keys carrying the calibrated image size.
const (
	ImageWidthKey  = "image_width"
	ImageHeightKey = "image_height"
)

// CameraCalibration is the intrinsic calibration of a single camera.
type CameraCalibration struct {
	Fx, Fy, Cx, Cy float64
	D0, D1, D2, D3 float64
	Width, Height  int
}

// ExtrinsicCalibration places the right camera relative to the left one.
type ExtrinsicCalibration struct {
	Tx, Ty, Tz float64
	Rx, Ry, Rz float64
}

// StereoCameraCalibration is a complete calibration record of a camera pair.
type StereoCameraCalibration struct {
	CamLeft   CameraCalibration
	CamRight  CameraCalibration
	Extrinsic ExtrinsicCalibration
}

// NewCalibrationParameters copies the scalars out of a calibration record.
func NewCalibrationParameters(rec StereoCameraCalibration) *CalibrationParameters {
	l, r, e := rec.CamLeft, rec.CamRight, rec.Extrinsic
	return &CalibrationParameters{
		Fx1: l.Fx, Fy1: l.Fy, Cx1: l.Cx, Cy1: l.Cy, D01: l.D0, D11: l.D1, D21: l.D2, D31: l.D3,
		Fx2: r.Fx, Fy2: r.Fy, Cx2: r.Cx, Cy2: r.Cy, D02: r.D0, D12: r.D1, D22: r.D2, D32: r.D3,
		Tx: e.Tx, Ty: e.Ty, Tz: e.Tz, Rx: e.Rx, Ry: e.Ry, Rz: e.Rz,
	}
}

// DecodeCalibrationNode decodes a structured calibration node. Every field of CalibrationFields
// must be present and numeric; other keys are ignored.
func DecodeCalibrationNode(node map[string]interface{}) (*CalibrationParameters, error) {
	if node == nil {
		return nil, utils.NewConfigurationFieldError(CalibrationFields[0], "is missing")
	}
	for _, field := range CalibrationFields {
		v, ok := node[field]
		if !ok || v == nil {
			return nil, utils.NewConfigurationFieldError(field, "is missing")
		}
		if !isNumber(v) {
			return nil, utils.NewConfigurationFieldError(field, fmt.Sprintf("is not a number (%v)", v))
		}
	}

	var params CalibrationParameters
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &params,
	})
	if err != nil {
		return nil, utils.NewConfigurationCorruptError("calibration node", err)
	}
	if err := decoder.Decode(node); err != nil {
		return nil, utils.NewConfigurationCorruptError("calibration node", err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &params, nil
}

// DecodeImageSize reads the optional image size keys of a node. ok is false when the node does
// not carry a size.
func DecodeImageSize(node map[string]interface{}) (size image.Point, ok bool, err error) {
	w, hasW := node[ImageWidthKey]
	h, hasH := node[ImageHeightKey]
	if !hasW && !hasH {
		return image.Point{}, false, nil
	}
	var dims struct {
		Width  int
		Height int
	}
	if err := mapstructure.Decode(map[string]interface{}{"Width": w, "Height": h}, &dims); err != nil {
		return image.Point{}, false, utils.NewConfigurationCorruptError("image size", err)
	}
	if dims.Width <= 0 {
		return image.Point{}, false, utils.NewConfigurationFieldError(ImageWidthKey, "must be a positive integer")
	}
	if dims.Height <= 0 {
		return image.Point{}, false, utils.NewConfigurationFieldError(ImageHeightKey, "must be a positive integer")
	}
	return image.Pt(dims.Width, dims.Height), true, nil
}

func isNumber(v interface{}) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Validate checks that every scalar is finite and that all focal lengths are positive.
func (p *CalibrationParameters) Validate() error {
	if p == nil {
		return utils.NewError(utils.ErrConfigurationUnavailable, nil, "no calibration parameters")
	}
	values := p.values()
	for i, field := range CalibrationFields {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return utils.NewConfigurationFieldError(field, fmt.Sprintf("is not finite (%v)", values[i]))
		}
	}
	for _, i := range []int{0, 1, 8, 9} {
		if values[i] <= 0 {
			return utils.NewConfigurationFieldError(CalibrationFields[i], fmt.Sprintf("must be positive, got %v", values[i]))
		}
	}
	return nil
}

// values returns the scalars in CalibrationFields order.
func (p *CalibrationParameters) values() []float64 {
	return []float64{
		p.Fx1, p.Fy1, p.Cx1, p.Cy1, p.D01, p.D11, p.D21, p.D31,
		p.Fx2, p.Fy2, p.Cx2, p.Cy2, p.D02, p.D12, p.D22, p.D32,
		p.Tx, p.Ty, p.Tz, p.Rx, p.Ry, p.Rz,
	}
}

// Node returns the parameters as a structured node accepted by DecodeCalibrationNode.
func (p *CalibrationParameters) Node() map[string]interface{} {
	node := make(map[string]interface{}, len(CalibrationFields))
	for i, v := range p.values() {
		node[CalibrationFields[i]] = v
	}
	return node
}

// Intrinsics returns the pinhole model of the left or right camera for the given image size.
func (p *CalibrationParameters) Intrinsics(right bool, size image.Point) *PinholeCameraIntrinsics {
	if right {
		return &PinholeCameraIntrinsics{Width: size.X, Height: size.Y, Fx: p.Fx2, Fy: p.Fy2, Ppx: p.Cx2, Ppy: p.Cy2}
	}
	return &PinholeCameraIntrinsics{Width: size.X, Height: size.Y, Fx: p.Fx1, Fy: p.Fy1, Ppx: p.Cx1, Ppy: p.Cy1}
}

// Distortion returns the lens model of the left or right camera.
func (p *CalibrationParameters) Distortion(right bool) *BrownConrady {
	if right {
		return &BrownConrady{RadialK1: p.D02, RadialK2: p.D12, TangentialP1: p.D22, TangentialP2: p.D32}
	}
	return &BrownConrady{RadialK1: p.D01, RadialK2: p.D11, TangentialP1: p.D21, TangentialP2: p.D31}
}

// Rotation returns the 3x3 rotation of the right camera relative to the left.
func (p *CalibrationParameters) Rotation() *mat.Dense {
	return Rodrigues(r3.Vector{X: p.Rx, Y: p.Ry, Z: p.Rz})
}

// Translation returns the position of the right camera in the left camera frame.
func (p *CalibrationParameters) Translation() r3.Vector {
	return r3.Vector{X: p.Tx, Y: p.Ty, Z: p.Tz}
}

// StereoCameraCalibration returns the parameters as a calibration record of the given image size.
func (p *CalibrationParameters) StereoCameraCalibration(size image.Point) StereoCameraCalibration {
	return StereoCameraCalibration{
		CamLeft: CameraCalibration{
			Fx: p.Fx1, Fy: p.Fy1, Cx: p.Cx1, Cy: p.Cy1, D0: p.D01, D1: p.D11, D2: p.D21, D3: p.D31,
			Width: size.X, Height: size.Y,
		},
		CamRight: CameraCalibration{
			Fx: p.Fx2, Fy: p.Fy2, Cx: p.Cx2, Cy: p.Cy2, D0: p.D02, D1: p.D12, D2: p.D22, D3: p.D32,
			Width: size.X, Height: size.Y,
		},
		Extrinsic: ExtrinsicCalibration{Tx: p.Tx, Ty: p.Ty, Tz: p.Tz, Rx: p.Rx, Ry: p.Ry, Rz: p.Rz},
	}
}
