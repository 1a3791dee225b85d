package transform

import (
	"context"
	"fmt"
	"image"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// StoreState is the lifecycle state of a CalibrationStore.
type StoreState int

// The states of a CalibrationStore.
const (
	// Unloaded holds no parameters.
	Unloaded StoreState = iota
	// Loaded holds parameters but no rectification maps for them.
	Loaded
	// MapsReady holds parameters and the maps computed from them.
	MapsReady
)

func (s StoreState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case MapsReady:
		return "maps_ready"
	default:
		return fmt.Sprintf("StoreState(%d)", int(s))
	}
}

// CalibrationStore owns the calibration of a camera pair and the rectification maps derived
// from it. Maps are only valid for the parameters they were computed from: every load drops
// them. A failed load leaves the store Unloaded. The store is not safe for concurrent use.
type CalibrationStore struct {
	logger   logging.Logger
	source   ParameterSource
	mapper   RectifyMapper
	remapper rimage.Remapper

	size   image.Point
	params *CalibrationParameters
	maps   *RectificationMaps
}

// StoreOption configures a CalibrationStore.
type StoreOption func(*CalibrationStore)

// WithParameterSource sets where LoadParameters reads from.
func WithParameterSource(src ParameterSource) StoreOption {
	return func(s *CalibrationStore) {
		s.source = src
	}
}

// WithImageSize sets the size of the frames the calibration applies to.
func WithImageSize(width, height int) StoreOption {
	return func(s *CalibrationStore) {
		s.size = image.Pt(width, height)
	}
}

// WithRectifyMapper replaces the map computation.
func WithRectifyMapper(m RectifyMapper) StoreOption {
	return func(s *CalibrationStore) {
		s.mapper = m
	}
}

// WithRemapper replaces the remap primitive used by the computed maps.
func WithRemapper(r rimage.Remapper) StoreOption {
	return func(s *CalibrationStore) {
		s.remapper = r
	}
}

// NewCalibrationStore returns an Unloaded store. Without WithParameterSource it reads the
// default calibration file.
func NewCalibrationStore(logger logging.Logger, opts ...StoreOption) *CalibrationStore {
	s := &CalibrationStore{
		logger:   logger,
		source:   NewDefaultFileParameterSource(),
		mapper:   BouguetMapper{},
		remapper: rimage.BilinearRemapper,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the lifecycle state.
func (s *CalibrationStore) State() StoreState {
	switch {
	case s.params == nil:
		return Unloaded
	case s.maps == nil:
		return Loaded
	default:
		return MapsReady
	}
}

// Parameters returns a copy of the loaded parameters.
func (s *CalibrationStore) Parameters() (CalibrationParameters, bool) {
	if s.params == nil {
		return CalibrationParameters{}, false
	}
	return *s.params, true
}

// ImageSize returns the frame size the calibration applies to.
func (s *CalibrationStore) ImageSize() image.Point {
	return s.size
}

// SetImageSize changes the frame size and drops any computed maps.
func (s *CalibrationStore) SetImageSize(width, height int) {
	if s.size == image.Pt(width, height) {
		return
	}
	s.size = image.Pt(width, height)
	s.maps = nil
}

// Source returns where LoadParameters reads from.
func (s *CalibrationStore) Source() ParameterSource {
	return s.source
}

// SetParameterSource changes where LoadParameters reads from. Loaded parameters are kept.
func (s *CalibrationStore) SetParameterSource(src ParameterSource) {
	s.source = src
}

func (s *CalibrationStore) reset() {
	s.params = nil
	s.maps = nil
}

func (s *CalibrationStore) adopt(params *CalibrationParameters, origin string) {
	s.params = params
	s.maps = nil
	s.logger.Debugw("calibration loaded", "source", origin, "width", s.size.X, "height", s.size.Y)
}

// LoadParameters loads the calibration from the store's parameter source.
func (s *CalibrationStore) LoadParameters(ctx context.Context) error {
	if s.source == nil {
		s.reset()
		return utils.NewConfigurationUnavailableError("<none>", nil)
	}
	node, err := s.source.LoadCalibrationNode(ctx)
	if err != nil {
		s.reset()
		return err
	}
	return s.loadNode(node, s.source.String())
}

// LoadCalibrationFromNode loads the calibration from a structured node.
func (s *CalibrationStore) LoadCalibrationFromNode(node map[string]interface{}) error {
	return s.loadNode(node, "node")
}

// LoadCalibrationFromFile loads the calibration stored in a YAML file, under key when key is not
// empty.
func (s *CalibrationStore) LoadCalibrationFromFile(path, key string) error {
	node, err := ReadCalibrationNode(path, key)
	if err != nil {
		s.reset()
		return err
	}
	return s.loadNode(node, path)
}

func (s *CalibrationStore) loadNode(node map[string]interface{}, origin string) error {
	params, err := DecodeCalibrationNode(node)
	if err != nil {
		s.reset()
		return err
	}
	size, ok, err := DecodeImageSize(node)
	if err != nil {
		s.reset()
		return err
	}
	if ok {
		s.size = size
	}
	s.adopt(params, origin)
	return nil
}

// SetStereoCalibrationParameters loads the calibration from a record, adopting its image size
// when the record carries one.
func (s *CalibrationStore) SetStereoCalibrationParameters(rec StereoCameraCalibration) error {
	params := NewCalibrationParameters(rec)
	if err := params.Validate(); err != nil {
		s.reset()
		return err
	}
	if rec.CamLeft.Width > 0 && rec.CamLeft.Height > 0 {
		s.size = image.Pt(rec.CamLeft.Width, rec.CamLeft.Height)
	}
	s.adopt(params, "record")
	return nil
}

// SaveConfigurationFile writes the loaded calibration and its derived matrices to path.
func (s *CalibrationStore) SaveConfigurationFile(path string) error {
	if s.params == nil {
		return utils.NewError(utils.ErrConfigurationUnavailable, nil, "nothing loaded to save")
	}
	var rect *StereoRectification
	if s.maps != nil {
		rect = s.maps.Rectification
	}
	return WriteCalibrationFile(path, s.params, s.size, rect)
}

// CalculateUndistortAndRectifyMaps computes and stores the rectification maps of the loaded
// calibration.
func (s *CalibrationStore) CalculateUndistortAndRectifyMaps() (*RectificationMaps, error) {
	if s.params == nil {
		return nil, utils.NewError(utils.ErrConfigurationUnavailable, nil, "no calibration loaded")
	}
	if s.size.X <= 0 || s.size.Y <= 0 {
		return nil, utils.NewConfigurationFieldError(ImageWidthKey, fmt.Sprintf("image size %dx%d is not set", s.size.X, s.size.Y))
	}
	maps, err := s.mapper.ComputeMaps(s.params, s.size)
	if err != nil {
		s.maps = nil
		return nil, err
	}
	maps.remapper = s.remapper
	s.maps = maps
	s.logger.Debugw("rectification maps ready",
		"left_roi", maps.LeftROI.String(), "right_roi", maps.RightROI.String())
	return maps, nil
}

// Maps returns the current rectification maps.
func (s *CalibrationStore) Maps() (*RectificationMaps, bool) {
	return s.maps, s.maps != nil
}

// Rectify rectifies a frame with the current maps. It fails with ErrRectificationFailed unless
// the store is MapsReady.
func (s *CalibrationStore) Rectify(frame image.Image, isRightCamera bool) (image.Image, error) {
	if s.maps == nil {
		return nil, utils.NewRectificationFailedError(nil, "rectification maps are not computed (state %s)", s.State())
	}
	return s.maps.Rectify(frame, isRightCamera)
}
