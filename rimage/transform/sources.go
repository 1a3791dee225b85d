package transform

import (
	"context"
	"os"
	"path/filepath"
)

// CalibrationEnvVar overrides the default calibration file location.
const CalibrationEnvVar = "DENSESTEREO_CALIBRATION"

// ParameterSource is a persisted calibration configuration.
type ParameterSource interface {
	// LoadCalibrationNode returns the stored calibration node. It fails with
	// ErrConfigurationUnavailable when nothing is stored.
	LoadCalibrationNode(ctx context.Context) (map[string]interface{}, error)
	String() string
}

// FileParameterSource reads the calibration from a YAML file, optionally under a key.
type FileParameterSource struct {
	Path string
	Key  string
}

// DefaultCalibrationPath returns the path named by DENSESTEREO_CALIBRATION, falling back to
// densestereo/calibration.yaml in the user configuration directory.
func DefaultCalibrationPath() string {
	if p := os.Getenv(CalibrationEnvVar); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "densestereo", "calibration.yaml")
}

// NewDefaultFileParameterSource returns a source reading DefaultCalibrationPath.
func NewDefaultFileParameterSource() *FileParameterSource {
	return &FileParameterSource{Path: DefaultCalibrationPath()}
}

// LoadCalibrationNode implements ParameterSource.
func (src *FileParameterSource) LoadCalibrationNode(ctx context.Context) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadCalibrationNode(src.Path, src.Key)
}

func (src *FileParameterSource) String() string {
	if src.Key == "" {
		return src.Path
	}
	return src.Path + "#" + src.Key
}
