// Package config defines the configuration of the densestereo tools and how it is read from
// YAML files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rock-image-processing/image-processing-stereo/calibdb"
	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/pointcloud"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/stereo"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Matcher parameter presets.
const (
	PresetPipeline   = "pipeline"
	PresetRobotics   = "robotics"
	PresetMiddlebury = "middlebury"
)

// Config is the complete configuration of a densestereo run.
type Config struct {
	Calibration CalibrationConfig `json:"calibration"`
	Matcher     MatcherConfig     `json:"matcher"`
	Output      OutputConfig      `json:"output"`
	Log         LogConfig         `json:"log"`
}

// CalibrationConfig selects where the calibration is loaded from. File and Database are
// exclusive; with neither the default calibration file is used.
type CalibrationConfig struct {
	File        string `json:"file"`
	Node        string `json:"node"`
	Database    string `json:"database"`
	Name        string `json:"name"`
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
	Watch       bool   `json:"watch"`
}

// MatcherConfig selects a parameter preset and overrides single parameters by their ELAS name.
type MatcherConfig struct {
	Preset       string                 `json:"preset"`
	WindowRadius int                    `json:"window_radius"`
	Workers      int                    `json:"workers"`
	Parameters   map[string]interface{} `json:"parameters"`
}

// OutputConfig selects the products written besides the 8-bit disparity images.
type OutputConfig struct {
	Dir       string `json:"dir"`
	Colorize  bool   `json:"colorize"`
	WriteRaw  bool   `json:"write_raw"`
	WritePCD  bool   `json:"write_pcd"`
	PCDFormat string `json:"pcd_format"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Matcher: MatcherConfig{
			Preset:       PresetPipeline,
			WindowRadius: stereo.DefaultWindowRadius,
		},
		Output: OutputConfig{PCDFormat: "binary"},
		Log:    LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// Read reads and validates the configuration at path. Keys absent from the file keep their
// default values.
func Read(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	cfg, err := FromReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	return cfg, nil
}

// FromReader decodes and validates a YAML configuration.
func FromReader(r io.Reader) (*Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.NewError(utils.ErrConfigurationCorrupt, err, "parsing configuration")
	}
	cfg := Default()
	if err := decode(raw, cfg, true); err != nil {
		return nil, utils.NewError(utils.ErrConfigurationCorrupt, err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(input, out interface{}, errorUnused bool) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      out,
		ErrorUnused: errorUnused,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Validate checks the configuration and names the first invalid field.
func (c *Config) Validate() error {
	cal := c.Calibration
	switch {
	case cal.File != "" && cal.Database != "":
		return utils.NewConfigurationFieldError("calibration.database", "cannot be combined with calibration.file")
	case cal.Database != "" && cal.Name == "":
		return utils.NewConfigurationFieldError("calibration.name", "is required with calibration.database")
	case cal.ImageWidth < 0 || cal.ImageHeight < 0:
		return utils.NewConfigurationFieldError("calibration.image_width", "must not be negative")
	case (cal.ImageWidth == 0) != (cal.ImageHeight == 0):
		return utils.NewConfigurationFieldError("calibration.image_height", "must be set together with image_width")
	}

	if c.Matcher.WindowRadius < 0 {
		return utils.NewConfigurationFieldError("matcher.window_radius", "must not be negative")
	}
	if c.Matcher.Workers < 0 {
		return utils.NewConfigurationFieldError("matcher.workers", "must not be negative")
	}
	if _, err := c.Matcher.ElasParameters(); err != nil {
		return err
	}

	if _, err := c.Output.PCDType(); err != nil {
		return err
	}
	if c.Log.Level != "" {
		if _, err := logging.LevelFromString(c.Log.Level); err != nil {
			return utils.NewConfigurationFieldError("log.level", err.Error())
		}
	}
	return nil
}

// ElasParameters returns the preset with the configured overrides applied.
func (m *MatcherConfig) ElasParameters() (stereo.ElasParameters, error) {
	var params stereo.ElasParameters
	switch m.Preset {
	case "", PresetPipeline:
		params = stereo.PipelineParameters()
	case PresetRobotics:
		params = stereo.DefaultRoboticsParameters()
	case PresetMiddlebury:
		params = stereo.DefaultMiddleburyParameters()
	default:
		return params, utils.NewConfigurationFieldError("matcher.preset", fmt.Sprintf("has unknown value %q", m.Preset))
	}
	if len(m.Parameters) > 0 {
		if err := decode(m.Parameters, &params, true); err != nil {
			return params, utils.NewConfigurationFieldError("matcher.parameters", err.Error())
		}
	}
	if err := params.Validate(); err != nil {
		return params, utils.NewConfigurationFieldError("matcher.parameters", err.Error())
	}
	return params, nil
}

// NewMatcher builds the configured block matcher.
func (m *MatcherConfig) NewMatcher(logger logging.Logger) (*stereo.BlockMatcher, error) {
	params, err := m.ElasParameters()
	if err != nil {
		return nil, err
	}
	bm, err := stereo.NewBlockMatcher(params, logger)
	if err != nil {
		return nil, err
	}
	bm.WindowRadius = m.WindowRadius
	bm.Workers = m.Workers
	return bm, nil
}

// PCDType returns the configured point cloud encoding.
func (o *OutputConfig) PCDType() (pointcloud.PCDType, error) {
	switch o.PCDFormat {
	case "", "binary":
		return pointcloud.PCDBinary, nil
	case "ascii":
		return pointcloud.PCDAscii, nil
	default:
		return pointcloud.PCDBinary, utils.NewConfigurationFieldError("output.pcd_format", fmt.Sprintf("has unknown value %q", o.PCDFormat))
	}
}

// ParameterSource opens the configured calibration source. The closer releases the database
// when one is used.
func (c *CalibrationConfig) ParameterSource() (transform.ParameterSource, io.Closer, error) {
	switch {
	case c.Database != "":
		db, err := calibdb.Open(c.Database)
		if err != nil {
			return nil, nil, err
		}
		return db.Source(c.Name), db, nil
	case c.File != "":
		return &transform.FileParameterSource{Path: c.File, Key: c.Node}, nopCloser{}, nil
	default:
		src := transform.NewDefaultFileParameterSource()
		src.Key = c.Node
		return src, nopCloser{}, nil
	}
}

// NewCalibrationStore returns a store reading from the configured source. The closer releases
// the source.
func (c *CalibrationConfig) NewCalibrationStore(logger logging.Logger) (*transform.CalibrationStore, io.Closer, error) {
	src, closer, err := c.ParameterSource()
	if err != nil {
		return nil, nil, err
	}
	opts := []transform.StoreOption{transform.WithParameterSource(src)}
	if c.ImageWidth > 0 {
		opts = append(opts, transform.WithImageSize(c.ImageWidth, c.ImageHeight))
	}
	return transform.NewCalibrationStore(logger, opts...), closer, nil
}

// Apply sets the logger's level and adds the rotated log file appender when a file is
// configured. The closer releases the file.
func (l *LogConfig) Apply(logger logging.Logger) (io.Closer, error) {
	if l.Level != "" {
		level, err := logging.LevelFromString(l.Level)
		if err != nil {
			return nil, utils.NewConfigurationFieldError("log.level", err.Error())
		}
		logger.SetLevel(level)
	}
	if l.File == "" {
		return nopCloser{}, nil
	}
	appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{
		Filename:   l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
	})
	logger.AddAppender(appender)
	return closer, nil
}
