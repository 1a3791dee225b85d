package config

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/calibdb"
	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/pointcloud"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/stereo"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	params, err := cfg.Matcher.ElasParameters()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params, test.ShouldResemble, stereo.PipelineParameters())

	empty, err := FromReader(strings.NewReader(""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty, test.ShouldResemble, cfg)
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "densestereo.yaml")
	test.That(t, os.WriteFile(path, []byte(`
calibration:
  file: /etc/densestereo/rig.yaml
  node: stereo
  image_width: 640
  image_height: 480
matcher:
  preset: middlebury
  window_radius: 3
  parameters:
    disp_max: 64
    support_threshold: 0.9
    subsampling: true
output:
  colorize: true
  write_pcd: true
  pcd_format: ascii
log:
  level: debug
`), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Calibration.File, test.ShouldEqual, "/etc/densestereo/rig.yaml")
	test.That(t, cfg.Calibration.Node, test.ShouldEqual, "stereo")
	test.That(t, cfg.Calibration.ImageWidth, test.ShouldEqual, 640)
	test.That(t, cfg.Output.Colorize, test.ShouldBeTrue)
	// untouched keys keep their defaults
	test.That(t, cfg.Log.MaxSizeMB, test.ShouldEqual, 10)

	params, err := cfg.Matcher.ElasParameters()
	test.That(t, err, test.ShouldBeNil)
	want := stereo.DefaultMiddleburyParameters()
	want.DispMax = 64
	want.SupportThreshold = 0.9
	want.Subsampling = true
	test.That(t, params, test.ShouldResemble, want)

	bm, err := cfg.Matcher.NewMatcher(logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bm.WindowRadius, test.ShouldEqual, 3)

	typ, err := cfg.Output.PCDType()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, typ, test.ShouldEqual, pointcloud.PCDAscii)

	_, err = Read(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		yaml  string
		field string
	}{
		"file and database":  {"calibration: {file: a.yaml, database: b.db, name: rig}", "calibration.database"},
		"database no name":   {"calibration: {database: b.db}", "calibration.name"},
		"half size":          {"calibration: {image_width: 10}", "calibration.image_height"},
		"negative radius":    {"matcher: {window_radius: -1}", "matcher.window_radius"},
		"unknown preset":     {"matcher: {preset: fast}", "matcher.preset"},
		"unknown parameter":  {"matcher: {parameters: {disp_maximum: 3}}", "matcher.parameters"},
		"bad parameter":      {"matcher: {parameters: {disp_min: 10, disp_max: 5}}", "matcher.parameters"},
		"wrong type":         {"matcher: {parameters: {disp_max: many}}", "matcher.parameters"},
		"unknown pcd format": {"output: {pcd_format: ply}", "output.pcd_format"},
		"unknown level":      {"log: {level: loud}", "log.level"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.yaml))
			test.That(t, errors.Is(err, utils.ErrConfigurationCorrupt), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.field)
		})
	}

	_, err := FromReader(strings.NewReader("calibration: {fil: a.yaml}"))
	test.That(t, errors.Is(err, utils.ErrConfigurationCorrupt), test.ShouldBeTrue)
	_, err = FromReader(strings.NewReader("calibration: [unclosed"))
	test.That(t, errors.Is(err, utils.ErrConfigurationCorrupt), test.ShouldBeTrue)
}

func TestCalibrationSources(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)

	node := map[string]interface{}{
		"fx1": 50.0, "fy1": 50.0, "cx1": 15.5, "cy1": 11.5,
		"d01": 0.0, "d11": 0.0, "d21": 0.0, "d31": 0.0,
		"fx2": 50.0, "fy2": 50.0, "cx2": 15.5, "cy2": 11.5,
		"d02": 0.0, "d12": 0.0, "d22": 0.0, "d32": 0.0,
		"tx": -0.1, "ty": 0.0, "tz": 0.0,
		"rx": 0.0, "ry": 0.0, "rz": 0.0,
	}
	params, err := transform.DecodeCalibrationNode(node)
	test.That(t, err, test.ShouldBeNil)

	dbPath := filepath.Join(dir, "calib.db")
	db, err := calibdb.Open(dbPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, db.Save(context.Background(), "rig", params, image.Point{}), test.ShouldBeNil)
	test.That(t, db.Close(), test.ShouldBeNil)

	cal := CalibrationConfig{Database: dbPath, Name: "rig", ImageWidth: 32, ImageHeight: 24}
	store, closer, err := cal.NewCalibrationStore(logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, closer.Close(), test.ShouldBeNil)
	}()
	test.That(t, store.LoadParameters(context.Background()), test.ShouldBeNil)
	test.That(t, store.ImageSize().X, test.ShouldEqual, 32)
	_, err = store.CalculateUndistortAndRectifyMaps()
	test.That(t, err, test.ShouldBeNil)

	filePath := filepath.Join(dir, "calib.yaml")
	test.That(t, store.SaveConfigurationFile(filePath), test.ShouldBeNil)
	src, fileCloser, err := (&CalibrationConfig{File: filePath}).ParameterSource()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fileCloser.Close(), test.ShouldBeNil)
	test.That(t, src.String(), test.ShouldEqual, filePath)
	loaded, err := src.LoadCalibrationNode(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded["fx1"], test.ShouldEqual, 50.0)
}

func TestLogConfigApply(t *testing.T) {
	logger := logging.NewBlankLogger("test")
	path := filepath.Join(t.TempDir(), "densestereo.log")
	closer, err := (&LogConfig{Level: "warn", File: path, MaxSizeMB: 1}).Apply(logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.WARN)
	logger.Warnw("written", "pair", 1)
	logger.Infow("dropped")
	test.That(t, closer.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "written")
	test.That(t, string(data), test.ShouldNotContainSubstring, "dropped")
}
