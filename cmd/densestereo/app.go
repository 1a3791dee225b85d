package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/rock-image-processing/image-processing-stereo/config"
	"github.com/rock-image-processing/image-processing-stereo/logging"
)

const (
	// Flags.
	flagConfig      = "config"
	flagDebug       = "debug"
	flagCalibration = "calibration"
	flagNode        = "node"
	flagDatabase    = "database"
	flagName        = "name"
	flagWidth       = "width"
	flagHeight      = "height"
	flagOutputDir   = "output-dir"
	flagColorize    = "colorize"
	flagRaw         = "raw"
	flagPCD         = "pcd"
	flagAngle       = "angle"
	flagWatch       = "watch"

	envKey = "env"
)

// env is the state shared by all commands of one invocation.
type env struct {
	cfg     *config.Config
	logger  logging.Logger
	closers []io.Closer
}

func (e *env) close() error {
	var err error
	for _, c := range e.closers {
		err = multierr.Combine(err, c.Close())
	}
	return multierr.Combine(err, e.logger.Sync())
}

func envFrom(c *cli.Context) *env {
	//nolint:forcetypeassert
	return c.App.Metadata[envKey].(*env)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "densestereo",
		Usage: "rectify stereo frame pairs and compute disparity images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagCalibration,
				Usage: "read the calibration from YAML `FILE`",
			},
			&cli.StringFlag{
				Name:  flagNode,
				Usage: "key of the calibration node in the calibration file",
			},
			&cli.StringFlag{
				Name:  flagDatabase,
				Usage: "read the calibration from the SQLite database `FILE`",
			},
			&cli.StringFlag{
				Name:  flagName,
				Usage: "name of the calibration in the database",
			},
			&cli.IntFlag{
				Name:  flagWidth,
				Usage: "calibrated image width",
			},
			&cli.IntFlag{
				Name:  flagHeight,
				Usage: "calibrated image height",
			},
		},
		Before: before,
		After: func(c *cli.Context) error {
			e, ok := c.App.Metadata[envKey].(*env)
			if !ok {
				return nil
			}
			return e.close()
		},
		Commands: []*cli.Command{
			processCommand(),
			batchCommand(),
			rectifyCommand(),
			rotateCommand(),
			calibrationCommand(),
		},
	}
}

func before(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return err
		}
	}
	cal := &cfg.Calibration
	if c.IsSet(flagCalibration) {
		cal.File = c.String(flagCalibration)
		cal.Database = ""
	}
	if c.IsSet(flagNode) {
		cal.Node = c.String(flagNode)
	}
	if c.IsSet(flagDatabase) {
		cal.Database = c.String(flagDatabase)
		cal.File = ""
	}
	if c.IsSet(flagName) {
		cal.Name = c.String(flagName)
	}
	if c.IsSet(flagWidth) {
		cal.ImageWidth = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cal.ImageHeight = c.Int(flagHeight)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewLogger("densestereo")
	if c.Bool(flagDebug) {
		cfg.Log.Level = "debug"
	}
	logCloser, err := cfg.Log.Apply(logger)
	if err != nil {
		return errors.Wrap(err, "configuring logging")
	}
	c.App.Metadata = map[string]interface{}{
		envKey: &env{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}},
	}
	return nil
}
