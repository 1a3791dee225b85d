package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/rock-image-processing/image-processing-stereo/calibdb"
	"github.com/rock-image-processing/image-processing-stereo/pointcloud"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/stereo"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func requireArgs(c *cli.Context, n int) error {
	if c.Args().Len() != n {
		return errors.Errorf("%s expects %d arguments (%s), got %d", c.Command.Name, n, c.Command.ArgsUsage, c.Args().Len())
	}
	return nil
}

func isPGM(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pgm")
}

// outputPath names an output derived from input: the input's stem plus suffix, in the
// configured output directory or beside the input.
func (e *env) outputPath(input, suffix string) string {
	dir := e.cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+suffix)
}

func (e *env) newStore() (*transform.CalibrationStore, error) {
	store, closer, err := e.cfg.Calibration.NewCalibrationStore(e.logger.Sublogger("calibration"))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closer)
	return store, nil
}

func (e *env) newPipeline() (*stereo.DisparityPipeline, error) {
	store, err := e.newStore()
	if err != nil {
		return nil, err
	}
	matcher, err := e.cfg.Matcher.NewMatcher(e.logger.Sublogger("matcher"))
	if err != nil {
		return nil, err
	}
	return stereo.NewDisparityPipeline(store, e.logger.Sublogger("pipeline"), stereo.WithMatcher(matcher))
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagOutputDir,
			Usage: "write outputs to `DIR` instead of beside the inputs",
		},
		&cli.BoolFlag{
			Name:  flagColorize,
			Usage: "also write a false color disparity image",
		},
		&cli.BoolFlag{
			Name:  flagRaw,
			Usage: "also write the raw float disparity map",
		},
		&cli.BoolFlag{
			Name:  flagPCD,
			Usage: "also write the reconstructed points as PCD",
		},
	}
}

func (e *env) applyOutputFlags(c *cli.Context) {
	out := &e.cfg.Output
	if c.IsSet(flagOutputDir) {
		out.Dir = c.String(flagOutputDir)
	}
	if c.IsSet(flagColorize) {
		out.Colorize = c.Bool(flagColorize)
	}
	if c.IsSet(flagRaw) {
		out.WriteRaw = c.Bool(flagRaw)
	}
	if c.IsSet(flagPCD) {
		out.WritePCD = c.Bool(flagPCD)
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "compute the disparity images of a frame pair",
		ArgsUsage: "<left> <right>",
		Flags:     outputFlags(),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			e := envFrom(c)
			e.applyOutputFlags(c)
			p, err := e.newPipeline()
			if err != nil {
				return err
			}
			return e.processPair(c.Context, p, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

// processPair processes one pair of frame files and writes the configured outputs.
func (e *env) processPair(ctx context.Context, p *stereo.DisparityPipeline, left, right string) error {
	out := e.cfg.Output
	if isPGM(left) && isPGM(right) && out.Dir == "" && !out.Colorize && !out.WriteRaw && !out.WritePCD {
		_, _, err := p.ProcessImageFiles(ctx, left, right)
		return err
	}

	leftImg, err := rimage.ReadImageFile(left)
	if err != nil {
		return err
	}
	rightImg, err := rimage.ReadImageFile(right)
	if err != nil {
		return err
	}
	res, err := p.Process(ctx, leftImg, rightImg)
	if err != nil {
		return err
	}

	dispSuffix := "_disp.png"
	if isPGM(left) {
		dispSuffix = "_disp.pgm"
	}
	written := []string{e.outputPath(left, dispSuffix), e.outputPath(right, dispSuffix)}
	if err := rimage.WriteImageFile(written[0], res.Left); err != nil {
		return err
	}
	if err := rimage.WriteImageFile(written[1], res.Right); err != nil {
		return err
	}
	if out.Colorize {
		path := e.outputPath(left, "_disp_color.png")
		if err := rimage.WriteImageFile(path, rimage.ColorizeDisparity(res.Left)); err != nil {
			return err
		}
		written = append(written, path)
	}
	if out.WriteRaw {
		for _, raw := range []struct {
			input string
			field *rimage.Buffer[float32]
		}{{left, res.RawLeft}, {right, res.RawRight}} {
			path := e.outputPath(raw.input, "_disp.raw")
			if err := writeRaw(path, raw.field); err != nil {
				return err
			}
			written = append(written, path)
		}
	}
	if out.WritePCD {
		typ, err := out.PCDType()
		if err != nil {
			return err
		}
		path := e.outputPath(left, ".pcd")
		if err := writePoints(path, res, typ); err != nil {
			return err
		}
		written = append(written, path)
	}
	e.logger.Infow("processed frame pair",
		"pair", res.ID.String(),
		"max_disparity", res.MaxDisparity,
		"valid", res.LeftStats.ValidFraction(),
		"median", res.LeftStats.Median,
		"outputs", written)
	return nil
}

func writeRaw(path string, field *rimage.Buffer[float32]) (err error) {
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
	if err := field.Store(f); err != nil {
		return utils.NewIOError(path, err)
	}
	return nil
}

func writePoints(path string, res *stereo.Result, typ pointcloud.PCDType) error {
	dist, err := stereo.DisparityToDistanceImage(res.RawLeft, res.Maps, res.Time)
	if err != nil {
		return err
	}
	cloud, err := dist.ToPointCloud()
	if err != nil {
		return err
	}
	return pointcloud.WritePCDFile(path, cloud, typ)
}

// findPairs returns the frame pairs of dir: every <name>_left.<ext> with a <name>_right.<ext>
// beside it.
func findPairs(dir string) ([][2]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, utils.NewIOError(dir, err)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		if !entry.IsDir() {
			names[entry.Name()] = true
		}
	}
	var pairs [][2]string
	for name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasSuffix(stem, "_left") {
			continue
		}
		right := strings.TrimSuffix(stem, "_left") + "_right" + filepath.Ext(name)
		if names[right] {
			pairs = append(pairs, [2]string{filepath.Join(dir, name), filepath.Join(dir, right)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs, nil
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "process every <name>_left/<name>_right frame pair of a directory",
		ArgsUsage: "<dir>",
		Flags: append(outputFlags(), &cli.BoolFlag{
			Name:  flagWatch,
			Usage: "reload the calibration file when it changes between pairs",
		}),
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			e := envFrom(c)
			e.applyOutputFlags(c)
			pairs, err := findPairs(c.Args().Get(0))
			if err != nil {
				return err
			}
			p, err := e.newPipeline()
			if err != nil {
				return err
			}

			var changes <-chan struct{}
			if c.Bool(flagWatch) || e.cfg.Calibration.Watch {
				src, ok := p.Store().Source().(*transform.FileParameterSource)
				if !ok {
					return errors.New("watching needs a calibration file")
				}
				watcher, err := transform.NewCalibrationWatcher(src.Path, e.logger.Sublogger("watch"))
				if err != nil {
					return err
				}
				e.closers = append(e.closers, watcher)
				changes = watcher.Changes()
			}

			failed := 0
			for _, pair := range pairs {
				select {
				case <-changes:
					if err := p.Store().LoadParameters(c.Context); err != nil {
						e.logger.Warnw("reloading calibration failed", "error", err)
					} else {
						e.logger.Infow("calibration reloaded", "source", p.Store().Source().String())
					}
				default:
				}
				if err := e.processPair(c.Context, p, pair[0], pair[1]); err != nil {
					if c.Context.Err() != nil {
						return err
					}
					failed++
					e.logger.Warnw("skipping frame pair", "left", pair[0], "right", pair[1], "error", err)
				}
			}
			e.logger.Infow("batch done", "pairs", len(pairs), "failed", failed)
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d frame pairs failed", failed, len(pairs)), 1)
			}
			return nil
		},
	}
}

func rectifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "rectify",
		Usage:     "write the rectified images of a frame pair",
		ArgsUsage: "<left> <right>",
		Flags: []cli.Flag{&cli.StringFlag{
			Name:  flagOutputDir,
			Usage: "write outputs to `DIR` instead of beside the inputs",
		}},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			e := envFrom(c)
			e.applyOutputFlags(c)
			store, err := e.newStore()
			if err != nil {
				return err
			}
			if err := store.LoadParameters(c.Context); err != nil {
				return err
			}
			maps, err := store.CalculateUndistortAndRectifyMaps()
			if err != nil {
				return err
			}
			for i, path := range c.Args().Slice() {
				img, err := rimage.ReadImageFile(path)
				if err != nil {
					return err
				}
				rectified, err := maps.Rectify(img, i == 1)
				if err != nil {
					return err
				}
				out := e.outputPath(path, "_rect"+filepath.Ext(path))
				if err := rimage.WriteImageFile(out, rectified); err != nil {
					return err
				}
				e.logger.Infow("rectified", "input", path, "output", out)
			}
			return nil
		},
	}
}

func rotateCommand() *cli.Command {
	return &cli.Command{
		Name:      "rotate",
		Usage:     "rotate an image about its center",
		ArgsUsage: "<input> <output>",
		Flags: []cli.Flag{&cli.Float64Flag{
			Name:     flagAngle,
			Usage:    "counter clockwise rotation in degrees",
			Required: true,
		}},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			img, err := rimage.ReadImageFile(c.Args().Get(0))
			if err != nil {
				return err
			}
			rotated, err := rimage.Rotate(img, c.Float64(flagAngle))
			if err != nil {
				return err
			}
			return rimage.WriteImageFile(c.Args().Get(1), rotated)
		},
	}
}

// calibrationTable renders one row per calibration stored in db.
func calibrationTable(ctx context.Context, db *calibdb.Store) (string, error) {
	names, err := db.Names(ctx)
	if err != nil {
		return "", err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Size", "Fx1", "Fx2", "Baseline"})
	for i, name := range names {
		node, err := db.LoadNode(ctx, name)
		if err != nil {
			return "", err
		}
		params, err := transform.DecodeCalibrationNode(node)
		if err != nil {
			return "", err
		}
		size := "unknown"
		if w, ok := node[transform.ImageWidthKey]; ok {
			size = fmt.Sprintf("%vx%v", w, node[transform.ImageHeightKey])
		}
		t.AppendRow(table.Row{i + 1, name, size, params.Fx1, params.Fx2, params.Tx})
	}
	return t.Render(), nil
}

func calibrationCommand() *cli.Command {
	return &cli.Command{
		Name:  "calibration",
		Usage: "inspect and convert calibrations",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list the calibrations stored in the calibration database",
				Action: func(c *cli.Context) error {
					e := envFrom(c)
					if e.cfg.Calibration.Database == "" {
						return errors.Errorf("list needs --%s", flagDatabase)
					}
					db, err := calibdb.Open(e.cfg.Calibration.Database)
					if err != nil {
						return err
					}
					e.closers = append(e.closers, db)
					out, err := calibrationTable(c.Context, db)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, out)
					return err
				},
			},
			{
				Name:  "show",
				Usage: "print the calibration and its rectified geometry",
				Action: func(c *cli.Context) error {
					e := envFrom(c)
					store, err := e.newStore()
					if err != nil {
						return err
					}
					if err := store.LoadParameters(c.Context); err != nil {
						return err
					}
					params, _ := store.Parameters()
					doc := map[string]interface{}{"calibration": params}
					if size := store.ImageSize(); size.X > 0 {
						doc["image_width"], doc["image_height"] = size.X, size.Y
						maps, err := store.CalculateUndistortAndRectifyMaps()
						if err != nil {
							return err
						}
						doc["rectified"] = map[string]interface{}{
							"focal_length":    maps.Rectification.FocalLength(),
							"principal_point": []float64{maps.Rectification.PrincipalPoint().X, maps.Rectification.PrincipalPoint().Y},
							"baseline":        maps.Rectification.Baseline(),
							"left_roi":        maps.LeftROI.String(),
							"right_roi":       maps.RightROI.String(),
						}
					}
					enc := yaml.NewEncoder(c.App.Writer)
					enc.SetIndent(2)
					return multierr.Combine(enc.Encode(doc), enc.Close())
				},
			},
			{
				Name:      "save",
				Usage:     "write the calibration with its derived matrices to a YAML file",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					e := envFrom(c)
					store, err := e.newStore()
					if err != nil {
						return err
					}
					if err := store.LoadParameters(c.Context); err != nil {
						return err
					}
					if store.ImageSize().X > 0 {
						if _, err := store.CalculateUndistortAndRectifyMaps(); err != nil {
							return err
						}
					}
					return store.SaveConfigurationFile(c.Args().Get(0))
				},
			},
			{
				Name:      "import-db",
				Usage:     "store the calibration of a YAML file in the calibration database",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					e := envFrom(c)
					cal := e.cfg.Calibration
					if cal.Database == "" || cal.Name == "" {
						return errors.Errorf("import-db needs --%s and --%s", flagDatabase, flagName)
					}
					store := transform.NewCalibrationStore(e.logger.Sublogger("calibration"))
					if err := store.LoadCalibrationFromFile(c.Args().Get(0), cal.Node); err != nil {
						return err
					}
					params, _ := store.Parameters()
					size := store.ImageSize()
					if cal.ImageWidth > 0 {
						size = image.Pt(cal.ImageWidth, cal.ImageHeight)
					}

					db, err := calibdb.Open(cal.Database)
					if err != nil {
						return err
					}
					e.closers = append(e.closers, db)
					if err := db.Save(c.Context, cal.Name, &params, size); err != nil {
						return err
					}
					e.logger.Infow("imported calibration", "name", cal.Name, "database", cal.Database)
					return nil
				},
			},
		},
	}
}
