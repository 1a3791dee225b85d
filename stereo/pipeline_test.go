package stereo

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func newTestPipeline(t *testing.T, store *transform.CalibrationStore, opts ...PipelineOption) *DisparityPipeline {
	t.Helper()
	p, err := NewDisparityPipeline(store, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestIdenticalFramesHaveZeroDisparity(t *testing.T) {
	p := newTestPipeline(t, loadedStore(t, rigSize))

	flat := flatImage(rigSize, 128)
	left, right, err := p.ProcessFramePair(context.Background(), flat, flat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.Bounds(), test.ShouldResemble, image.Rectangle{Max: rigSize})
	test.That(t, right.Bounds(), test.ShouldResemble, image.Rectangle{Max: rigSize})
	for _, out := range []*image.Gray{left, right} {
		for _, v := range out.Pix {
			test.That(t, v, test.ShouldEqual, 0)
		}
	}

	textured, _ := texturePair(rigSize, 0, 7)
	res, err := p.Process(context.Background(), textured, textured)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.MaxDisparity, test.ShouldEqual, float32(0))
	test.That(t, res.LeftStats.Valid, test.ShouldBeGreaterThan, 0)
	for _, v := range append(res.Left.Pix, res.Right.Pix...) {
		test.That(t, v, test.ShouldEqual, 0)
	}
}

func TestProcessFramePairRecoversShift(t *testing.T) {
	store := loadedStore(t, rigSize)
	params := PipelineParameters()
	params.DispMax = 16
	bm, err := NewBlockMatcher(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	p := newTestPipeline(t, store, WithMatcher(bm))

	left, right := texturePair(rigSize, 6, 11)
	res, err := p.Process(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.MaxDisparity, test.ShouldBeBetween, float32(5.5), float32(6.5))
	test.That(t, res.LeftStats.Median, test.ShouldAlmostEqual, 6, 0.5)
	test.That(t, res.Maps, test.ShouldNotBeNil)
	test.That(t, store.State(), test.ShouldEqual, transform.MapsReady)
}

func TestProcessFramePairSizeMismatch(t *testing.T) {
	size := image.Pt(640, 480)
	called := false
	matcher := MatcherFunc(func(ctx context.Context, l, r *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
		called = true
		return nil, nil, errors.New("not reached")
	})
	p := newTestPipeline(t, loadedStore(t, size), WithMatcher(matcher))

	_, _, err := p.ProcessFramePair(context.Background(), flatImage(size, 10), flatImage(image.Pt(641, 480), 10))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, utils.ErrDimensionMismatch), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 640x480 but got 641x480")
	test.That(t, called, test.ShouldBeFalse)
}

func TestProcessFramePairMatcherFailure(t *testing.T) {
	store := loadedStore(t, rigSize)
	frame := flatImage(rigSize, 50)

	p := newTestPipeline(t, store, WithMatcher(MatcherFunc(
		func(ctx context.Context, l, r *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
			return nil, nil, errors.New("out of support points")
		})))
	_, _, err := p.ProcessFramePair(context.Background(), frame, frame)
	test.That(t, errors.Is(err, utils.ErrMatcherFailure), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of support points")

	p = newTestPipeline(t, store, WithMatcher(MatcherFunc(
		func(ctx context.Context, l, r *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
			return rimage.NewBuffer[float32](l.Width(), l.Height()), rimage.NewBuffer[float32](3, 3), nil
		})))
	_, _, err = p.ProcessFramePair(context.Background(), frame, frame)
	test.That(t, errors.Is(err, utils.ErrMatcherFailure), test.ShouldBeTrue)

	_, _, err = p.ProcessFramePair(context.Background(), image.NewPaletted(image.Rectangle{Max: rigSize}, nil), frame)
	test.That(t, errors.Is(err, utils.ErrUnsupportedImageFormat), test.ShouldBeTrue)
}

func TestPipelineLoadsCalibrationLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.yaml")
	test.That(t, loadedStore(t, rigSize).SaveConfigurationFile(path), test.ShouldBeNil)

	store := transform.NewCalibrationStore(logging.NewTestLogger(t),
		transform.WithImageSize(rigSize.X, rigSize.Y),
		transform.WithParameterSource(&transform.FileParameterSource{Path: path}))
	p := newTestPipeline(t, store, WithMatcher(constantMatcher(1, 1)))
	test.That(t, store.State(), test.ShouldEqual, transform.Unloaded)

	frame := flatImage(rigSize, 50)
	left, _, err := p.ProcessFramePair(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.Pix[0], test.ShouldEqual, 255)
	test.That(t, store.State(), test.ShouldEqual, transform.MapsReady)

	missing := transform.NewCalibrationStore(logging.NewTestLogger(t),
		transform.WithImageSize(rigSize.X, rigSize.Y),
		transform.WithParameterSource(&transform.FileParameterSource{Path: filepath.Join(dir, "nope.yaml")}))
	p = newTestPipeline(t, missing, WithMatcher(constantMatcher(1, 1)))
	_, _, err = p.ProcessFramePair(context.Background(), frame, frame)
	test.That(t, errors.Is(err, utils.ErrConfigurationUnavailable), test.ShouldBeTrue)
}

func TestProcessFramePairWithDistance(t *testing.T) {
	mock := clock.NewMock()
	when := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.Set(when)
	p := newTestPipeline(t, loadedStore(t, rigSize), WithMatcher(constantMatcher(10, 10)), WithClock(mock))

	frame := flatImage(rigSize, 50)
	left, right, dist, err := p.ProcessFramePairWithDistance(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.Pix[0], test.ShouldEqual, 255)
	test.That(t, right.Pix[0], test.ShouldEqual, 255)
	test.That(t, dist.Time, test.ShouldResemble, when)
	test.That(t, dist.Width, test.ShouldEqual, rigSize.X)
	test.That(t, dist.Height, test.ShouldEqual, rigSize.Y)
	// depth = f * baseline / disparity
	test.That(t, float64(dist.At(0, 0)), test.ShouldAlmostEqual, 50*0.12/10, 1e-5)
	test.That(t, float64(dist.At(63, 47)), test.ShouldAlmostEqual, 0.6, 1e-5)
	test.That(t, dist.ScaleX, test.ShouldAlmostEqual, 1.0/50, 1e-9)
	test.That(t, dist.CenterX, test.ShouldAlmostEqual, -31.5/50, 1e-6)

	pt, ok := dist.Point(63, 23)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pt.X, test.ShouldAlmostEqual, (63-31.5)/50*0.6, 1e-5)

	maps, err := p.Maps(context.Background())
	test.That(t, err, test.ShouldBeNil)
	invalid := rimage.NewBuffer[float32](4, 4)
	invalid.Fill(InvalidDisparity)
	invalid.Set(1, 1, 10)
	sub, err := DisparityToDistanceImage(invalid, maps, when)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.ScaleX, test.ShouldAlmostEqual, 16.0/50, 1e-6)
	_, ok = sub.Point(0, 0)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, float64(sub.At(1, 1)), test.ShouldAlmostEqual, 0.6, 1e-5)

	_, err = DisparityToDistanceImage(invalid, nil, when)
	test.That(t, errors.Is(err, utils.ErrRectificationFailed), test.ShouldBeTrue)
}

func TestProcessImageFiles(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, loadedStore(t, rigSize), WithMatcher(constantMatcher(4, 2)))

	frame, err := rimage.ToGray(flatImage(rigSize, 60))
	test.That(t, err, test.ShouldBeNil)
	pathA := filepath.Join(dir, "left.pgm")
	pathB := filepath.Join(dir, "right.frame.pgm")
	test.That(t, rimage.WritePGMFile(pathA, frame), test.ShouldBeNil)
	test.That(t, rimage.WritePGMFile(pathB, frame), test.ShouldBeNil)

	outA, outB, err := p.ProcessImageFiles(context.Background(), pathA, pathB)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outA, test.ShouldEqual, filepath.Join(dir, "left_disp.pgm"))
	test.That(t, outB, test.ShouldEqual, filepath.Join(dir, "right.frame_disp.pgm"))

	dispA, err := rimage.ReadPGMFile(outA)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dispA.Size(), test.ShouldResemble, rigSize)
	test.That(t, dispA.At(10, 10), test.ShouldEqual, 255)
	dispB, err := rimage.ReadPGMFile(outB)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dispB.At(10, 10), test.ShouldEqual, 127)

	small, err := rimage.ToGray(flatImage(image.Pt(32, 24), 60))
	test.That(t, err, test.ShouldBeNil)
	pathC := filepath.Join(dir, "small.pgm")
	test.That(t, rimage.WritePGMFile(pathC, small), test.ShouldBeNil)
	test.That(t, os.Remove(outA), test.ShouldBeNil)
	_, _, err = p.ProcessImageFiles(context.Background(), pathA, pathC)
	test.That(t, errors.Is(err, utils.ErrDimensionMismatch), test.ShouldBeTrue)
	_, err = os.Stat(outA)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	_, err = os.Stat(filepath.Join(dir, "small_disp.pgm"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	_, _, err = p.ProcessImageFiles(context.Background(), filepath.Join(dir, "missing.pgm"), pathB)
	test.That(t, errors.Is(err, utils.ErrIO), test.ShouldBeTrue)
}
