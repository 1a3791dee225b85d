package stereo

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/mapping"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Result is the full output of processing one frame pair.
type Result struct {
	ID   uuid.UUID
	Time time.Time

	// Left and Right are the disparity maps normalized to 8 bits.
	Left  *image.Gray
	Right *image.Gray

	// RawLeft and RawRight are the matcher's float disparity maps.
	RawLeft  *rimage.Buffer[float32]
	RawRight *rimage.Buffer[float32]

	MaxDisparity float32
	LeftStats    DisparityStats
	RightStats   DisparityStats

	// Maps are the rectification maps the pair was processed with.
	Maps *transform.RectificationMaps
}

// DisparityPipeline rectifies frame pairs with a calibration, matches them and normalizes the
// resulting disparity maps. A pipeline is not safe for concurrent use; reloading the store's
// calibration must not overlap a call.
type DisparityPipeline struct {
	store   *transform.CalibrationStore
	matcher Matcher
	clock   clock.Clock
	logger  logging.Logger
}

// PipelineOption configures a DisparityPipeline.
type PipelineOption func(*DisparityPipeline)

// WithMatcher replaces the default block matcher.
func WithMatcher(m Matcher) PipelineOption {
	return func(p *DisparityPipeline) {
		p.matcher = m
	}
}

// WithClock sets the clock results are timestamped with.
func WithClock(c clock.Clock) PipelineOption {
	return func(p *DisparityPipeline) {
		p.clock = c
	}
}

// NewDisparityPipeline returns a pipeline using store for calibration. Without WithMatcher a
// BlockMatcher with PipelineParameters is used.
func NewDisparityPipeline(store *transform.CalibrationStore, logger logging.Logger, opts ...PipelineOption) (*DisparityPipeline, error) {
	if store == nil {
		return nil, errors.New("calibration store is required")
	}
	p := &DisparityPipeline{store: store, clock: clock.New(), logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.matcher == nil {
		bm, err := NewBlockMatcher(PipelineParameters(), logger.Sublogger("matcher"))
		if err != nil {
			return nil, err
		}
		p.matcher = bm
	}
	return p, nil
}

// Store returns the calibration store.
func (p *DisparityPipeline) Store() *transform.CalibrationStore {
	return p.store
}

// Maps returns the rectification maps, loading the calibration from the store's source and
// computing the maps if needed.
func (p *DisparityPipeline) Maps(ctx context.Context) (*transform.RectificationMaps, error) {
	if p.store.State() == transform.Unloaded {
		if err := p.store.LoadParameters(ctx); err != nil {
			return nil, err
		}
	}
	if maps, ok := p.store.Maps(); ok {
		return maps, nil
	}
	return p.store.CalculateUndistortAndRectifyMaps()
}

// ProcessFramePair returns the normalized left and right disparity maps of a raw frame pair.
func (p *DisparityPipeline) ProcessFramePair(ctx context.Context, left, right image.Image) (*image.Gray, *image.Gray, error) {
	res, err := p.Process(ctx, left, right)
	if err != nil {
		return nil, nil, err
	}
	return res.Left, res.Right, nil
}

// ProcessFramePairWithDistance is ProcessFramePair that also returns the metric distance image
// of the left frame.
func (p *DisparityPipeline) ProcessFramePairWithDistance(
	ctx context.Context,
	left, right image.Image,
) (*image.Gray, *image.Gray, *mapping.DistanceImage, error) {
	res, err := p.Process(ctx, left, right)
	if err != nil {
		return nil, nil, nil, err
	}
	dist, err := DisparityToDistanceImage(res.RawLeft, res.Maps, res.Time)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Left, res.Right, dist, nil
}

// Process runs the pipeline on a raw frame pair. Any failure aborts the call and no partial
// result is returned.
func (p *DisparityPipeline) Process(ctx context.Context, left, right image.Image) (*Result, error) {
	res := &Result{ID: uuid.New(), Time: p.clock.Now()}
	logger := p.logger.WithFields("pair", res.ID.String())
	start := p.clock.Now()

	maps, err := p.Maps(ctx)
	if err != nil {
		return nil, err
	}
	res.Maps = maps

	grayLeft, err := p.rectifyGray(maps, left, false)
	if err != nil {
		return nil, err
	}
	grayRight, err := p.rectifyGray(maps, right, true)
	if err != nil {
		return nil, err
	}
	if grayLeft.Size() != grayRight.Size() {
		return nil, utils.NewDimensionMismatchError("rectified right frame", grayLeft.Size(), grayRight.Size())
	}
	if size := grayLeft.Size(); size.X <= 0 || size.Y <= 0 {
		return nil, utils.NewError(utils.ErrDimensionMismatch, nil, "rectified frames are empty (%dx%d)", size.X, size.Y)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawLeft, rawRight, err := p.matcher.Match(ctx, grayLeft, grayRight)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, utils.NewMatcherFailureError(err)
	}
	if rawLeft == nil || rawRight == nil {
		return nil, utils.NewMatcherFailureError(errors.New("matcher returned no disparity map"))
	}
	if rawLeft.Size() != rawRight.Size() {
		return nil, utils.NewMatcherFailureError(
			utils.NewDimensionMismatchError("right disparity map", rawLeft.Size(), rawRight.Size()))
	}
	res.RawLeft, res.RawRight = rawLeft, rawRight

	res.MaxDisparity = MaxDisparity(rawLeft, rawRight)
	res.Left = NormalizeDisparity(rawLeft, res.MaxDisparity)
	res.Right = NormalizeDisparity(rawRight, res.MaxDisparity)

	if res.LeftStats, err = ComputeDisparityStats(rawLeft); err != nil {
		return nil, err
	}
	if res.RightStats, err = ComputeDisparityStats(rawRight); err != nil {
		return nil, err
	}
	logger.Debugw("processed frame pair",
		"width", grayLeft.Width(), "height", grayLeft.Height(),
		"max_disparity", res.MaxDisparity,
		"valid_left", res.LeftStats.ValidFraction(),
		"valid_right", res.RightStats.ValidFraction(),
		"elapsed", p.clock.Since(start))
	return res, nil
}

func (p *DisparityPipeline) rectifyGray(maps *transform.RectificationMaps, frame image.Image, isRightCamera bool) (*rimage.Buffer[uint8], error) {
	rectified, err := maps.Rectify(frame, isRightCamera)
	if err != nil {
		return nil, err
	}
	return rimage.ToGray(rectified)
}
