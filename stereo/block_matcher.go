package stereo

import (
	"context"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
)

// DefaultWindowRadius is the half size of the matching window.
const DefaultWindowRadius = 2

// BlockMatcher is a local dense matcher: sum of absolute differences over a square window,
// winner takes all, followed by the ELAS style post-processing chain.
type BlockMatcher struct {
	Params       ElasParameters
	WindowRadius int
	// Workers bounds the number of row bands matched in parallel. Zero uses GOMAXPROCS.
	Workers int

	logger logging.Logger
}

// NewBlockMatcher returns a matcher for the given parameters.
func NewBlockMatcher(params ElasParameters, logger logging.Logger) (*BlockMatcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &BlockMatcher{Params: params, WindowRadius: DefaultWindowRadius, logger: logger}, nil
}

// Match implements Matcher.
func (bm *BlockMatcher) Match(
	ctx context.Context,
	left, right *rimage.Buffer[uint8],
) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
	if left.Size() != right.Size() {
		return nil, nil, errors.Errorf("frame sizes differ: %v and %v", left.Size(), right.Size())
	}
	if err := bm.Params.Validate(); err != nil {
		return nil, nil, err
	}

	dispLeft := rimage.NewBuffer[float32](left.Width(), left.Height())
	dispRight := rimage.NewBuffer[float32](left.Width(), left.Height())
	if err := bm.matchBoth(ctx, left, right, dispLeft, dispRight); err != nil {
		return nil, nil, err
	}

	checkedLeft := leftRightCheck(dispLeft, dispRight, -1, float32(bm.Params.LRThreshold))
	checkedRight := leftRightCheck(dispRight, dispLeft, 1, float32(bm.Params.LRThreshold))

	bm.postprocess(checkedLeft, left)
	if !bm.Params.PostprocessOnlyLeft {
		bm.postprocess(checkedRight, right)
	}

	if bm.Params.Subsampling {
		checkedLeft = subsample(checkedLeft)
		checkedRight = subsample(checkedRight)
	}
	if bm.logger != nil {
		bm.logger.Debugw("block matching done",
			"width", left.Width(), "height", left.Height(),
			"disp_min", bm.Params.DispMin, "disp_max", bm.Params.DispMax)
	}
	return checkedLeft, checkedRight, nil
}

func (bm *BlockMatcher) postprocess(disp *rimage.Buffer[float32], img *rimage.Buffer[uint8]) {
	if bm.Params.SpeckleSize > 0 {
		removeSpeckles(disp, float32(bm.Params.SpeckleSimThreshold), bm.Params.SpeckleSize)
	}
	if bm.Params.IpolGapWidth > 0 {
		interpolateGaps(disp, bm.Params.IpolGapWidth)
	}
	if bm.Params.FilterAdaptiveMean {
		adaptiveMean(disp, img)
	}
	if bm.Params.FilterMedian {
		median3x3(disp)
	}
}

// matchBoth fills both disparity maps, splitting the rows into bands matched in parallel.
func (bm *BlockMatcher) matchBoth(ctx context.Context, left, right *rimage.Buffer[uint8], dispLeft, dispRight *rimage.Buffer[float32]) error {
	height := left.Height()
	workers := bm.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	bandHeight := (height + workers - 1) / workers
	if bandHeight < 8 {
		bandHeight = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	for y0 := 0; y0 < height; y0 += bandHeight {
		y0 := y0
		y1 := y0 + bandHeight
		if y1 > height {
			y1 = height
		}
		g.Go(func() error {
			if err := bm.matchBand(gctx, left, right, -1, y0, y1, dispLeft); err != nil {
				return err
			}
			return bm.matchBand(gctx, right, left, 1, y0, y1, dispRight)
		})
	}
	return g.Wait()
}

// matchBand computes the disparities of rows [y0, y1) of ref by searching other at
// x + dir*d for every candidate disparity d.
func (bm *BlockMatcher) matchBand(
	ctx context.Context,
	ref, other *rimage.Buffer[uint8],
	dir, y0, y1 int,
	out *rimage.Buffer[float32],
) error {
	w, h := ref.Width(), ref.Height()
	r := bm.WindowRadius
	if r < 0 {
		r = 0
	}
	dMin, dMax := bm.Params.DispMin, bm.Params.DispMax
	nd := dMax - dMin + 1

	for y := y0; y < y1; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = InvalidDisparity
		}
	}
	first, last := y0, y1
	if first < r {
		first = r
	}
	if last > h-r {
		last = h - r
	}
	if first >= last || w < 2*r+1 {
		return nil
	}

	// colSum[k][x] is the column of absolute differences for disparity dMin+k summed over the
	// window rows of the current output row.
	colSum := make([][]int32, nd)
	for k := range colSum {
		colSum[k] = make([]int32, w)
	}
	absDiff := func(x, y, k int) int32 {
		xo := x + dir*(dMin+k)
		if xo < 0 || xo >= w {
			return 0
		}
		a, b := int32(ref.At(x, y)), int32(other.At(xo, y))
		if a > b {
			return a - b
		}
		return b - a
	}
	for k := 0; k < nd; k++ {
		for j := first - r; j <= first+r; j++ {
			for x := 0; x < w; x++ {
				colSum[k][x] += absDiff(x, j, k)
			}
		}
	}

	costs := make([]int32, nd)
	for y := first; y < last; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if y > first {
			for k := 0; k < nd; k++ {
				for x := 0; x < w; x++ {
					colSum[k][x] += absDiff(x, y+r, k) - absDiff(x, y-r-1, k)
				}
			}
		}

		row := out.Row(y)
		for x := r; x < w-r; x++ {
			if bm.Params.MatchTexture > 0 && texture(ref, x, y, r) < float64(bm.Params.MatchTexture) {
				continue
			}
			n := 0
			for k := 0; k < nd; k++ {
				xo := x + dir*(dMin+k)
				if xo-r < 0 || xo+r >= w {
					costs[k] = -1
					continue
				}
				var c int32
				for i := x - r; i <= x+r; i++ {
					c += colSum[k][i]
				}
				costs[k] = c
				n++
			}
			if n == 0 {
				continue
			}
			if d, ok := bm.selectDisparity(costs); ok {
				row[x] = float32(d + float64(dMin))
			}
		}
	}
	return nil
}

// selectDisparity picks the cheapest candidate, rejects it when it is not unique enough against
// the best candidate that is not a direct neighbor, and refines it with a parabola fit.
func (bm *BlockMatcher) selectDisparity(costs []int32) (float64, bool) {
	best := -1
	for k, c := range costs {
		if c >= 0 && (best < 0 || c < costs[best]) {
			best = k
		}
	}
	if best < 0 {
		return 0, false
	}
	second := int32(-1)
	for k, c := range costs {
		if c < 0 || (k >= best-1 && k <= best+1) {
			continue
		}
		if second < 0 || c < second {
			second = c
		}
	}
	if second >= 0 && float64(costs[best]) >= bm.Params.SupportThreshold*float64(second) {
		return 0, false
	}

	d := float64(best)
	if best > 0 && best < len(costs)-1 && costs[best-1] >= 0 && costs[best+1] >= 0 {
		cm, c0, cp := float64(costs[best-1]), float64(costs[best]), float64(costs[best+1])
		if denom := cm - 2*c0 + cp; denom > 0 {
			d += math.Max(-0.5, math.Min(0.5, (cm-cp)/(2*denom)))
		}
	}
	return d, true
}

// texture is the mean absolute horizontal gradient in the window around (x, y).
func texture(img *rimage.Buffer[uint8], x, y, r int) float64 {
	var sum, n int
	for j := y - r; j <= y+r; j++ {
		row := img.Row(j)
		for i := x - r; i <= x+r; i++ {
			if i <= 0 || i >= len(row)-1 {
				continue
			}
			g := int(row[i+1]) - int(row[i-1])
			if g < 0 {
				g = -g
			}
			sum += g
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// subsample keeps every second pixel of every second row.
func subsample(disp *rimage.Buffer[float32]) *rimage.Buffer[float32] {
	out := rimage.NewBuffer[float32](disp.Width()/2, disp.Height()/2)
	for y := 0; y < out.Height(); y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = disp.At(2*x, 2*y)
		}
	}
	return out
}
