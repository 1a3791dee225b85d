package stereo

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

func testMatcher(t *testing.T) *BlockMatcher {
	t.Helper()
	params := PipelineParameters()
	params.DispMax = 16
	bm, err := NewBlockMatcher(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return bm
}

func texturePairImages(size image.Point, shift int, seed int64) [2]image.Image {
	left, right := texturePair(size, shift, seed)
	return [2]image.Image{left, right}
}

func toBuffers(t *testing.T, pair [2]image.Image) (*rimage.Buffer[uint8], *rimage.Buffer[uint8]) {
	t.Helper()
	left, right := pair[0], pair[1]
	l, err := rimage.ToGray(left)
	test.That(t, err, test.ShouldBeNil)
	r, err := rimage.ToGray(right)
	test.That(t, err, test.ShouldBeNil)
	return l, r
}

// fractionNear returns the share of samples in rect within 0.5 of want.
func fractionNear(field *rimage.Buffer[float32], rect image.Rectangle, want float64) float64 {
	near := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if math.Abs(float64(field.At(x, y))-want) < 0.5 {
				near++
			}
		}
	}
	return float64(near) / float64(rect.Dx()*rect.Dy())
}

func TestBlockMatcherRecoversShift(t *testing.T) {
	bm := testMatcher(t)
	left, right := toBuffers(t, texturePairImages(rigSize, 5, 1))

	for _, workers := range []int{1, 3, 0} {
		bm.Workers = workers
		dispLeft, dispRight, err := bm.Match(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dispLeft.Size(), test.ShouldResemble, rigSize)
		test.That(t, dispRight.Size(), test.ShouldResemble, rigSize)

		test.That(t, fractionNear(dispLeft, image.Rect(24, 4, 58, 44), 5), test.ShouldBeGreaterThan, 0.95)
		test.That(t, fractionNear(dispRight, image.Rect(4, 4, 40, 44), 5), test.ShouldBeGreaterThan, 0.95)

		// the left view has no match for its leftmost columns
		test.That(t, dispLeft.At(0, 20), test.ShouldEqual, InvalidDisparity)
	}
}

func TestBlockMatcherTexturelessIsInvalid(t *testing.T) {
	bm := testMatcher(t)
	left, right := toBuffers(t, [2]image.Image{flatImage(rigSize, 90), flatImage(rigSize, 90)})
	dispLeft, dispRight, err := bm.Match(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	for _, field := range []*rimage.Buffer[float32]{dispLeft, dispRight} {
		minD, maxD := field.MinMax()
		test.That(t, minD, test.ShouldEqual, InvalidDisparity)
		test.That(t, maxD, test.ShouldEqual, InvalidDisparity)
	}
}

func TestBlockMatcherSubsampling(t *testing.T) {
	bm := testMatcher(t)
	bm.Params.Subsampling = true
	left, right := toBuffers(t, texturePairImages(rigSize, 4, 2))
	dispLeft, dispRight, err := bm.Match(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dispLeft.Size(), test.ShouldResemble, bm.Params.OutputSize(rigSize.X, rigSize.Y))
	test.That(t, dispRight.Size(), test.ShouldResemble, image.Pt(32, 24))
	// disparities stay in full resolution pixels
	test.That(t, fractionNear(dispLeft, image.Rect(12, 2, 29, 22), 4), test.ShouldBeGreaterThan, 0.9)
}

func TestBlockMatcherErrors(t *testing.T) {
	bm := testMatcher(t)
	left, _ := toBuffers(t, [2]image.Image{flatImage(rigSize, 1), flatImage(rigSize, 1)})
	_, _, err := bm.Match(context.Background(), left, rimage.NewBuffer[uint8](10, 10))
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, r := toBuffers(t, texturePairImages(rigSize, 3, 3))
	_, _, err = bm.Match(ctx, l, r)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	params := DefaultRoboticsParameters()
	params.DispMax = params.DispMin
	_, err = NewBlockMatcher(params, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, utils.ErrMatcherFailure), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disp_max")
}

func TestSelectDisparity(t *testing.T) {
	bm := &BlockMatcher{Params: DefaultRoboticsParameters()}

	d, ok := bm.selectDisparity([]int32{50, 10, 0, 10, 50})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldEqual, 2.0)

	d, ok = bm.selectDisparity([]int32{50, 20, 0, 10, 50})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldAlmostEqual, 2+10.0/60)

	// a second minimum away from the best is ambiguous
	_, ok = bm.selectDisparity([]int32{11, 40, 10, 40, 50})
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = bm.selectDisparity([]int32{-1, -1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPostprocessFilters(t *testing.T) {
	disp := rimage.NewBuffer[float32](7, 1)
	copy(disp.Data(), []float32{4, InvalidDisparity, InvalidDisparity, 6, InvalidDisparity, 20, 20})
	interpolateGaps(disp, 2)
	test.That(t, disp.Data(), test.ShouldResemble, []float32{4, 5, 5, 6, 6, 20, 20})

	speckles := rimage.NewBuffer[float32](5, 5)
	speckles.Fill(3)
	speckles.Set(2, 2, 30)
	removeSpeckles(speckles, 1, 2)
	test.That(t, speckles.At(2, 2), test.ShouldEqual, InvalidDisparity)
	test.That(t, speckles.At(0, 0), test.ShouldEqual, float32(3))

	leftDisp := rimage.NewBuffer[float32](6, 1)
	copy(leftDisp.Data(), []float32{InvalidDisparity, InvalidDisparity, 2, 2, 2, 2})
	rightDisp := rimage.NewBuffer[float32](6, 1)
	copy(rightDisp.Data(), []float32{2, 2, 2, 9, InvalidDisparity, InvalidDisparity})
	checked := leftRightCheck(leftDisp, rightDisp, -1, 2)
	test.That(t, checked.Data(), test.ShouldResemble,
		[]float32{InvalidDisparity, InvalidDisparity, 2, 2, 2, InvalidDisparity})

	median := rimage.NewBuffer[float32](3, 3)
	median.Fill(1)
	median.Set(1, 1, 9)
	median3x3(median)
	test.That(t, median.At(1, 1), test.ShouldEqual, float32(1))
}
