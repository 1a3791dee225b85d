package stereo

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"go.viam.com/test"

	"github.com/rock-image-processing/image-processing-stereo/logging"
	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
)

// rigNode is an ideal rig: identical cameras of the given size, focal length 50 and a 12cm
// baseline, so rectification leaves frames unchanged.
func rigNode(size image.Point) map[string]interface{} {
	cx, cy := float64(size.X-1)/2, float64(size.Y-1)/2
	return map[string]interface{}{
		"fx1": 50.0, "fy1": 50.0, "cx1": cx, "cy1": cy,
		"d01": 0.0, "d11": 0.0, "d21": 0.0, "d31": 0.0,
		"fx2": 50.0, "fy2": 50.0, "cx2": cx, "cy2": cy,
		"d02": 0.0, "d12": 0.0, "d22": 0.0, "d32": 0.0,
		"tx": -0.12, "ty": 0.0, "tz": 0.0,
		"rx": 0.0, "ry": 0.0, "rz": 0.0,
	}
}

var rigSize = image.Pt(64, 48)

func loadedStore(t *testing.T, size image.Point) *transform.CalibrationStore {
	t.Helper()
	store := transform.NewCalibrationStore(logging.NewTestLogger(t), transform.WithImageSize(size.X, size.Y))
	test.That(t, store.LoadCalibrationFromNode(rigNode(size)), test.ShouldBeNil)
	return store
}

// texturePair returns a random texture and the same texture moved left by shift pixels, as the
// right camera of a rig sees a fronto-parallel plane at disparity shift.
func texturePair(size image.Point, shift int, seed int64) (*image.Gray, *image.Gray) {
	rng := rand.New(rand.NewSource(seed))
	wide := make([][]uint8, size.Y)
	for y := range wide {
		wide[y] = make([]uint8, size.X+shift)
		for x := range wide[y] {
			wide[y][x] = uint8(rng.Intn(256))
		}
	}
	left := image.NewGray(image.Rectangle{Max: size})
	right := image.NewGray(image.Rectangle{Max: size})
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			left.SetGray(x, y, color.Gray{Y: wide[y][x]})
			right.SetGray(x, y, color.Gray{Y: wide[y][x+shift]})
		}
	}
	return left, right
}

func flatImage(size image.Point, v uint8) *image.Gray {
	img := image.NewGray(image.Rectangle{Max: size})
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func constantMatcher(left, right float32) MatcherFunc {
	return func(ctx context.Context, l, r *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
		dl := rimage.NewBuffer[float32](l.Width(), l.Height())
		dl.Fill(left)
		dr := rimage.NewBuffer[float32](r.Width(), r.Height())
		dr.Fill(right)
		return dl, dr, nil
	}
}
