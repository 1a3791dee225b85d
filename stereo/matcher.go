package stereo

import (
	"context"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
)

// InvalidDisparity marks pixels without a disparity estimate.
const InvalidDisparity float32 = -10

// Matcher computes dense disparity maps for a rectified 8-bit gray pair. Both results must have
// the matcher's output size for the input frames; the left map is referenced to the left frame
// and the right map to the right frame.
type Matcher interface {
	Match(ctx context.Context, left, right *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, left, right *rimage.Buffer[uint8]) (*rimage.Buffer[float32], *rimage.Buffer[float32], error)

// Match calls f.
func (f MatcherFunc) Match(
	ctx context.Context,
	left, right *rimage.Buffer[uint8],
) (*rimage.Buffer[float32], *rimage.Buffer[float32], error) {
	return f(ctx, left, right)
}
