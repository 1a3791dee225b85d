package stereo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// DisparityPath returns the output path for the disparity image of the frame at path: the same
// directory and name, with the extension replaced by "_disp.pgm".
func DisparityPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_disp.pgm"
}

// ProcessImageFiles processes a pair of PGM frames and writes the normalized disparity maps
// next to the inputs. Either both outputs are written or none is.
func (p *DisparityPipeline) ProcessImageFiles(ctx context.Context, pathA, pathB string) (outA, outB string, err error) {
	a, err := rimage.ReadPGMFile(pathA)
	if err != nil {
		return "", "", err
	}
	b, err := rimage.ReadPGMFile(pathB)
	if err != nil {
		return "", "", err
	}
	left, right, err := p.ProcessFramePair(ctx, rimage.GrayImage(a), rimage.GrayImage(b))
	if err != nil {
		return "", "", err
	}
	dispA, err := rimage.ToGray(left)
	if err != nil {
		return "", "", err
	}
	dispB, err := rimage.ToGray(right)
	if err != nil {
		return "", "", err
	}

	outA, outB = DisparityPath(pathA), DisparityPath(pathB)
	if err := rimage.WritePGMFile(outA, dispA); err != nil {
		return "", "", multierr.Combine(err, removeOutput(outA))
	}
	if err := rimage.WritePGMFile(outB, dispB); err != nil {
		return "", "", multierr.Combine(err, removeOutput(outA), removeOutput(outB))
	}
	p.logger.Infow("wrote disparity images", "left", outA, "right", outB)
	return outA, outB, nil
}

func removeOutput(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return utils.NewIOError(path, err)
	}
	return nil
}
