package stereo

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
)

// DisparityStats summarizes the valid samples of a disparity field.
type DisparityStats struct {
	Valid   int
	Invalid int
	Min     float64
	Max     float64
	Mean    float64
	Median  float64
	StdDev  float64
}

// ValidFraction returns the share of pixels with a disparity.
func (s DisparityStats) ValidFraction() float64 {
	if s.Valid+s.Invalid == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Valid+s.Invalid)
}

// ComputeDisparityStats summarizes field. Negative and NaN samples count as invalid.
func ComputeDisparityStats(field *rimage.Buffer[float32]) (DisparityStats, error) {
	data := make(stats.Float64Data, 0, len(field.Data()))
	for _, d := range field.Data() {
		if d >= 0 && !math.IsNaN(float64(d)) {
			data = append(data, float64(d))
		}
	}
	s := DisparityStats{Valid: len(data), Invalid: len(field.Data()) - len(data)}
	if len(data) == 0 {
		return s, nil
	}

	var err error
	if s.Min, err = data.Min(); err != nil {
		return s, err
	}
	if s.Max, err = data.Max(); err != nil {
		return s, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return s, err
	}
	if s.Median, err = data.Median(); err != nil {
		return s, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return s, err
	}
	return s, nil
}
