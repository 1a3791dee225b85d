// Package stereo turns a raw stereo frame pair into disparity and distance images: it rectifies
// the frames with a calibration, runs a dense matcher and converts the float disparities into
// displayable 8-bit images and metric distances.
package stereo

import (
	"fmt"
	"image"

	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// ElasParameters configure dense matching. The field set is that of the ELAS matcher; a Matcher
// uses the fields that apply to its algorithm.
type ElasParameters struct {
	DispMin             int     `json:"disp_min"`
	DispMax             int     `json:"disp_max"`
	SupportThreshold    float64 `json:"support_threshold"`
	SupportTexture      int     `json:"support_texture"`
	CandidateStepsize   int     `json:"candidate_stepsize"`
	InconWindowSize     int     `json:"incon_window_size"`
	InconThreshold      int     `json:"incon_threshold"`
	InconMinSupport     int     `json:"incon_min_support"`
	AddCorners          bool    `json:"add_corners"`
	GridSize            int     `json:"grid_size"`
	Beta                float64 `json:"beta"`
	Gamma               float64 `json:"gamma"`
	Sigma               float64 `json:"sigma"`
	SRadius             float64 `json:"sradius"`
	MatchTexture        int     `json:"match_texture"`
	LRThreshold         int     `json:"lr_threshold"`
	SpeckleSimThreshold float64 `json:"speckle_sim_threshold"`
	SpeckleSize         int     `json:"speckle_size"`
	IpolGapWidth        int     `json:"ipol_gap_width"`
	FilterMedian        bool    `json:"filter_median"`
	FilterAdaptiveMean  bool    `json:"filter_adaptive_mean"`
	PostprocessOnlyLeft bool    `json:"postprocess_only_left"`
	Subsampling         bool    `json:"subsampling"`
}

// DefaultRoboticsParameters returns the parameter set tuned for robot navigation: faster, with
// unmatched regions left invalid.
func DefaultRoboticsParameters() ElasParameters {
	return ElasParameters{
		DispMin:             0,
		DispMax:             255,
		SupportThreshold:    0.85,
		SupportTexture:      10,
		CandidateStepsize:   5,
		InconWindowSize:     5,
		InconThreshold:      5,
		InconMinSupport:     5,
		AddCorners:          false,
		GridSize:            20,
		Beta:                0.02,
		Gamma:               3,
		Sigma:               1,
		SRadius:             2,
		MatchTexture:        1,
		LRThreshold:         2,
		SpeckleSimThreshold: 1,
		SpeckleSize:         200,
		IpolGapWidth:        3,
		FilterMedian:        false,
		FilterAdaptiveMean:  true,
		PostprocessOnlyLeft: true,
		Subsampling:         false,
	}
}

// DefaultMiddleburyParameters returns the parameter set tuned for benchmark imagery: every pixel
// gets a disparity, with large gaps interpolated.
func DefaultMiddleburyParameters() ElasParameters {
	p := DefaultRoboticsParameters()
	p.AddCorners = true
	p.Gamma = 5
	p.SRadius = 3
	p.MatchTexture = 0
	p.IpolGapWidth = 5000
	p.FilterMedian = true
	p.FilterAdaptiveMean = false
	p.PostprocessOnlyLeft = false
	return p
}

// PipelineParameters returns the robotics set with both disparity maps post-processed, which
// is what the pipeline needs since both maps are returned.
func PipelineParameters() ElasParameters {
	p := DefaultRoboticsParameters()
	p.PostprocessOnlyLeft = false
	return p
}

// Validate checks the parameter ranges.
func (p *ElasParameters) Validate() error {
	check := func(ok bool, field, problem string) error {
		if ok {
			return nil
		}
		return utils.NewError(utils.ErrMatcherFailure, nil, "parameter %q %s", field, problem)
	}
	for _, err := range []error{
		check(p.DispMin >= 0, "disp_min", "must not be negative"),
		check(p.DispMax > p.DispMin, "disp_max", fmt.Sprintf("must be greater than disp_min (%d)", p.DispMin)),
		check(p.SupportThreshold > 0 && p.SupportThreshold <= 1, "support_threshold", "must be in (0, 1]"),
		check(p.MatchTexture >= 0, "match_texture", "must not be negative"),
		check(p.LRThreshold >= 0, "lr_threshold", "must not be negative"),
		check(p.SpeckleSimThreshold >= 0, "speckle_sim_threshold", "must not be negative"),
		check(p.SpeckleSize >= 0, "speckle_size", "must not be negative"),
		check(p.IpolGapWidth >= 0, "ipol_gap_width", "must not be negative"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// OutputSize returns the size of the disparity maps computed for width x height frames.
// Subsampling halves both dimensions, rounding down.
func (p *ElasParameters) OutputSize(width, height int) image.Point {
	if p.Subsampling {
		return image.Pt(width/2, height/2)
	}
	return image.Pt(width, height)
}
