package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownStage is returned for a stage outside the known set.
var ErrUnknownStage = errors.New("unknown stage")

// Stage names a point in the per-frame pipeline at which processing can stop.
type Stage int

const (
	StageDistortionCorrection Stage = iota
	StageApplyThresholds
	StageRegionOfInterest
	StageWarpPerspective
	StageFitPolynomial
	StageDrawPolygon
	StageAddText
)

var stageNames = [...]string{
	StageDistortionCorrection: "distortion_correction",
	StageApplyThresholds:      "apply_thresholds",
	StageRegionOfInterest:     "region_of_interest",
	StageWarpPerspective:      "warp_perspective",
	StageFitPolynomial:        "fit_polynomial",
	StageDrawPolygon:          "draw_polygon",
	StageAddText:              "add_text",
}

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageNames))
	for i := range stageNames {
		out[i] = Stage(i)
	}
	return out
}

func (s Stage) valid() bool {
	return s >= 0 && int(s) < len(stageNames)
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage maps a snake_case stage name to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}
