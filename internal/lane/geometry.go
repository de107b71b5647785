package lane

import (
	"encoding/json"
	"math"
)

// Geometry is the per-frame lane measurement in meters.
//
// OffsetMeters is positive when the vehicle sits left of the lane center
// and negative when it sits right of it. The camera is assumed to be
// mounted on the vehicle's centerline.
type Geometry struct {
	LeftRadius   float64
	RightRadius  float64
	OffsetMeters float64
}

// Radius returns the mean of the finite side radii, or +Inf when both lines
// are straight.
func (g Geometry) Radius() float64 {
	l, r := math.IsInf(g.LeftRadius, 0), math.IsInf(g.RightRadius, 0)
	switch {
	case l && r:
		return math.Inf(1)
	case l:
		return g.RightRadius
	case r:
		return g.LeftRadius
	default:
		return (g.LeftRadius + g.RightRadius) / 2
	}
}

// Side returns which side of the lane center the vehicle is on.
func (g Geometry) Side() string {
	switch {
	case g.OffsetMeters > 0:
		return "left"
	case g.OffsetMeters < 0:
		return "right"
	default:
		return "center"
	}
}

// MarshalJSON writes straight-line radii as null.
func (g Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		LeftRadius   *float64 `json:"left_radius_m"`
		RightRadius  *float64 `json:"right_radius_m"`
		Radius       *float64 `json:"radius_m"`
		OffsetMeters float64  `json:"offset_m"`
		Side         string   `json:"side"`
	}{
		LeftRadius:   finiteOrNil(g.LeftRadius),
		RightRadius:  finiteOrNil(g.RightRadius),
		Radius:       finiteOrNil(g.Radius()),
		OffsetMeters: g.OffsetMeters,
		Side:         g.Side(),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// StraightRadius is the radius in meters above which a line counts as
// straight.
const StraightRadius = 10000.0

// CurvatureRadius returns the radius of curvature in meters of a pixel-space
// fit at row yEval. Straight lines, including fits whose quadratic term is
// only rounding noise, have radius +Inf.
func CurvatureRadius(f Fit, yEval float64, s Scale) float64 {
	m := f.Scaled(s)
	if m.A == 0 {
		return math.Inf(1)
	}
	y := yEval * s.MetersPerPixelY
	d := 2*m.A*y + m.B
	r := math.Pow(1+d*d, 1.5) / math.Abs(2*m.A)
	if r > StraightRadius {
		return math.Inf(1)
	}
	return r
}

// ComputeGeometry measures both lines at the bottom row of a width x height
// bird's-eye frame.
func ComputeGeometry(left, right Fit, width, height int, s Scale) Geometry {
	y0 := float64(height - 1)
	mid := (left.Eval(y0) + right.Eval(y0)) / 2
	return Geometry{
		LeftRadius:   CurvatureRadius(left, y0, s),
		RightRadius:  CurvatureRadius(right, y0, s),
		OffsetMeters: (mid - float64(width)/2) * s.MetersPerPixelX,
	}
}
