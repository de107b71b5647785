package render

import (
	"image"
	"math"
	"testing"

	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/perspective"
	"gocv.io/x/gocv"
)

func TestGeometryText(t *testing.T) {
	tests := []struct {
		name string
		g    lane.Geometry
		want []string
	}{
		{
			name: "straight and centered",
			g:    lane.Geometry{LeftRadius: math.Inf(1), RightRadius: math.Inf(1)},
			want: []string{"Radius of Curvature = straight", "Vehicle is centered"},
		},
		{
			name: "curve left of center",
			g:    lane.Geometry{LeftRadius: 900, RightRadius: 1100, OffsetMeters: 0.254},
			want: []string{"Radius of Curvature = 1000(m)", "Vehicle is 0.25m left of center"},
		},
		{
			name: "one straight side right of center",
			g:    lane.Geometry{LeftRadius: 500, RightRadius: math.Inf(1), OffsetMeters: -0.31},
			want: []string{"Radius of Curvature = 500(m)", "Vehicle is 0.31m right of center"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeometryText(tt.g)
			if len(got) != len(tt.want) {
				t.Fatalf("GeometryText() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLanePolygon(t *testing.T) {
	left := lane.Fit{C: 100}
	right := lane.Fit{C: 300}

	pts := LanePolygon(left, right, 10)
	if len(pts) != 20 {
		t.Fatalf("polygon has %d points, want 20", len(pts))
	}
	if pts[0] != image.Pt(100, 0) || pts[9] != image.Pt(100, 9) {
		t.Errorf("left edge = %v..%v, want (100,0)..(100,9)", pts[0], pts[9])
	}
	// Right side runs bottom to top so the outline does not self-intersect.
	if pts[10] != image.Pt(300, 9) || pts[19] != image.Pt(300, 0) {
		t.Errorf("right edge = %v..%v, want (300,9)..(300,0)", pts[10], pts[19])
	}
}

func TestCurvePoints_FollowsFit(t *testing.T) {
	f := lane.Fit{A: 0.001, B: 0.1, C: 50}
	pts := CurvePoints(f, 100)
	for _, p := range pts {
		want := int(math.Round(f.Eval(float64(p.Y))))
		if p.X != want {
			t.Fatalf("x at row %d = %d, want %d", p.Y, p.X, want)
		}
	}
}

func testWarper(t *testing.T) *perspective.Warper {
	t.Helper()
	w, err := perspective.NewWarper(perspective.Mapping{
		Src: []perspective.Point{{X: 60, Y: 40}, {X: 10, Y: 99}, {X: 150, Y: 99}, {X: 100, Y: 40}},
		Dst: []perspective.Point{{X: 40, Y: 0}, {X: 40, Y: 99}, {X: 120, Y: 99}, {X: 120, Y: 0}},
	}, image.Pt(160, 100))
	if err != nil {
		t.Fatalf("NewWarper() error = %v", err)
	}
	return w
}

func TestDrawLane_TintsInsideLane(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	w := testWarper(t)
	defer w.Close()
	c := NewCompositor(w)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out, err := c.DrawLane(frame, lane.Fit{C: 40}, lane.Fit{C: 120})
	if err != nil {
		t.Fatalf("DrawLane() error = %v", err)
	}
	defer out.Close()

	// Bottom center of the camera view lies between the lane lines.
	inside := out.GetVecbAt(95, 80)
	if inside[1] == 0 {
		t.Errorf("pixel inside lane = %v, want green tint", inside)
	}
	if inside[0] != 0 || inside[2] != 0 {
		t.Errorf("pixel inside lane = %v, want only green", inside)
	}
	outside := out.GetVecbAt(95, 5)
	if outside[0] != 0 || outside[1] != 0 || outside[2] != 0 {
		t.Errorf("pixel outside lane = %v, want untouched", outside)
	}
}

func TestDrawLane_RejectsWrongSize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	w := testWarper(t)
	defer w.Close()
	c := NewCompositor(w)

	frame := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out, err := c.DrawLane(frame, lane.Fit{C: 40}, lane.Fit{C: 120})
	defer out.Close()
	if err == nil {
		t.Error("expected error for mismatched frame size")
	}
}

func TestDrawFitDiagnostic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	data := make([]byte, 100*160)
	data[50*160+40] = 1
	data[50*160+120] = 1
	mask, err := gocv.NewMatFromBytes(100, 160, gocv.MatTypeCV8UC1, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes() error = %v", err)
	}
	defer mask.Close()

	res := lane.SearchResult{
		Left:  lane.Candidate{X: []float64{40}, Y: []float64{50}},
		Right: lane.Candidate{X: []float64{120}, Y: []float64{50}},
	}
	out, err := DrawFitDiagnostic(mask, res, nil, nil)
	if err != nil {
		t.Fatalf("DrawFitDiagnostic() error = %v", err)
	}
	defer out.Close()

	if out.Channels() != 3 {
		t.Fatalf("channels = %d, want 3", out.Channels())
	}
	if v := out.GetVecbAt(50, 40); v[2] != 255 || v[0] != 0 {
		t.Errorf("left candidate pixel = %v, want red", v)
	}
	if v := out.GetVecbAt(50, 120); v[0] != 255 || v[2] != 0 {
		t.Errorf("right candidate pixel = %v, want blue", v)
	}
}

func TestMaskToBGR(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	mask, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC1, []byte{0, 1})
	if err != nil {
		t.Fatalf("NewMatFromBytes() error = %v", err)
	}
	defer mask.Close()

	out := MaskToBGR(mask)
	defer out.Close()

	if v := out.GetVecbAt(0, 1); v[0] != 255 || v[1] != 255 || v[2] != 255 {
		t.Errorf("set pixel = %v, want white", v)
	}
	if v := out.GetVecbAt(0, 0); v[0] != 0 {
		t.Errorf("clear pixel = %v, want black", v)
	}
}
