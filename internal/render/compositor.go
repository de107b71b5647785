// Package render draws lane results onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/perspective"
	"gocv.io/x/gocv"
)

// Overlay colors. gocv maps color.RGBA onto BGR Mats.
var (
	LaneGreen  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	LeftRed    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	RightBlue  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	CurveColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	TextWhite  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DefaultAlpha is the weight of the lane layer when blended onto a frame.
const DefaultAlpha = 0.3

// Compositor draws the lane polygon in the bird's-eye view, projects it
// back onto the camera frame and annotates the geometry.
type Compositor struct {
	warper *perspective.Warper
	alpha  float64
}

// NewCompositor returns a compositor that unwarps with w.
func NewCompositor(w *perspective.Warper) *Compositor {
	return &Compositor{warper: w, alpha: DefaultAlpha}
}

// DrawLane fills the area between the two fits across the full frame height
// and blends it onto frame. The caller owns the result.
func (c *Compositor) DrawLane(frame gocv.Mat, left, right lane.Fit) (gocv.Mat, error) {
	size := c.warper.Size()
	if frame.Cols() != size.X || frame.Rows() != size.Y || frame.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("draw lane: frame %dx%dx%d does not match %dx%dx3",
			frame.Cols(), frame.Rows(), frame.Channels(), size.X, size.Y)
	}

	layer := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	defer layer.Close()

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{LanePolygon(left, right, size.Y)})
	defer pv.Close()
	gocv.FillPoly(&layer, pv, LaneGreen)

	back, err := c.warper.Unwarp(layer)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("unwarp lane layer: %w", err)
	}
	defer back.Close()

	dst := gocv.NewMat()
	gocv.AddWeighted(frame, 1, back, c.alpha, 0, &dst)
	return dst, nil
}

// LanePolygon walks down the left curve and back up the right one.
func LanePolygon(left, right lane.Fit, height int) []image.Point {
	l := CurvePoints(left, height)
	r := CurvePoints(right, height)
	pts := make([]image.Point, 0, len(l)+len(r))
	pts = append(pts, l...)
	for i := len(r) - 1; i >= 0; i-- {
		pts = append(pts, r[i])
	}
	return pts
}

// CurvePoints samples a fit at every row from top to bottom.
func CurvePoints(f lane.Fit, height int) []image.Point {
	pts := make([]image.Point, 0, height)
	for y := 0; y < height; y++ {
		pts = append(pts, image.Pt(int(math.Round(f.Eval(float64(y)))), y))
	}
	return pts
}

// AddText writes the curvature radius and vehicle offset onto img.
func (c *Compositor) AddText(img *gocv.Mat, g lane.Geometry) {
	for i, line := range GeometryText(g) {
		gocv.PutText(img, line, image.Pt(50, 60+i*60), gocv.FontHersheySimplex, 1.5, TextWhite, 3)
	}
}

// AddNoLaneText marks a frame for which no lane has been acquired yet.
func (c *Compositor) AddNoLaneText(img *gocv.Mat) {
	gocv.PutText(img, "Lane not detected", image.Pt(50, 60), gocv.FontHersheySimplex, 1.5, TextWhite, 3)
}

// GeometryText formats the two overlay lines.
func GeometryText(g lane.Geometry) []string {
	radius := "Radius of Curvature = straight"
	if r := g.Radius(); !math.IsInf(r, 0) {
		radius = fmt.Sprintf("Radius of Curvature = %.0f(m)", r)
	}

	offset := "Vehicle is centered"
	if g.Side() != "center" {
		offset = fmt.Sprintf("Vehicle is %.2fm %s of center", math.Abs(g.OffsetMeters), g.Side())
	}
	return []string{radius, offset}
}
