// Package testdata generates synthetic road frames for tests.
package testdata

import (
	"image"
	"image/color"
	"math"

	"github.com/ayusman/lanefinder/internal/perspective"
	"gocv.io/x/gocv"
)

var (
	roadGray   = gocv.NewScalar(90, 90, 90, 0)
	laneYellow = color.RGBA{R: 255, G: 220, B: 0, A: 255}
)

// RoadFrame draws a gray road with two yellow lane lines. The lines are
// straight and vertical at warpedLeft and warpedRight in the bird's-eye view
// of w, and are projected back into camera space. The caller owns the frame.
func RoadFrame(w *perspective.Warper, warpedLeft, warpedRight float64) gocv.Mat {
	size := w.Size()
	frame := gocv.NewMatWithSizeFromScalar(roadGray, size.Y, size.X, gocv.MatTypeCV8UC3)

	for _, x := range []float64{warpedLeft, warpedRight} {
		pts := make([]image.Point, 0, size.Y/20+1)
		for y := 0; y <= size.Y; y += 20 {
			p := w.UnwarpPoint(perspective.Point{X: x, Y: float64(y)})
			pts = append(pts, image.Pt(int(math.Round(p.X)), int(math.Round(p.Y))))
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		gocv.Polylines(&frame, pv, false, laneYellow, 14)
		pv.Close()
	}
	return frame
}

// SolidFrame returns a frame filled with one BGR color.
func SolidFrame(width, height int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), height, width, gocv.MatTypeCV8UC3)
}
