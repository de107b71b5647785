package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ayusman/lanefinder/internal/lane"
	"gocv.io/x/gocv"
)

// MaskToBGR scales a {0,1} mask to a black/white 3-channel image.
func MaskToBGR(mask gocv.Mat) gocv.Mat {
	scaled := gocv.NewMat()
	defer scaled.Close()
	mask.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, 255, 0)

	dst := gocv.NewMat()
	gocv.CvtColor(scaled, &dst, gocv.ColorGrayToBGR)
	return dst
}

// DrawFitDiagnostic renders the bird's-eye mask with the candidate pixels of
// each side colored, the sliding windows outlined and the fitted curves
// traced. left or right may be nil when that side has no fit.
func DrawFitDiagnostic(mask gocv.Mat, res lane.SearchResult, left, right *lane.Fit) (gocv.Mat, error) {
	if mask.Empty() || mask.Channels() != 1 {
		return gocv.NewMat(), fmt.Errorf("fit diagnostic needs a single-channel mask")
	}

	w, h := mask.Cols(), mask.Rows()
	src := mask.ToBytes()
	data := make([]byte, w*h*3)
	for i, v := range src {
		if v != 0 {
			data[3*i], data[3*i+1], data[3*i+2] = 255, 255, 255
		}
	}
	paint(data, w, res.Left, LeftRed)
	paint(data, w, res.Right, RightBlue)

	out, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("build diagnostic: %w", err)
	}
	// Detach from the Go slice before drawing on it.
	img := out.Clone()
	out.Close()

	for _, win := range res.Windows {
		gocv.Rectangle(&img, win, LaneGreen, 2)
	}
	for _, f := range []*lane.Fit{left, right} {
		if f == nil {
			continue
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{CurvePoints(*f, h)})
		gocv.Polylines(&img, pv, false, CurveColor, 3)
		pv.Close()
	}
	return img, nil
}

func paint(data []byte, width int, c lane.Candidate, col color.RGBA) {
	for i := range c.X {
		idx := 3 * (int(c.Y[i])*width + int(c.X[i]))
		if idx < 0 || idx+2 >= len(data) {
			continue
		}
		// BGR byte order
		data[idx], data[idx+1], data[idx+2] = col.B, col.G, col.R
	}
}
