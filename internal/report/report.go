// Package report summarizes a stored session and charts its curvature and
// offset per frame.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/store"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// MaxRadius caps plotted radii so near-straight stretches stay on the chart.
const MaxRadius = lane.StraightRadius

// ErrNoFrames is returned when a session has no frame results to report.
var ErrNoFrames = errors.New("no frames to report")

var (
	radiusColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	offsetColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	cutColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// Summary holds aggregate statistics of a session.
type Summary struct {
	Frames         int     `json:"frames"`
	Detected       int     `json:"detected"`
	SceneCuts      int     `json:"scene_cuts"`
	MedianRadiusM  float64 `json:"median_radius_m"`
	MeanOffsetM    float64 `json:"mean_offset_m"`
	MaxAbsOffsetM  float64 `json:"max_abs_offset_m"`
	DetectionRatio float64 `json:"detection_ratio"`
}

// Radius returns the mean of the finite side radii of a frame, capped at
// MaxRadius. ok is false when neither side has a finite radius.
func Radius(f *store.FrameResult) (float64, bool) {
	var sum float64
	var n int
	for _, r := range []*float64{f.Left.RadiusM, f.Right.RadiusM} {
		if r != nil {
			sum += math.Min(*r, MaxRadius)
			n++
		}
	}
	if n == 0 {
		if f.OffsetM != nil {
			// Geometry without finite radii is a straight lane.
			return MaxRadius, true
		}
		return 0, false
	}
	return sum / float64(n), true
}

// Summarize computes aggregate statistics over frames.
func Summarize(frames []*store.FrameResult) Summary {
	s := Summary{Frames: len(frames)}
	var radii, offsets []float64
	for _, f := range frames {
		if f.SceneCut {
			s.SceneCuts++
		}
		if f.OffsetM == nil {
			continue
		}
		s.Detected++
		offsets = append(offsets, *f.OffsetM)
		s.MaxAbsOffsetM = math.Max(s.MaxAbsOffsetM, math.Abs(*f.OffsetM))
		if r, ok := Radius(f); ok {
			radii = append(radii, r)
		}
	}

	if len(offsets) > 0 {
		s.MeanOffsetM = stat.Mean(offsets, nil)
	}
	if len(radii) > 0 {
		sort.Float64s(radii)
		s.MedianRadiusM = stat.Quantile(0.5, stat.Empirical, radii, nil)
	}
	if s.Frames > 0 {
		s.DetectionRatio = float64(s.Detected) / float64(s.Frames)
	}
	return s
}

// Render draws the radius and offset charts of a session, one above the
// other, and writes them as PNG.
func Render(w io.Writer, title string, frames []*store.FrameResult) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}

	radiusPts := make(plotter.XYs, 0, len(frames))
	offsetPts := make(plotter.XYs, 0, len(frames))
	cutPts := make(plotter.XYs, 0)
	for _, f := range frames {
		x := float64(f.FrameIndex)
		if r, ok := Radius(f); ok {
			radiusPts = append(radiusPts, plotter.XY{X: x, Y: r})
		}
		if f.OffsetM != nil {
			offsetPts = append(offsetPts, plotter.XY{X: x, Y: *f.OffsetM})
		}
		if f.SceneCut {
			cutPts = append(cutPts, plotter.XY{X: x, Y: 0})
		}
	}

	pRadius := plot.New()
	pRadius.Title.Text = fmt.Sprintf("%s - Radius of Curvature", title)
	pRadius.X.Label.Text = "Frame"
	pRadius.Y.Label.Text = "Radius (m)"

	pOffset := plot.New()
	pOffset.Title.Text = fmt.Sprintf("%s - Offset From Lane Center", title)
	pOffset.X.Label.Text = "Frame"
	pOffset.Y.Label.Text = "Offset (m, + = left)"
	pOffset.Add(plotter.NewGrid())

	if len(radiusPts) > 0 {
		line, err := plotter.NewLine(radiusPts)
		if err != nil {
			return err
		}
		line.Color = radiusColor
		line.Width = vg.Points(1)
		pRadius.Add(line)
	}
	if len(offsetPts) > 0 {
		line, err := plotter.NewLine(offsetPts)
		if err != nil {
			return err
		}
		line.Color = offsetColor
		line.Width = vg.Points(1)
		pOffset.Add(line)
		pOffset.Legend.Add("offset", line)
	}
	if len(cutPts) > 0 {
		cuts, err := plotter.NewScatter(cutPts)
		if err != nil {
			return err
		}
		cuts.Color = cutColor
		cuts.Shape = draw.CrossGlyph{}
		pOffset.Add(cuts)
		pOffset.Legend.Add("scene cut", cuts)
	}
	pOffset.Legend.Top = true
	pOffset.Legend.Left = false
	pOffset.Legend.XOffs = -10
	pOffset.Legend.YOffs = -10

	// Keep both panels on the same frame axis.
	xmin := math.Min(pRadius.X.Min, pOffset.X.Min)
	xmax := math.Max(pRadius.X.Max, pOffset.X.Max)
	pRadius.X.Min, pRadius.X.Max = xmin, xmax
	pOffset.X.Min, pOffset.X.Max = xmin, xmax

	img := vgimg.New(14*vg.Inch, 10*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Millimeter * 4}
	canvases := plot.Align([][]*plot.Plot{{pRadius}, {pOffset}}, tiles, dc)
	pRadius.Draw(canvases[0][0])
	pOffset.Draw(canvases[1][0])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Save renders the report to a PNG file, creating parent directories.
func Save(path, title string, frames []*store.FrameResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, title, frames); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
