// Package pipeline runs the per-frame lane finding stages and owns the
// temporal state of both lane trackers.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/ayusman/lanefinder/internal/calibration"
	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/monitoring"
	"github.com/ayusman/lanefinder/internal/perspective"
	"github.com/ayusman/lanefinder/internal/render"
	"github.com/ayusman/lanefinder/internal/threshold"
	"gocv.io/x/gocv"
)

// ErrShapeMismatch is returned when a frame does not have the configured
// size or is not 3-channel 8-bit.
var ErrShapeMismatch = errors.New("frame shape mismatch")

// Result is the outcome of processing one frame.
type Result struct {
	// Frame is the annotated camera frame. The caller must Close it.
	Frame gocv.Mat
	// Geometry is nil until both sides have been acquired.
	Geometry *lane.Geometry
	Mode     lane.Mode
	Left     lane.TrackState
	Right    lane.TrackState
}

// Close releases the annotated frame.
func (r *Result) Close() error {
	return r.Frame.Close()
}

// Pipeline turns camera frames into annotated frames and lane geometry.
// Frames must be fed in capture order.
type Pipeline struct {
	mu sync.Mutex

	cfg         Config
	cal         *calibration.Calibration
	thresholder *threshold.Thresholder
	region      *perspective.RegionMasker
	warper      *perspective.Warper
	searcher    *lane.Searcher
	left        *lane.Tracker
	right       *lane.Tracker
	compositor  *render.Compositor
}

// New validates cfg and builds every stage. cal may be nil, in which case
// distortion correction is a copy. The pipeline takes ownership of cal.
func New(cfg Config, cal *calibration.Calibration) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	th, err := threshold.New(cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	region, err := perspective.NewRegionMasker(cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	searcher, err := lane.NewSearcher(cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	left, err := lane.NewTracker("left", cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	right, err := lane.NewTracker("right", cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	warper, err := perspective.NewWarper(cfg.Mapping, image.Pt(cfg.Width, cfg.Height))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Pipeline{
		cfg:         cfg,
		cal:         cal,
		thresholder: th,
		region:      region,
		warper:      warper,
		searcher:    searcher,
		left:        left,
		right:       right,
		compositor:  render.NewCompositor(warper),
	}, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Process runs every stage on frame and updates both trackers.
func (p *Pipeline) Process(frame gocv.Mat) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkShape(frame); err != nil {
		return nil, err
	}

	undist := p.cal.Undistort(frame)
	defer undist.Close()

	warped, err := p.warpedMask(undist)
	if err != nil {
		return nil, err
	}
	defer warped.Close()

	tr, err := p.track(warped)
	if err != nil {
		return nil, err
	}

	out, geom, err := p.composite(undist, tr, true)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frame:    out,
		Geometry: geom,
		Mode:     tr.search.Mode,
		Left:     p.left.Snapshot(),
		Right:    p.right.Snapshot(),
	}, nil
}

// ProcessUntil runs the pipeline up to and including stage and returns that
// stage's output as a displayable 3-channel image. Masks are scaled to
// black and white. Stages from fit_polynomial on update the trackers the
// same way Process does. The caller must Close the result.
func (p *Pipeline) ProcessUntil(frame gocv.Mat, stage Stage) (gocv.Mat, error) {
	if !stage.valid() {
		return gocv.NewMat(), fmt.Errorf("%w: %d", ErrUnknownStage, int(stage))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkShape(frame); err != nil {
		return gocv.NewMat(), err
	}

	undist := p.cal.Undistort(frame)
	if stage == StageDistortionCorrection {
		return undist, nil
	}
	defer undist.Close()

	mask, err := p.thresholder.Apply(undist)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("apply thresholds: %w", err)
	}
	defer mask.Close()
	if stage == StageApplyThresholds {
		return render.MaskToBGR(mask), nil
	}

	roi, err := p.region.Apply(mask)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("region of interest: %w", err)
	}
	defer roi.Close()
	if stage == StageRegionOfInterest {
		return render.MaskToBGR(roi), nil
	}

	warped, err := p.warper.Warp(roi)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("warp perspective: %w", err)
	}
	defer warped.Close()
	if stage == StageWarpPerspective {
		return render.MaskToBGR(warped), nil
	}

	tr, err := p.track(warped)
	if err != nil {
		return gocv.NewMat(), err
	}
	if stage == StageFitPolynomial {
		return render.DrawFitDiagnostic(warped, tr.search, tr.leftFit, tr.rightFit)
	}

	out, _, err := p.composite(undist, tr, stage == StageAddText)
	return out, err
}

// Reset returns both trackers to their initial acquiring state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.left.Reset()
	p.right.Reset()
	monitoring.Logf("pipeline: trackers reset")
}

// Trackers returns snapshots of the left and right trackers.
func (p *Pipeline) Trackers() (left, right lane.TrackState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.left.Snapshot(), p.right.Snapshot()
}

// Close releases the native matrices held by the pipeline.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return errors.Join(p.warper.Close(), p.cal.Close())
}

func (p *Pipeline) checkShape(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("%w: empty frame", ErrShapeMismatch)
	}
	if frame.Cols() != p.cfg.Width || frame.Rows() != p.cfg.Height || frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: got %dx%dx%d, want %dx%dx3",
			ErrShapeMismatch, frame.Cols(), frame.Rows(), frame.Channels(), p.cfg.Width, p.cfg.Height)
	}
	return nil
}

// warpedMask produces the bird's-eye binary mask of an undistorted frame.
func (p *Pipeline) warpedMask(undist gocv.Mat) (gocv.Mat, error) {
	mask, err := p.thresholder.Apply(undist)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("apply thresholds: %w", err)
	}
	defer mask.Close()

	roi, err := p.region.Apply(mask)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("region of interest: %w", err)
	}
	defer roi.Close()

	warped, err := p.warper.Warp(roi)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("warp perspective: %w", err)
	}
	return warped, nil
}

type tracked struct {
	search   lane.SearchResult
	leftFit  *lane.Fit
	rightFit *lane.Fit
}

// track searches the warped mask, fits both sides and feeds the trackers.
func (p *Pipeline) track(warped gocv.Mat) (tracked, error) {
	px, err := lane.PixelsFromMat(warped)
	if err != nil {
		return tracked{}, fmt.Errorf("fit polynomial: %w", err)
	}

	var sr lane.SearchResult
	lprev, lok := p.left.Current()
	rprev, rok := p.right.Current()
	if p.left.NeedsSearch() || p.right.NeedsSearch() || !lok || !rok {
		sr = p.searcher.SlidingWindow(px)
	} else {
		sr = p.searcher.AroundFit(px, lprev, rprev)
	}

	tr := tracked{search: sr}
	if f, ok := p.left.Update(lane.FitCandidate(sr.Left)); ok {
		tr.leftFit = &f
	}
	if f, ok := p.right.Update(lane.FitCandidate(sr.Right)); ok {
		tr.rightFit = &f
	}
	return tr, nil
}

// composite draws the lane onto the undistorted frame. Without both fits
// the frame is only marked as having no lane.
func (p *Pipeline) composite(undist gocv.Mat, tr tracked, withText bool) (gocv.Mat, *lane.Geometry, error) {
	if tr.leftFit == nil || tr.rightFit == nil {
		out := undist.Clone()
		if withText {
			p.compositor.AddNoLaneText(&out)
		}
		return out, nil, nil
	}

	out, err := p.compositor.DrawLane(undist, *tr.leftFit, *tr.rightFit)
	if err != nil {
		return gocv.NewMat(), nil, fmt.Errorf("draw polygon: %w", err)
	}
	geom := lane.ComputeGeometry(*tr.leftFit, *tr.rightFit, p.cfg.Width, p.cfg.Height, p.cfg.Scale)
	if withText {
		p.compositor.AddText(&out, geom)
	}
	return out, &geom, nil
}
