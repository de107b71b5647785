package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// sceneSampleWidth and sceneSampleHeight are the size frames are
	// shrunk to before comparison.
	sceneSampleWidth  = 160
	sceneSampleHeight = 90
	// sceneBlurSize is the Gaussian kernel applied to the shrunk frame.
	sceneBlurSize = 5
	// sceneDiffLevel is the per-pixel gray difference that counts as changed.
	sceneDiffLevel = 40
)

// DefaultSceneCutThreshold is the fraction of changed pixels that marks a cut.
const DefaultSceneCutThreshold = 0.6

// SceneCutDetector flags frames that do not continue the previous one, such
// as the start of an unrelated clip in a concatenated stream.
type SceneCutDetector struct {
	threshold float64

	mu          sync.Mutex
	prev        gocv.Mat
	initialized bool
}

// NewSceneCutDetector returns a detector that reports a cut when more than
// threshold (0..1) of the pixels change between consecutive frames.
func NewSceneCutDetector(threshold float64) *SceneCutDetector {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSceneCutThreshold
	}
	return &SceneCutDetector{
		threshold: threshold,
		prev:      gocv.NewMat(),
	}
}

// Threshold returns the changed-pixel fraction that triggers a cut.
func (d *SceneCutDetector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Detect compares frame with the previous one and reports whether it starts
// a new scene, along with the fraction of pixels that changed. The first
// frame only sets the baseline.
func (d *SceneCutDetector) Detect(frame gocv.Mat) (bool, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return false, 0
	}

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(frame, &small, image.Pt(sceneSampleWidth, sceneSampleHeight), 0, 0, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	if small.Channels() > 1 {
		gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)
	} else {
		small.CopyTo(&gray)
	}
	gocv.GaussianBlur(gray, &gray, image.Pt(sceneBlurSize, sceneBlurSize), 0, 0, gocv.BorderDefault)

	if !d.initialized {
		gray.CopyTo(&d.prev)
		d.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, d.prev, &diff)
	gocv.Threshold(diff, &diff, sceneDiffLevel, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols())
	gray.CopyTo(&d.prev)

	return changed > d.threshold, changed
}

// Reset forgets the baseline frame.
func (d *SceneCutDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release()
}

// Close releases the baseline frame. The detector may be used again.
func (d *SceneCutDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release()
}

func (d *SceneCutDetector) release() {
	if !d.prev.Empty() {
		d.prev.Close()
		d.prev = gocv.NewMat()
	}
	d.initialized = false
}
