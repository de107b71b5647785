// Package threshold turns an undistorted color frame into a binary mask of
// likely lane-marking pixels using Sobel gradients and the HLS saturation
// channel.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// ErrBadFrame is returned when the input is not a non-empty 3-channel frame.
var ErrBadFrame = errors.New("threshold input must be a 3-channel frame")

// Thresholder binarizes color frames. It holds no per-frame state.
type Thresholder struct {
	cfg Config
}

// New validates cfg and returns a Thresholder.
func New(cfg Config) (*Thresholder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Thresholder{cfg: cfg}, nil
}

// Config returns the configuration the thresholder was built with.
func (t *Thresholder) Config() Config {
	return t.cfg
}

// Apply returns a CV8UC1 mask of the same size as frame holding 1 where a
// pixel passes the combined test and 0 elsewhere. The caller owns the
// returned Mat.
//
// A pixel is on when (absX AND absY) OR (magnitude AND direction) OR
// saturation holds.
func (t *Thresholder) Apply(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() || frame.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("%w: got %d channels", ErrBadFrame, frame.Channels())
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	hls := gocv.NewMat()
	defer hls.Close()
	gocv.CvtColor(frame, &hls, gocv.ColorBGRToHLS)
	channels := gocv.Split(hls)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	grads := newGradientCache(gray)

	absX, err := t.absMask(grads, t.cfg.AbsX, true)
	if err != nil {
		return gocv.NewMat(), err
	}
	absY, err := t.absMask(grads, t.cfg.AbsY, false)
	if err != nil {
		return gocv.NewMat(), err
	}
	mag, err := t.magnitudeMask(grads)
	if err != nil {
		return gocv.NewMat(), err
	}
	dir, err := t.directionMask(grads)
	if err != nil {
		return gocv.NewMat(), err
	}

	sat := channels[2].ToBytes()

	out := make([]byte, len(sat))
	for i := range out {
		s := float64(sat[i])
		satOn := s >= t.cfg.Saturation.Low && s <= t.cfg.Saturation.High
		if (absX[i] && absY[i]) || (mag[i] && dir[i]) || satOn {
			out[i] = 1
		}
	}

	mask, err := gocv.NewMatFromBytes(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1, out)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("build mask: %w", err)
	}
	return mask, nil
}

// absMask thresholds the rescaled absolute x or y derivative.
func (t *Thresholder) absMask(grads *gradientCache, band GradientBand, xAxis bool) ([]bool, error) {
	gx, gy, err := grads.get(band.Kernel)
	if err != nil {
		return nil, err
	}
	g := gy
	if xAxis {
		g = gx
	}

	abs := make([]float64, len(g))
	for i, v := range g {
		abs[i] = math.Abs(v)
	}
	return inBand(rescale(abs), band.Low, band.High), nil
}

func (t *Thresholder) magnitudeMask(grads *gradientCache) ([]bool, error) {
	gx, gy, err := grads.get(t.cfg.Magnitude.Kernel)
	if err != nil {
		return nil, err
	}

	mag := make([]float64, len(gx))
	for i := range gx {
		mag[i] = math.Hypot(gx[i], gy[i])
	}
	return inBand(rescale(mag), t.cfg.Magnitude.Low, t.cfg.Magnitude.High), nil
}

func (t *Thresholder) directionMask(grads *gradientCache) ([]bool, error) {
	gx, gy, err := grads.get(t.cfg.Direction.Kernel)
	if err != nil {
		return nil, err
	}

	dir := make([]float64, len(gx))
	for i := range gx {
		dir[i] = math.Atan2(math.Abs(gy[i]), math.Abs(gx[i]))
	}
	return inBand(dir, t.cfg.Direction.Low, t.cfg.Direction.High), nil
}

// gradientCache computes each Sobel kernel size at most once per frame.
type gradientCache struct {
	gray gocv.Mat
	x, y map[int][]float64
}

func newGradientCache(gray gocv.Mat) *gradientCache {
	return &gradientCache{
		gray: gray,
		x:    make(map[int][]float64),
		y:    make(map[int][]float64),
	}
}

func (c *gradientCache) get(kernel int) ([]float64, []float64, error) {
	if gx, ok := c.x[kernel]; ok {
		return gx, c.y[kernel], nil
	}
	gx, err := sobel(c.gray, 1, 0, kernel)
	if err != nil {
		return nil, nil, err
	}
	gy, err := sobel(c.gray, 0, 1, kernel)
	if err != nil {
		return nil, nil, err
	}
	c.x[kernel] = gx
	c.y[kernel] = gy
	return gx, gy, nil
}

func sobel(gray gocv.Mat, dx, dy, kernel int) ([]float64, error) {
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Sobel(gray, &dst, gocv.MatTypeCV64F, dx, dy, kernel, 1, 0, gocv.BorderDefault)
	data, err := dst.DataPtrFloat64()
	if err != nil {
		return nil, fmt.Errorf("read sobel (%d,%d) k=%d: %w", dx, dy, kernel, err)
	}

	// data aliases dst, which is closed on return
	out := make([]float64, len(data))
	copy(out, data)
	return out, nil
}

// rescale maps values onto 0..255 relative to the frame maximum, truncating
// to whole levels the way an 8-bit conversion would.
func rescale(values []float64) []float64 {
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	if max == 0 {
		return out
	}
	for i, v := range values {
		out[i] = math.Floor(255 * v / max)
	}
	return out
}

func inBand(values []float64, low, high float64) []bool {
	out := make([]bool, len(values))
	for i, v := range values {
		out[i] = v >= low && v <= high
	}
	return out
}

// Binarize re-thresholds a single-channel 8-bit image to a {0,1} mask,
// turning on every pixel whose value lies in [low, high].
func Binarize(src gocv.Mat, low, high float64) (gocv.Mat, error) {
	if src.Empty() || src.Channels() != 1 {
		return gocv.NewMat(), fmt.Errorf("binarize: want 1 channel, got %d", src.Channels())
	}

	inRange := gocv.NewMat()
	defer inRange.Close()
	gocv.InRangeWithScalar(src, gocv.NewScalar(low, 0, 0, 0), gocv.NewScalar(high, 0, 0, 0), &inRange)

	dst := gocv.NewMat()
	gocv.Threshold(inRange, &dst, 0, 1, gocv.ThresholdBinary)
	return dst, nil
}
