// Package lane finds lane-line pixels in a bird's-eye binary mask, fits
// second-order polynomials to them and tracks the fits across frames.
package lane

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Detection failures. These are consumed by Tracker.Update and never
// surface from the pipeline.
var (
	ErrTooFewPixels  = errors.New("too few lane pixels to fit")
	ErrDegenerateFit = errors.New("degenerate lane fit")
)

// minFitPoints is the smallest candidate a quadratic can be fitted to.
const minFitPoints = 3

// Fit holds the coefficients of x = A*y^2 + B*y + C.
type Fit struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Eval returns x at row y.
func (f Fit) Eval(y float64) float64 {
	return f.A*y*y + f.B*y + f.C
}

// Scaled re-expresses a pixel-space fit in meters, given that x_m = mx*x and
// y_m = my*y.
func (f Fit) Scaled(s Scale) Fit {
	mx, my := s.MetersPerPixelX, s.MetersPerPixelY
	return Fit{
		A: f.A * mx / (my * my),
		B: f.B * mx / my,
		C: f.C * mx,
	}
}

func (f Fit) finite() bool {
	for _, v := range []float64{f.A, f.B, f.C} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func meanFit(fits []Fit) Fit {
	var m Fit
	if len(fits) == 0 {
		return m
	}
	for _, f := range fits {
		m.A += f.A
		m.B += f.B
		m.C += f.C
	}
	n := float64(len(fits))
	return Fit{A: m.A / n, B: m.B / n, C: m.C / n}
}

// Candidate is the set of pixels attributed to one lane line in the current
// frame.
type Candidate struct {
	X []float64
	Y []float64
}

// Len returns the number of pixels in the candidate.
func (c Candidate) Len() int {
	return len(c.X)
}

func (c *Candidate) add(x, y int) {
	c.X = append(c.X, float64(x))
	c.Y = append(c.Y, float64(y))
}

// FitCandidate least-squares fits x = A*y^2 + B*y + C to the candidate.
// Rows are normalized before solving to keep the system well conditioned.
func FitCandidate(c Candidate) (Fit, error) {
	n := c.Len()
	if n < minFitPoints || len(c.Y) != n {
		return Fit{}, fmt.Errorf("%w: %d pixels", ErrTooFewPixels, n)
	}

	rows := make(map[float64]struct{})
	var s float64
	for _, y := range c.Y {
		rows[y] = struct{}{}
		if a := math.Abs(y); a > s {
			s = a
		}
	}
	if len(rows) < minFitPoints {
		return Fit{}, fmt.Errorf("%w: pixels span only %d rows", ErrDegenerateFit, len(rows))
	}

	A := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		t := c.Y[i] / s
		A.Set(i, 0, t*t)
		A.Set(i, 1, t)
		A.Set(i, 2, 1)
		b.SetVec(i, c.X[i])
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, b); err != nil {
		return Fit{}, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	f := Fit{
		A: params.AtVec(0) / (s * s),
		B: params.AtVec(1) / s,
		C: params.AtVec(2),
	}
	if !f.finite() {
		return Fit{}, fmt.Errorf("%w: non-finite coefficients", ErrDegenerateFit)
	}
	return f, nil
}
