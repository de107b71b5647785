package perspective

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidMapping is returned when the source or destination point sets
// cannot define a homography.
var ErrInvalidMapping = errors.New("invalid perspective mapping")

// Point is an image-plane coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Mapping pairs the source trapezoid in the camera view with the
// destination rectangle in the bird's-eye view.
type Mapping struct {
	Src []Point `json:"src"`
	Dst []Point `json:"dst"`
}

// Validate checks that both point sets hold exactly four finite points.
func (m Mapping) Validate() error {
	if len(m.Src) != 4 || len(m.Dst) != 4 {
		return fmt.Errorf("%w: need 4 source and 4 destination points, got %d and %d",
			ErrInvalidMapping, len(m.Src), len(m.Dst))
	}
	for _, p := range append(append([]Point{}, m.Src...), m.Dst...) {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: non-finite point %v", ErrInvalidMapping, p)
		}
	}
	return nil
}

// computeHomography solves for the 3x3 matrix H mapping src[i] to dst[i]
// with h22 fixed at 1.
func computeHomography(src, dst []Point) (*mat.Dense, error) {
	A := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i

		// x = (h00 X + h01 Y + h02) / (h20 X + h21 Y + 1)
		A.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)

		// y = (h10 X + h11 Y + h12) / (h20 X + h21 Y + 1)
		A.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}

	var h mat.VecDense
	if err := h.SolveVec(A, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	H := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	})
	for _, v := range H.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: degenerate point configuration", ErrInvalidMapping)
		}
	}
	return H, nil
}

// invert returns the inverse homography normalized so that h22 = 1.
func invert(H *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(H); err != nil {
		return nil, fmt.Errorf("%w: homography is singular: %v", ErrInvalidMapping, err)
	}
	if s := inv.At(2, 2); s != 0 {
		inv.Scale(1/s, &inv)
	}
	return &inv, nil
}

func apply(H *mat.Dense, p Point) Point {
	denom := H.At(2, 0)*p.X + H.At(2, 1)*p.Y + H.At(2, 2)
	if denom == 0 {
		return Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point{
		X: (H.At(0, 0)*p.X + H.At(0, 1)*p.Y + H.At(0, 2)) / denom,
		Y: (H.At(1, 0)*p.X + H.At(1, 1)*p.Y + H.At(1, 2)) / denom,
	}
}
