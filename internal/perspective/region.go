package perspective

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// RegionMasker zeroes everything outside a fixed polygon covering the
// drivable road area.
type RegionMasker struct {
	vertices []image.Point
}

// NewRegionMasker returns a masker for the polygon with the given vertices.
func NewRegionMasker(vertices []image.Point) (*RegionMasker, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("%w: region needs at least 3 vertices, got %d", ErrInvalidMapping, len(vertices))
	}
	v := make([]image.Point, len(vertices))
	copy(v, vertices)
	return &RegionMasker{vertices: v}, nil
}

// Vertices returns a copy of the polygon vertices.
func (r *RegionMasker) Vertices() []image.Point {
	v := make([]image.Point, len(r.vertices))
	copy(v, r.vertices)
	return v
}

// Apply returns a copy of img with every pixel outside the polygon set to 0.
// It works for masks and color frames alike.
func (r *RegionMasker) Apply(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("region: empty image")
	}

	roi := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), img.Rows(), img.Cols(), img.Type())
	defer roi.Close()

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{r.vertices})
	defer pv.Close()
	gocv.FillPoly(&roi, pv, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	dst := gocv.NewMat()
	gocv.BitwiseAnd(img, roi, &dst)
	return dst, nil
}
