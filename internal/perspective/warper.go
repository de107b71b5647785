// Package perspective restricts masks to the road region of interest and
// rectifies frames into a bird's-eye view with a fixed homography.
package perspective

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Warper applies the forward and inverse homography of a Mapping.
type Warper struct {
	size    image.Point
	forward *mat.Dense
	inverse *mat.Dense
	fwdMat  gocv.Mat
	invMat  gocv.Mat
}

// NewWarper computes both homographies once. size is the output frame size
// (width, height) for both directions.
func NewWarper(m Mapping, size image.Point) (*Warper, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: frame size %v", ErrInvalidMapping, size)
	}

	forward, err := computeHomography(m.Src, m.Dst)
	if err != nil {
		return nil, err
	}
	inverse, err := invert(forward)
	if err != nil {
		return nil, err
	}

	return &Warper{
		size:    size,
		forward: forward,
		inverse: inverse,
		fwdMat:  toMat(forward),
		invMat:  toMat(inverse),
	}, nil
}

func toMat(H *mat.Dense) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, H.At(r, c))
		}
	}
	return m
}

// Size returns the frame size the warper produces.
func (w *Warper) Size() image.Point {
	return w.size
}

// Warp rectifies img into the bird's-eye view. The caller owns the result.
func (w *Warper) Warp(img gocv.Mat) (gocv.Mat, error) {
	return w.warp(img, w.fwdMat)
}

// Unwarp projects a bird's-eye image back into the camera perspective.
func (w *Warper) Unwarp(img gocv.Mat) (gocv.Mat, error) {
	return w.warp(img, w.invMat)
}

// warp uses nearest-neighbour sampling for single-channel masks so that
// {0,1} values survive, and bilinear sampling for color images.
func (w *Warper) warp(img gocv.Mat, H gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("warp: empty image")
	}

	interp := gocv.InterpolationLinear
	if img.Channels() == 1 {
		interp = gocv.InterpolationNearestNeighbor
	}

	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(img, &dst, H, w.size, interp, gocv.BorderConstant, color.RGBA{})
	return dst, nil
}

// WarpPoint maps a camera-view point into the bird's-eye view.
func (w *Warper) WarpPoint(p Point) Point {
	return apply(w.forward, p)
}

// UnwarpPoint maps a bird's-eye point back into the camera view.
func (w *Warper) UnwarpPoint(p Point) Point {
	return apply(w.inverse, p)
}

// Close releases the native homography matrices.
func (w *Warper) Close() error {
	if err := w.fwdMat.Close(); err != nil {
		return err
	}
	return w.invMat.Close()
}
