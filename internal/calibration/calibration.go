// Package calibration loads precomputed camera intrinsics and removes lens
// distortion from frames. Estimating the parameters happens elsewhere.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// ErrInvalidCalibration is returned for calibration files of the wrong shape.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Params is the on-disk form of a camera calibration.
type Params struct {
	// CameraMatrix is the 3x3 intrinsic matrix in row-major order.
	CameraMatrix []float64 `json:"camera_matrix"`
	// DistCoeffs holds k1, k2, p1, p2[, k3].
	DistCoeffs []float64 `json:"dist_coeffs"`
}

// Validate checks the matrix and coefficient counts.
func (p Params) Validate() error {
	if len(p.CameraMatrix) != 9 {
		return fmt.Errorf("%w: camera_matrix needs 9 values, got %d", ErrInvalidCalibration, len(p.CameraMatrix))
	}
	switch len(p.DistCoeffs) {
	case 4, 5:
	default:
		return fmt.Errorf("%w: dist_coeffs needs 4 or 5 values, got %d", ErrInvalidCalibration, len(p.DistCoeffs))
	}
	return nil
}

// Calibration holds the native matrices used by Undistort.
type Calibration struct {
	params       Params
	cameraMatrix gocv.Mat
	distCoeffs   gocv.Mat
}

// New builds a Calibration from validated parameters.
func New(p Params) (*Calibration, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cm := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for i, v := range p.CameraMatrix {
		cm.SetDoubleAt(i/3, i%3, v)
	}
	dc := gocv.NewMatWithSize(1, len(p.DistCoeffs), gocv.MatTypeCV64F)
	for i, v := range p.DistCoeffs {
		dc.SetDoubleAt(0, i, v)
	}

	return &Calibration{params: p, cameraMatrix: cm, distCoeffs: dc}, nil
}

// Load reads calibration parameters from a JSON file.
func Load(path string) (*Calibration, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}

	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return New(p)
}

// Params returns the parameters the calibration was built from.
func (c *Calibration) Params() Params {
	return c.params
}

// Undistort returns frame with lens distortion removed. A nil Calibration
// returns an unmodified copy. The caller owns the result.
func (c *Calibration) Undistort(frame gocv.Mat) gocv.Mat {
	if c == nil {
		return frame.Clone()
	}

	dst := gocv.NewMat()
	gocv.Undistort(frame, &dst, c.cameraMatrix, c.distCoeffs, c.cameraMatrix)
	return dst
}

// Close releases the native matrices.
func (c *Calibration) Close() error {
	if c == nil {
		return nil
	}
	if err := c.cameraMatrix.Close(); err != nil {
		return err
	}
	return c.distCoeffs.Close()
}
