package lane

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for malformed search, tracker or scale
// parameters.
var ErrInvalidConfig = errors.New("invalid lane config")

// SearchConfig tunes the lane pixel search.
type SearchConfig struct {
	// Windows is the number of equal-height sliding windows.
	Windows int `json:"windows"`
	// Margin is the half-width of each sliding window in pixels.
	Margin int `json:"margin"`
	// MinPixels is the count needed to recenter the next window.
	MinPixels int `json:"min_pixels"`
	// PriorMargin is the half-width of the band around a prior fit.
	PriorMargin float64 `json:"prior_margin"`
}

// DefaultSearchConfig returns the search parameters for 1280x720 frames.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Windows:     9,
		Margin:      100,
		MinPixels:   50,
		PriorMargin: 100,
	}
}

// Validate checks the search parameters.
func (c SearchConfig) Validate() error {
	if c.Windows < 1 {
		return fmt.Errorf("%w: windows must be positive, got %d", ErrInvalidConfig, c.Windows)
	}
	if c.Margin < 1 {
		return fmt.Errorf("%w: margin must be positive, got %d", ErrInvalidConfig, c.Margin)
	}
	if c.MinPixels < 0 {
		return fmt.Errorf("%w: min_pixels must not be negative, got %d", ErrInvalidConfig, c.MinPixels)
	}
	if !(c.PriorMargin > 0) {
		return fmt.Errorf("%w: prior_margin must be positive, got %g", ErrInvalidConfig, c.PriorMargin)
	}
	return nil
}

// TrackerConfig controls smoothing and forced re-acquisition.
type TrackerConfig struct {
	// History is the number of recent fits averaged for smoothing.
	History int `json:"history"`
	// MaxFailures is the number of consecutive failed detections after
	// which the tracker drops back to acquiring.
	MaxFailures int `json:"max_failures"`
}

// DefaultTrackerConfig returns the tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		History:     5,
		MaxFailures: 3,
	}
}

// Validate checks the tracker parameters.
func (c TrackerConfig) Validate() error {
	if c.History < 1 {
		return fmt.Errorf("%w: history must be positive, got %d", ErrInvalidConfig, c.History)
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("%w: max_failures must be positive, got %d", ErrInvalidConfig, c.MaxFailures)
	}
	return nil
}

// Scale converts bird's-eye pixels to meters on the road plane.
type Scale struct {
	MetersPerPixelY float64 `json:"meters_per_pixel_y"`
	MetersPerPixelX float64 `json:"meters_per_pixel_x"`
}

// DefaultScale assumes 30 m of road over 720 rows and a 3.7 m lane spanning
// 700 columns.
func DefaultScale() Scale {
	return Scale{
		MetersPerPixelY: 30.0 / 720,
		MetersPerPixelX: 3.7 / 700,
	}
}

// Validate checks that both factors are positive.
func (s Scale) Validate() error {
	if !(s.MetersPerPixelY > 0) || !(s.MetersPerPixelX > 0) {
		return fmt.Errorf("%w: meters per pixel must be positive, got y=%g x=%g",
			ErrInvalidConfig, s.MetersPerPixelY, s.MetersPerPixelX)
	}
	return nil
}
