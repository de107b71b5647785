package threshold

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when a threshold band or kernel is malformed.
var ErrInvalidConfig = errors.New("invalid threshold config")

// GradientBand is a Sobel kernel size and the inclusive band a gradient
// measure must fall within.
type GradientBand struct {
	Kernel int     `json:"kernel"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
}

// Band is an inclusive [Low, High] range on an 8-bit channel.
type Band struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Config holds the tuned parameters for every binarization criterion.
// Absolute and magnitude bands are on the 0-255 rescaled gradient, the
// direction band is in radians.
type Config struct {
	AbsX       GradientBand `json:"abs_x"`
	AbsY       GradientBand `json:"abs_y"`
	Magnitude  GradientBand `json:"magnitude"`
	Direction  GradientBand `json:"direction"`
	Saturation Band         `json:"saturation"`
}

// DefaultConfig returns bands tuned for 1280x720 highway footage.
func DefaultConfig() Config {
	return Config{
		AbsX:       GradientBand{Kernel: 3, Low: 20, High: 100},
		AbsY:       GradientBand{Kernel: 3, Low: 20, High: 100},
		Magnitude:  GradientBand{Kernel: 3, Low: 30, High: 100},
		Direction:  GradientBand{Kernel: 15, Low: 0.7, High: 1.3},
		Saturation: Band{Low: 170, High: 255},
	}
}

// Validate checks kernel sizes and band ordering for every criterion.
func (c Config) Validate() error {
	grads := []struct {
		name string
		band GradientBand
		max  float64
	}{
		{"abs_x", c.AbsX, 255},
		{"abs_y", c.AbsY, 255},
		{"magnitude", c.Magnitude, 255},
		{"direction", c.Direction, math.Pi / 2},
	}
	for _, g := range grads {
		if g.band.Kernel < 1 || g.band.Kernel > 31 || g.band.Kernel%2 == 0 {
			return fmt.Errorf("%w: %s kernel must be odd and in [1,31], got %d", ErrInvalidConfig, g.name, g.band.Kernel)
		}
		if err := checkBand(g.name, g.band.Low, g.band.High, g.max); err != nil {
			return err
		}
	}
	return checkBand("saturation", c.Saturation.Low, c.Saturation.High, 255)
}

func checkBand(name string, low, high, max float64) error {
	if math.IsNaN(low) || math.IsNaN(high) {
		return fmt.Errorf("%w: %s bounds must be numbers", ErrInvalidConfig, name)
	}
	if low < 0 || high > max {
		return fmt.Errorf("%w: %s bounds must lie in [0, %g], got [%g, %g]", ErrInvalidConfig, name, max, low, high)
	}
	if low > high {
		return fmt.Errorf("%w: %s low %g exceeds high %g", ErrInvalidConfig, name, low, high)
	}
	return nil
}
