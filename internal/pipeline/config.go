package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/perspective"
	"github.com/ayusman/lanefinder/internal/threshold"
)

// ErrInvalidConfig wraps every component configuration error.
var ErrInvalidConfig = errors.New("invalid pipeline config")

const maxConfigSize = 1 * 1024 * 1024

// Config is the full, immutable set of pipeline parameters.
type Config struct {
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Threshold threshold.Config    `json:"threshold"`
	Mapping   perspective.Mapping `json:"mapping"`
	// Region is the polygon kept by the region mask, in camera pixels.
	Region  []image.Point      `json:"region"`
	Search  lane.SearchConfig  `json:"search"`
	Tracker lane.TrackerConfig `json:"tracker"`
	Scale   lane.Scale         `json:"scale"`
}

// DefaultConfig returns parameters for 1280x720 forward-facing highway
// footage.
func DefaultConfig() Config {
	return Config{
		Width:     1280,
		Height:    720,
		Threshold: threshold.DefaultConfig(),
		Mapping: perspective.Mapping{
			Src: []perspective.Point{{X: 585, Y: 460}, {X: 203, Y: 720}, {X: 1127, Y: 720}, {X: 695, Y: 460}},
			Dst: []perspective.Point{{X: 320, Y: 0}, {X: 320, Y: 720}, {X: 960, Y: 720}, {X: 960, Y: 0}},
		},
		Region: []image.Point{
			{X: 100, Y: 720},
			{X: 560, Y: 440},
			{X: 720, Y: 440},
			{X: 1200, Y: 720},
		},
		Search:  lane.DefaultSearchConfig(),
		Tracker: lane.DefaultTrackerConfig(),
		Scale:   lane.DefaultScale(),
	}
}

// Validate checks the frame size and every component config.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Search.Windows > c.Height {
		return fmt.Errorf("%w: %d search windows exceed frame height %d", ErrInvalidConfig, c.Search.Windows, c.Height)
	}
	if len(c.Region) < 3 {
		return fmt.Errorf("%w: region needs at least 3 vertices, got %d", ErrInvalidConfig, len(c.Region))
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"threshold", c.Threshold.Validate},
		{"mapping", c.Mapping.Validate},
		{"search", c.Search.Validate},
		{"tracker", c.Tracker.Validate},
		{"scale", c.Scale.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, chk.name, err)
		}
	}
	return nil
}

// LoadConfig overlays a JSON file on DefaultConfig and validates the result.
// Fields omitted from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
