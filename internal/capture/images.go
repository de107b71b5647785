package capture

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// imageExts are the still image types an image source accepts.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// IsImagePath reports whether path names a still image.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// ImageSource plays a list of still images as a stream.
type ImageSource struct {
	paths []string

	mu      sync.Mutex
	index   int
	running bool
}

// NewImageSource returns a Source over paths, read in order.
func NewImageSource(paths ...string) *ImageSource {
	return &ImageSource{paths: paths}
}

// NewImageDir returns a Source over every image in dir, in name order.
func NewImageDir(dir string) (*ImageSource, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var paths []string
	for _, m := range matches {
		if IsImagePath(m) {
			paths = append(paths, m)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(paths)
	return NewImageSource(paths...), nil
}

func (s *ImageSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.index = 0
	return nil
}

func (s *ImageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// ReadFrame decodes the next image.
func (s *ImageSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, ErrSourceNotOpen
	}
	if s.index >= len(s.paths) {
		return nil, ErrEndOfStream
	}

	path := s.paths[s.index]
	s.index++

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode image %s", path)
	}
	return &mat, nil
}

// FPS is nominal for still images.
func (s *ImageSource) FPS() float64 { return 1 }

func (s *ImageSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paths returns the images in playback order.
func (s *ImageSource) Paths() []string {
	return append([]string(nil), s.paths...)
}
