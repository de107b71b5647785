package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("sink is closed")

// Sink receives annotated frames in order.
type Sink interface {
	WriteFrame(frame gocv.Mat) error
	Close() error
}

// NewSink picks a sink by path: a known video extension writes a video
// file, an image extension writes a single image and anything else is
// treated as a directory of numbered images.
func NewSink(path string, fps float64) (Sink, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".mp4" || ext == ".avi":
		return NewVideoSink(path, fps), nil
	case IsImagePath(path):
		return &imageFileSink{path: path}, nil
	default:
		return NewImageDirSink(path)
	}
}

// VideoSink encodes frames into a video file. The writer is opened on the
// first frame, once the frame size is known.
type VideoSink struct {
	path  string
	fps   float64
	codec string

	mu     sync.Mutex
	writer *gocv.VideoWriter
	closed bool
}

// NewVideoSink returns a sink writing path at fps. The codec follows the
// extension: mp4v for .mp4, MJPG otherwise.
func NewVideoSink(path string, fps float64) *VideoSink {
	codec := "MJPG"
	if strings.EqualFold(filepath.Ext(path), ".mp4") {
		codec = "mp4v"
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &VideoSink{path: path, fps: fps, codec: codec}
}

func (s *VideoSink) WriteFrame(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.writer == nil {
		w, err := gocv.VideoWriterFile(s.path, s.codec, s.fps, frame.Cols(), frame.Rows(), frame.Channels() == 3)
		if err != nil {
			return fmt.Errorf("open video writer %s: %w", s.path, err)
		}
		s.writer = w
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame to %s: %w", s.path, err)
	}
	return nil
}

func (s *VideoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// ImageDirSink writes each frame as frame_NNNNNN.jpg in a directory.
type ImageDirSink struct {
	dir string

	mu     sync.Mutex
	next   int
	closed bool
}

// NewImageDirSink creates dir if needed.
func NewImageDirSink(dir string) (*ImageDirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &ImageDirSink{dir: dir}, nil
}

func (s *ImageDirSink) WriteFrame(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d.jpg", s.next))
	if ok := gocv.IMWrite(path, frame); !ok {
		return fmt.Errorf("write image %s", path)
	}
	s.next++
	return nil
}

// Written returns the number of frames written.
func (s *ImageDirSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *ImageDirSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// imageFileSink writes the last frame it receives to a single image.
type imageFileSink struct {
	path string

	mu     sync.Mutex
	closed bool
}

func (s *imageFileSink) WriteFrame(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if ok := gocv.IMWrite(s.path, frame); !ok {
		return fmt.Errorf("write image %s", s.path)
	}
	return nil
}

func (s *imageFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
