// Package capture reads frames from video files, camera devices and still
// images, and writes annotated frames back out.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default device settings.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 25
)

var (
	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("source is not open")
	// ErrEndOfStream is returned once a finite source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Source yields frames strictly in capture order.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller must Close it.
	ReadFrame() (*gocv.Mat, error)
	FPS() float64
	IsOpen() bool
}

// videoSource reads from a video file or a camera device through OpenCV.
type videoSource struct {
	path     string
	deviceID int
	isDevice bool

	mu      sync.Mutex
	capture *gocv.VideoCapture
	running bool
	fps     float64
}

// NewVideoFile returns a Source over a video file.
func NewVideoFile(path string) Source {
	return &videoSource{path: path, fps: DefaultFPS}
}

// NewDevice returns a Source over a camera device, requesting the default
// 1280x720 resolution.
func NewDevice(deviceID int) Source {
	return &videoSource{deviceID: deviceID, isDevice: true, fps: DefaultFPS}
}

func (v *videoSource) String() string {
	if v.isDevice {
		return fmt.Sprintf("device %d", v.deviceID)
	}
	return v.path
}

// Open opens the underlying capture.
func (v *videoSource) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if v.isDevice {
		capture, err = gocv.OpenVideoCapture(v.deviceID)
	} else {
		capture, err = gocv.VideoCaptureFile(v.path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", v, err)
	}

	if v.isDevice {
		capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
		capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	}
	if fps := capture.Get(gocv.VideoCaptureFPS); fps > 0 {
		v.fps = fps
	}

	v.capture = capture
	v.running = true
	return nil
}

// Close releases the capture.
func (v *videoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.running = false
	return err
}

// ReadFrame reads the next frame. A file that runs out of frames returns
// ErrEndOfStream.
func (v *videoSource) ReadFrame() (*gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return nil, ErrSourceNotOpen
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if v.isDevice {
			return nil, fmt.Errorf("read frame from %s failed", v)
		}
		return nil, ErrEndOfStream
	}
	return &mat, nil
}

// FPS returns the frame rate reported by the capture, or DefaultFPS.
func (v *videoSource) FPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fps
}

// IsOpen reports whether the source is open.
func (v *videoSource) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}
