package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/lanefinder/internal/lane"
	"gocv.io/x/gocv"
)

// LaneUpdate is the per-frame message broadcast to websocket clients.
type LaneUpdate struct {
	SessionID string          `json:"session_id,omitempty"`
	Frame     int             `json:"frame"`
	Mode      lane.Mode       `json:"mode"`
	SceneCut  bool            `json:"scene_cut"`
	Geometry  *lane.Geometry  `json:"geometry"`
	Left      lane.TrackState `json:"left"`
	Right     lane.TrackState `json:"right"`
	Timestamp int64           `json:"timestamp"`
}

// subscriberBuffer is how many messages a slow client may fall behind
// before messages to it are dropped.
const subscriberBuffer = 8

// Hub fans out published frames and lane updates to HTTP clients. The frame
// loop publishes; handlers subscribe. Slow subscribers miss messages rather
// than block the publisher.
type Hub struct {
	mu     sync.RWMutex
	frames map[chan []byte]struct{}
	lanes  map[chan []byte]struct{}
	latest []byte
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		frames: make(map[chan []byte]struct{}),
		lanes:  make(map[chan []byte]struct{}),
	}
}

// SubscribeFrames returns a channel of JPEG-encoded frames and a function
// that ends the subscription. The channel is closed when the hub closes.
func (h *Hub) SubscribeFrames() (<-chan []byte, func()) {
	return h.subscribe(h.frames)
}

// SubscribeLanes returns a channel of JSON-encoded LaneUpdates.
func (h *Hub) SubscribeLanes() (<-chan []byte, func()) {
	return h.subscribe(h.lanes)
}

func (h *Hub) subscribe(set map[chan []byte]struct{}) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	set[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		})
	}
}

// Clients returns the number of frame and lane subscribers.
func (h *Hub) Clients() (frames, lanes int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.frames), len(h.lanes)
}

// PublishFrame JPEG-encodes frame and sends it to frame subscribers. The
// frame is always encoded so Latest stays current.
func (h *Hub) PublishFrame(frame gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	h.broadcast(h.frames, data)
	return nil
}

// PublishLane sends update to lane subscribers.
func (h *Hub) PublishLane(update LaneUpdate) error {
	if update.Timestamp == 0 {
		update.Timestamp = time.Now().UnixMilli()
	}
	msg, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode lane update: %w", err)
	}
	h.broadcast(h.lanes, msg)
	return nil
}

// Latest returns the most recently published JPEG frame, or nil.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) broadcast(set map[chan []byte]struct{}, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range set {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range []map[chan []byte]struct{}{h.frames, h.lanes} {
		for ch := range set {
			delete(set, ch)
			close(ch)
		}
	}
}
