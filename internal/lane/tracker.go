package lane

import (
	"github.com/ayusman/lanefinder/internal/monitoring"
)

// State is the tracker's acquisition state.
type State int

const (
	// StateAcquiring means the next frame must be searched from scratch.
	StateAcquiring State = iota
	// StateTracking means a trusted fit exists to search around.
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TrackState is a read-only view of a tracker.
type TrackState struct {
	Side     string `json:"side"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
	History  int    `json:"history"`
	Current  *Fit   `json:"current,omitempty"`
}

// Tracker smooths one lane line's fits across frames and decides when the
// line has been lost. It must be fed frames in temporal order.
type Tracker struct {
	side     string
	cfg      TrackerConfig
	detected bool
	current  *Fit
	history  []Fit
	failures int
}

// NewTracker returns a tracker in the acquiring state.
func NewTracker(side string, cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		side:    side,
		cfg:     cfg,
		history: make([]Fit, 0, cfg.History),
	}, nil
}

// Update feeds the result of fitting this frame's candidate. A non-nil err
// counts as a failed detection. It returns the smoothed fit to use for this
// frame and false if no fit has ever been acquired.
//
// On success the smoothed fit is the mean of the retained history together
// with the new fit, after which the new fit enters the history and the
// oldest entry beyond capacity is evicted.
func (t *Tracker) Update(fit Fit, err error) (Fit, bool) {
	if err != nil {
		t.failures++
		if t.detected && t.failures >= t.cfg.MaxFailures {
			monitoring.Logf("lane %s: lost after %d failed frames, re-acquiring", t.side, t.failures)
			t.detected = false
			t.history = t.history[:0]
		}
		return t.Current()
	}

	samples := make([]Fit, 0, len(t.history)+1)
	samples = append(samples, t.history...)
	samples = append(samples, fit)
	smoothed := meanFit(samples)

	if len(t.history) >= t.cfg.History {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.History-1]
	}
	t.history = append(t.history, fit)

	if !t.detected {
		monitoring.Logf("lane %s: acquired", t.side)
	}
	t.detected = true
	t.failures = 0
	t.current = &smoothed
	return smoothed, true
}

// NeedsSearch reports whether the next frame must use the sliding-window
// search.
func (t *Tracker) NeedsSearch() bool {
	return !t.detected || t.failures >= t.cfg.MaxFailures
}

// Current returns the latest smoothed fit.
func (t *Tracker) Current() (Fit, bool) {
	if t.current == nil {
		return Fit{}, false
	}
	return *t.current, true
}

// State returns the acquisition state.
func (t *Tracker) State() State {
	if t.detected {
		return StateTracking
	}
	return StateAcquiring
}

// Failures returns the number of consecutive failed detections.
func (t *Tracker) Failures() int {
	return t.failures
}

// HistoryLen returns the number of fits retained for smoothing.
func (t *Tracker) HistoryLen() int {
	return len(t.history)
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() TrackState {
	s := TrackState{
		Side:     t.side,
		State:    t.State(),
		Failures: t.failures,
		History:  len(t.history),
	}
	if t.current != nil {
		c := *t.current
		s.Current = &c
	}
	return s
}

// Reset returns the tracker to its initial acquiring state.
func (t *Tracker) Reset() {
	t.detected = false
	t.current = nil
	t.history = t.history[:0]
	t.failures = 0
}
