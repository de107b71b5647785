// Package app runs the lane finding frame loop: it reads a source in order,
// runs the pipeline, and fans the results out to the sink, the store and the
// live server hub.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/ayusman/lanefinder/internal/capture"
	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/ayusman/lanefinder/internal/pipeline"
	"github.com/ayusman/lanefinder/internal/plugin"
	"github.com/ayusman/lanefinder/internal/server"
	"github.com/ayusman/lanefinder/internal/store"
)

// ErrMissingPipeline and ErrMissingSource are returned by New when the
// required collaborators are not set.
var (
	ErrMissingPipeline = errors.New("app: pipeline is required")
	ErrMissingSource   = errors.New("app: source is required")
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("app: already running")
)

// Config holds the collaborators of the frame loop. Pipeline and Source are
// required; the rest are optional.
type Config struct {
	Pipeline *pipeline.Pipeline
	Source   capture.Source
	// SourceName is recorded on the session, e.g. the input path.
	SourceName string

	Sink     capture.Sink
	Store    *store.Store
	Hub      *server.Hub
	SceneCut *capture.SceneCutDetector
	// Plugins receives lane lost/acquired, scene cut and session
	// finished events.
	Plugins *plugin.Dispatcher

	// Stage, when set, stops every frame at that stage and writes the
	// diagnostic image instead of the annotated frame. No frame results
	// are recorded in this mode.
	Stage *pipeline.Stage
}

// Stats summarizes one run of the frame loop.
type Stats struct {
	SessionID string `json:"session_id"`
	Frames    int    `json:"frames"`
	Detected  int    `json:"detected"`
	SceneCuts int    `json:"scene_cuts"`
	Errors    int    `json:"errors"`
}

// App is the main application that drives a pipeline over a source.
type App struct {
	config Config

	mu      sync.Mutex
	stats   Stats
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	// Tracker states after the previous frame, owned by the loop.
	prevLeft, prevRight lane.State
}

// New creates a new App instance with the given configuration.
func New(config Config) (*App, error) {
	if config.Pipeline == nil {
		return nil, ErrMissingPipeline
	}
	if config.Source == nil {
		return nil, ErrMissingSource
	}
	return &App{config: config}, nil
}

// Run processes frames until the source ends or ctx is cancelled. The
// source is opened and closed by Run. When a store is configured, the run
// is recorded as a session and finished with the outcome.
func (a *App) Run(ctx context.Context) (Stats, error) {
	if err := a.config.Source.Open(); err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := a.config.Source.Close(); err != nil {
			log.Printf("Error closing source: %v", err)
		}
	}()

	a.mu.Lock()
	a.stats = Stats{}
	a.mu.Unlock()
	left, right := a.config.Pipeline.Trackers()
	a.prevLeft, a.prevRight = left.State, right.State

	sessionID, err := a.startSession()
	if err != nil {
		return Stats{}, err
	}
	a.mu.Lock()
	a.stats.SessionID = sessionID
	a.mu.Unlock()

	log.Printf("Frame loop started (source=%s session=%s)", a.config.SourceName, sessionID)
	runErr := a.runPipeline(ctx, sessionID)

	stats := a.Stats()
	if sessionID != "" {
		if err := a.config.Store.Sessions().Finish(sessionID, stats.Frames, runErr); err != nil {
			log.Printf("Error finishing session %s: %v", sessionID, err)
		}
	}
	if a.config.SceneCut != nil {
		a.config.SceneCut.Reset()
	}
	a.notify(plugin.Request{
		Event:     plugin.EventSessionFinished,
		SessionID: sessionID,
		Frame:     stats.Frames,
		Data:      sessionData(stats, runErr),
	})

	log.Printf("Frame loop stopped after %d frames (%d detected, %d scene cuts, %d errors)",
		stats.Frames, stats.Detected, stats.SceneCuts, stats.Errors)
	return stats, runErr
}

// sessionData is the payload of the session finished event.
func sessionData(stats Stats, runErr error) json.RawMessage {
	payload := struct {
		Stats
		Error string `json:"error,omitempty"`
	}{Stats: stats}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// startSession records a new session when a store is configured and
// returns its ID, or "" without a store.
func (a *App) startSession() (string, error) {
	if a.config.Store == nil {
		return "", nil
	}
	cfg, err := json.Marshal(a.config.Pipeline.Config())
	if err != nil {
		return "", err
	}
	sess := &store.Session{Source: a.config.SourceName, Config: cfg}
	if err := a.config.Store.Sessions().Create(sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Start runs the frame loop in the background. Stop ends it.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.lastErr = nil

	go func(done chan struct{}) {
		defer close(done)
		_, err := a.Run(ctx)
		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
	}(a.done)

	return nil
}

// Done returns a channel closed when the loop started by Start returns, or
// nil if it was never started.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Stop cancels the background loop, waits for it and returns its error.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = nil
	a.done = nil
	return a.lastErr
}

// notify hands req to the plugins, if any. A full queue drops the event.
func (a *App) notify(req plugin.Request) {
	if a.config.Plugins == nil {
		return
	}
	if !a.config.Plugins.Dispatch(req) {
		log.Printf("Plugin queue full, dropped %s event", req.Event)
	}
}

// Stats returns the counters of the current or last run.
func (a *App) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
