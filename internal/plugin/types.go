// Package plugin runs external executables in response to lane events, such
// as a line being lost or a session finishing.
package plugin

import (
	"encoding/json"
	"slices"
)

// Lane events a plugin can subscribe to.
const (
	EventLaneLost        = "lane_lost"
	EventLaneAcquired    = "lane_acquired"
	EventSceneCut        = "scene_cut"
	EventSessionFinished = "session_finished"
)

// Manifest describes a plugin's metadata and the events it handles.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Request is the event sent to a plugin on stdin.
type Request struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Frame     int             `json:"frame"`
	Side      string          `json:"side,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response is what a plugin writes to stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the plugin subscribed to event.
func (p *Plugin) Handles(event string) bool {
	return slices.Contains(p.Manifest.Events, event)
}
