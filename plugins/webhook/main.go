// Package main provides a webhook plugin for lanefinder.
// It forwards every lane event it receives to an HTTP endpoint as JSON.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Frame     int             `json:"frame"`
	Side      string          `json:"side,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the "config" object of the plugin manifest.
type Config struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	// TimeoutMS bounds the HTTP request. Defaults to 2000.
	TimeoutMS int `json:"timeout_ms"`
}

// event is the body posted to the endpoint.
type event struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Frame     int             `json:"frame"`
	Side      string          `json:"side,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(os.Stdout, Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}
	writeResponse(os.Stdout, handle(req))
}

// handle posts req to the configured URL.
func handle(req Request) Response {
	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return Response{Error: fmt.Sprintf("invalid config: %v", err)}
		}
	}
	if cfg.URL == "" {
		return Response{Error: "config.url is required"}
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 2000
	}

	body, err := json.Marshal(event{
		Event:     req.Event,
		SessionID: req.SessionID,
		Frame:     req.Frame,
		Side:      req.Side,
		Data:      req.Data,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return Response{Error: err.Error()}
	}

	httpReq, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Response{Error: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Response{Error: fmt.Sprintf("post %s: %v", req.Event, err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return Response{Error: fmt.Sprintf("endpoint returned %s", resp.Status)}
	}

	data, _ := json.Marshal(map[string]int{"status": resp.StatusCode})
	return Response{Success: true, Data: data}
}

// writeResponse writes resp as JSON to w.
func writeResponse(w io.Writer, resp Response) {
	json.NewEncoder(w).Encode(resp)
}
