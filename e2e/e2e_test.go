package e2e

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/lanefinder/internal/app"
	"github.com/ayusman/lanefinder/internal/capture"
	"github.com/ayusman/lanefinder/internal/perspective"
	"github.com/ayusman/lanefinder/internal/pipeline"
	"github.com/ayusman/lanefinder/internal/server"
	"github.com/ayusman/lanefinder/internal/store"
	"github.com/ayusman/lanefinder/testdata"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

const frameCount = 6

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "data.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	hub := server.NewHub()
	defer hub.Close()

	srv := server.New(server.Config{Store: s, Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	cfg := pipeline.DefaultConfig()
	pipe, err := pipeline.New(cfg, nil)
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	defer pipe.Close()

	warper, err := perspective.NewWarper(cfg.Mapping, image.Pt(cfg.Width, cfg.Height))
	if err != nil {
		t.Fatalf("perspective.NewWarper() error = %v", err)
	}
	defer warper.Close()

	// The vehicle drifts right across the clip.
	frames := make([]*gocv.Mat, frameCount)
	for i := range frames {
		shift := float64(i * 8)
		m := testdata.RoadFrame(warper, 320-shift, 960-shift)
		frames[i] = &m
		defer m.Close()
	}

	var sessionID string

	t.Run("StreamLaneUpdates", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/lane"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		defer conn.Close()

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if _, lanes := hub.Clients(); lanes == 1 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		detector := capture.NewSceneCutDetector(capture.DefaultSceneCutThreshold)
		defer detector.Close()

		application, err := app.New(app.Config{
			Pipeline:   pipe,
			Source:     capture.NewMockSource(frames, false),
			SourceName: "drift.mp4",
			Store:      s,
			Hub:        hub,
			SceneCut:   detector,
		})
		if err != nil {
			t.Fatalf("app.New() error = %v", err)
		}

		stats, err := application.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.Frames != frameCount || stats.SceneCuts != 0 {
			t.Fatalf("stats = %+v, want %d frames and no scene cuts", stats, frameCount)
		}
		sessionID = stats.SessionID

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for i := 0; i < frameCount; i++ {
			var update struct {
				SessionID string `json:"session_id"`
				Frame     int    `json:"frame"`
				Geometry  *struct {
					OffsetM float64 `json:"offset_m"`
					Side    string  `json:"side"`
				} `json:"geometry"`
			}
			if err := conn.ReadJSON(&update); err != nil {
				t.Fatalf("ReadJSON() update %d error = %v", i, err)
			}
			if update.SessionID != sessionID || update.Frame != i {
				t.Errorf("update %d = session %s frame %d", i, update.SessionID, update.Frame)
			}
			if update.Geometry == nil {
				t.Errorf("update %d has no geometry", i)
			}
		}
	})

	if sessionID == "" {
		t.Fatal("no session recorded")
	}

	t.Run("GetSession", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions/" + sessionID)
		if err != nil {
			t.Fatalf("get session error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var sess struct {
			Status  string `json:"status"`
			Frames  int    `json:"frames"`
			Summary struct {
				Detected    int     `json:"detected"`
				MeanOffsetM float64 `json:"mean_offset_m"`
			} `json:"summary"`
		}
		json.NewDecoder(resp.Body).Decode(&sess)

		if sess.Status != "completed" || sess.Frames != frameCount {
			t.Errorf("session = %+v", sess)
		}
		if sess.Summary.Detected != frameCount {
			t.Errorf("detected = %d, want %d", sess.Summary.Detected, frameCount)
		}
	})

	t.Run("OffsetFollowsDrift", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions/" + sessionID + "/frames")
		if err != nil {
			t.Fatalf("list frames error = %v", err)
		}
		defer resp.Body.Close()

		var page struct {
			Frames []struct {
				OffsetM *float64 `json:"offset_m"`
			} `json:"frames"`
			Total int `json:"total"`
		}
		json.NewDecoder(resp.Body).Decode(&page)

		if page.Total != frameCount || len(page.Frames) != frameCount {
			t.Fatalf("frames = %d of %d, want %d", len(page.Frames), page.Total, frameCount)
		}
		first, last := page.Frames[0].OffsetM, page.Frames[frameCount-1].OffsetM
		if first == nil || last == nil {
			t.Fatal("missing offsets")
		}
		// Lines moving left in the image mean the vehicle moves right.
		if *last >= *first {
			t.Errorf("offset went from %.3f to %.3f, want it to decrease", *first, *last)
		}
	})

	t.Run("Report", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions/" + sessionID + "/report.png")
		if err != nil {
			t.Fatalf("report error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/health")
		if err != nil {
			t.Fatalf("health error = %v", err)
		}
		defer resp.Body.Close()

		var health struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		if health.Status != "ok" {
			t.Errorf("status = %s, want ok", health.Status)
		}
	})
}
