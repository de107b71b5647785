package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newRecordingPlugin installs a plugin in dir that appends every request it
// receives to out, one JSON object per line.
func newRecordingPlugin(t *testing.T, dir, name, out string, events ...string) {
	t.Helper()

	pluginDir := writeManifest(t, dir, name, Manifest{
		Name:       name,
		Executable: "record.sh",
		Events:     events,
		Config:     json.RawMessage(`{"tag":"` + name + `"}`),
	})
	script := "#!/bin/sh\ncat >> \"" + out + "\"\necho >> \"" + out + "\"\necho '{\"success\":true}'\n"
	if err := os.WriteFile(filepath.Join(pluginDir, "record.sh"), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
}

func readRecorded(t *testing.T, path string) []Request {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read output: %v", err)
	}
	var reqs []Request
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var r Request
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("bad recorded line %q: %v", line, err)
		}
		reqs = append(reqs, r)
	}
	return reqs
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	skipOnWindows(t)

	tmpDir := t.TempDir()
	out := filepath.Join(tmpDir, "events.log")
	newRecordingPlugin(t, filepath.Join(tmpDir, "plugins"), "recorder", out, EventLaneLost, EventSessionFinished)

	manager := NewManager(filepath.Join(tmpDir, "plugins"))
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	d := NewDispatcher(manager, NewExecutor(5*time.Second), 0)
	for _, req := range []Request{
		{Event: EventLaneLost, Frame: 3, Side: "left"},
		{Event: EventSceneCut, Frame: 4},
		{Event: EventLaneLost, Frame: 9, Side: "right"},
		{Event: EventSessionFinished, Frame: 10},
	} {
		if !d.Dispatch(req) {
			t.Fatalf("Dispatch(%s) = false", req.Event)
		}
	}
	d.Close()

	got := readRecorded(t, out)
	if len(got) != 3 {
		t.Fatalf("recorded %d events, want 3", len(got))
	}
	wantFrames := []int{3, 9, 10}
	for i, r := range got {
		if r.Frame != wantFrames[i] {
			t.Errorf("event %d frame = %d, want %d", i, r.Frame, wantFrames[i])
		}
		if string(r.Config) != `{"tag":"recorder"}` {
			t.Errorf("event %d config = %s", i, r.Config)
		}
	}
	if got[0].Side != "left" || got[1].Side != "right" {
		t.Errorf("sides = %s, %s", got[0].Side, got[1].Side)
	}
}

func TestDispatcher_ClosedRejects(t *testing.T) {
	d := NewDispatcher(NewManager(t.TempDir()), NewExecutor(time.Second), 1)
	d.Close()
	d.Close()

	if d.Dispatch(Request{Event: EventLaneLost}) {
		t.Error("expected Dispatch after Close to return false")
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	skipOnWindows(t)

	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, "slow", Manifest{Name: "slow", Executable: "slow.sh", Events: []string{EventLaneLost}})
	if err := os.WriteFile(filepath.Join(pluginDir, "slow.sh"), []byte("#!/bin/sh\nsleep 10\n"), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	manager := NewManager(tmpDir)
	manager.Discover()

	d := NewDispatcher(manager, NewExecutor(30*time.Second), 1)

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Dispatch(Request{Event: EventLaneLost, Frame: i}) {
			accepted++
		}
	}
	if accepted >= 10 {
		t.Errorf("expected some events to be dropped, all %d accepted", accepted)
	}
	if d.Dropped() != 10-accepted {
		t.Errorf("Dropped() = %d, want %d", d.Dropped(), 10-accepted)
	}

	start := time.Now()
	d.Abort()
	if time.Since(start) > 5*time.Second {
		t.Error("Abort did not kill the running plugin")
	}
}
