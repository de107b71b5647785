package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeManifest creates dir/name/plugin.json from manifest.
func writeManifest(t *testing.T, dir, name string, manifest Manifest) string {
	t.Helper()

	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.json"), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return pluginDir
}

func TestManager_Discover(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, "alert", Manifest{
		Name:        "lane-alert",
		Version:     "1.0.0",
		Description: "A test plugin",
		Executable:  "alert",
		Events:      []string{EventLaneLost, EventLaneAcquired},
		Config:      json.RawMessage(`{"volume":3}`),
	})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	plugin := plugins[0]
	if plugin.Manifest.Name != "lane-alert" {
		t.Errorf("expected plugin name 'lane-alert', got %q", plugin.Manifest.Name)
	}
	if plugin.Path != pluginDir {
		t.Errorf("expected path %q, got %q", pluginDir, plugin.Path)
	}
	if plugin.Executable != filepath.Join(pluginDir, "alert") {
		t.Errorf("expected executable in plugin dir, got %q", plugin.Executable)
	}
	if string(plugin.Manifest.Config) != `{"volume":3}` {
		t.Errorf("config = %s", plugin.Manifest.Config)
	}
	if !plugin.Handles(EventLaneLost) || plugin.Handles(EventSceneCut) {
		t.Errorf("events = %v", plugin.Manifest.Events)
	}
}

func TestManager_ForEvent(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, "b", Manifest{Name: "b", Executable: "run", Events: []string{EventLaneLost}})
	writeManifest(t, tmpDir, "a", Manifest{Name: "a", Executable: "run", Events: []string{EventLaneLost, EventSceneCut}})
	writeManifest(t, tmpDir, "c", Manifest{Name: "c", Executable: "run", Events: []string{EventSessionFinished}})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	tests := []struct {
		event string
		want  []string
	}{
		{EventLaneLost, []string{"a", "b"}},
		{EventSceneCut, []string{"a"}},
		{EventSessionFinished, []string{"c"}},
		{EventLaneAcquired, nil},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			var got []string
			for _, p := range manager.ForEvent(tt.event) {
				got = append(got, p.Manifest.Name)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ForEvent(%s) = %v, want %v", tt.event, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ForEvent(%s) = %v, want %v", tt.event, got, tt.want)
				}
			}
		})
	}
}

func TestManager_Discover_SkipsInvalid(t *testing.T) {
	tmpDir := t.TempDir()

	// Directory without a manifest
	if err := os.MkdirAll(filepath.Join(tmpDir, "empty"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	// Manifest that is not JSON
	badDir := filepath.Join(tmpDir, "bad")
	os.MkdirAll(badDir, 0755)
	os.WriteFile(filepath.Join(badDir, "plugin.json"), []byte("{not json"), 0644)
	// Manifest without an executable
	writeManifest(t, tmpDir, "noexec", Manifest{Name: "noexec"})
	// Plain file at the top level
	os.WriteFile(filepath.Join(tmpDir, "README"), []byte("hi"), 0644)

	writeManifest(t, tmpDir, "good", Manifest{Name: "good", Executable: "run"})

	manager := NewManager(tmpDir)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := manager.List()
	if len(plugins) != 1 || plugins[0].Manifest.Name != "good" {
		t.Errorf("expected only 'good', got %d plugins", len(plugins))
	}
}

func TestManager_Discover_MissingDir(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() on missing dir failed: %v", err)
	}
	if len(manager.List()) != 0 {
		t.Error("expected no plugins")
	}
}

func TestManager_Discover_Rescans(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, "once", Manifest{Name: "once", Executable: "run"})

	manager := NewManager(tmpDir)
	manager.Discover()
	if len(manager.List()) != 1 {
		t.Fatal("expected 1 plugin")
	}

	os.RemoveAll(pluginDir)
	manager.Discover()
	if len(manager.List()) != 0 {
		t.Error("expected removed plugin to be forgotten")
	}
}

func TestManager_Get(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, "dir-name", Manifest{Name: "by-name", Executable: "run"})

	manager := NewManager(tmpDir)
	manager.Discover()

	if _, err := manager.Get("by-name"); err != nil {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := manager.Get("dir-name"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Get() by directory name error = %v, want %v", err, ErrPluginNotFound)
	}
	if manager.PluginDir() != tmpDir {
		t.Errorf("PluginDir() = %s, want %s", manager.PluginDir(), tmpDir)
	}
}
