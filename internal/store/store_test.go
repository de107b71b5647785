package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/lanefinder/internal/lane"
	"github.com/google/go-cmp/cmp"
)

// newTestStore creates a Store backed by a temporary database file.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func ptr(v float64) *float64 { return &v }

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"sessions", "frame_results"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	var idx string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_frame_results_session_id",
	).Scan(&idx)
	if err != nil {
		t.Errorf("frame results index should exist: %v", err)
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	sess := &Session{Source: "clip.mp4"}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	if _, err := s.Sessions().GetByID(sess.ID); err != nil {
		t.Errorf("session lost after reopen: %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("failed to check foreign keys pragma: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Source: "project_video.mp4"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() should assign an ID")
	}
	if sess.Status != SessionRunning {
		t.Errorf("Status = %q, want running", sess.Status)
	}

	got, err := repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Source != "project_video.mp4" || string(got.Config) != "{}" || got.FinishedAt != nil {
		t.Errorf("GetByID() = %+v", got)
	}

	if err := repo.Finish(sess.ID, 42, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got, err = repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != SessionCompleted || got.Frames != 42 || got.FinishedAt == nil {
		t.Errorf("after Finish: status=%q frames=%d finished=%v", got.Status, got.Frames, got.FinishedAt)
	}
}

func TestSessionRepository_FinishFailed(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Source: "device 0"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Finish(sess.ID, 3, errors.New("camera unplugged")); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != SessionFailed || got.Error != "camera unplugged" {
		t.Errorf("status=%q error=%q, want failed/camera unplugged", got.Status, got.Error)
	}
}

func TestSessionRepository_NotFound(t *testing.T) {
	repo := newTestStore(t).Sessions()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish("missing", 0, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_List(t *testing.T) {
	repo := newTestStore(t).Sessions()

	for _, src := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if err := repo.Create(&Session{Source: src}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d sessions, want 3", len(list))
	}
}

func TestFrameRepository_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	sess := &Session{Source: "clip.mp4"}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	frames := []*FrameResult{
		{
			SessionID:  sess.ID,
			FrameIndex: 0,
			Mode:       "sliding_window",
			Left:       SideResult{State: "acquiring", Failures: 1},
			Right:      SideResult{State: "acquiring", Failures: 1},
		},
		{
			SessionID:  sess.ID,
			FrameIndex: 1,
			Mode:       "sliding_window",
			SceneCut:   true,
			Left:       SideResult{State: "tracking", Fit: &lane.Fit{A: 1e-4, B: -0.2, C: 320}, RadiusM: ptr(812.5)},
			Right:      SideResult{State: "tracking", Fit: &lane.Fit{A: 2e-4, B: -0.1, C: 960}, RadiusM: ptr(math.Inf(1))},
			OffsetM:    ptr(-0.12),
		},
	}
	for _, f := range frames {
		if err := s.Frames().Add(f); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if f.ID == 0 {
			t.Error("Add() should assign an ID")
		}
	}

	got, err := s.Frames().ListBySession(sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}

	// Infinite radii are stored as NULL.
	frames[1].Right.RadiusM = nil
	if diff := cmp.Diff(frames, got); diff != "" {
		t.Errorf("ListBySession() mismatch (-want +got):\n%s", diff)
	}

	page, err := s.Frames().ListBySession(sess.ID, 1, 1)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(page) != 1 || page[0].FrameIndex != 1 {
		t.Errorf("page = %+v, want only frame 1", page)
	}

	n, err := s.Frames().Count(sess.ID)
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v, want 2", n, err)
	}
}

func TestFrameRepository_DuplicateIndexRejected(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{Source: "clip.mp4"}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	f := &FrameResult{SessionID: sess.ID, Mode: "sliding_window", Left: SideResult{State: "acquiring"}, Right: SideResult{State: "acquiring"}}
	if err := s.Frames().Add(f); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	dup := *f
	if err := s.Frames().Add(&dup); err == nil {
		t.Error("expected error for duplicate frame index")
	}
}

func TestFrameRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{Source: "clip.mp4"}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f := &FrameResult{SessionID: sess.ID, Mode: "around_fit", Left: SideResult{State: "tracking"}, Right: SideResult{State: "tracking"}}
	if err := s.Frames().Add(f); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.Sessions().Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	n, err := s.Frames().Count(sess.ID)
	if err != nil || n != 0 {
		t.Errorf("Count() after delete = %d, %v, want 0", n, err)
	}
}

func TestFrameRepository_UnknownSessionRejected(t *testing.T) {
	s := newTestStore(t)
	f := &FrameResult{SessionID: "nope", Mode: "around_fit", Left: SideResult{State: "tracking"}, Right: SideResult{State: "tracking"}}
	if err := s.Frames().Add(f); err == nil {
		t.Error("expected foreign key error for unknown session")
	}
}
