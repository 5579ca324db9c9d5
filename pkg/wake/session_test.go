package wake

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	sm := NewSessionManager(filepath.Join(t.TempDir(), "session.json"))
	now := time.Now().UTC().Truncate(time.Second)

	err := sm.Save(&Session{SessionID: "sess-1", State: SessionActive, StartedAt: now, LastActive: now, MessagesProcessed: 3})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s, err := sm.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s == nil || s.SessionID != "sess-1" || s.State != SessionActive || s.MessagesProcessed != 3 {
		t.Fatalf("loaded %+v", s)
	}
}

func TestSessionLoadMissingFile(t *testing.T) {
	sm := NewSessionManager(filepath.Join(t.TempDir(), "absent.json"))
	s, err := sm.Load()
	if err != nil || s != nil {
		t.Fatalf("missing file should yield nil, nil; got %+v, %v", s, err)
	}
}

func TestSessionCorruptedFileIsRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("{corrupted"), 0o600)

	sm := NewSessionManager(path)
	_, err := sm.Load()
	if !errdefs.IsKind(err, errdefs.KindSession) {
		t.Fatalf("expected session kind, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("corrupted file should have been removed")
	}

	// After removal the manager starts fresh.
	s, err := sm.Load()
	if err != nil || s != nil {
		t.Fatalf("second load should be clean, got %+v, %v", s, err)
	}
}

func TestShouldResume(t *testing.T) {
	sm := NewSessionManager(filepath.Join(t.TempDir(), "session.json"))
	now := time.Now().UTC()

	sm.Save(&Session{SessionID: "fresh", State: SessionActive, StartedAt: now, LastActive: now})
	id, err := sm.ShouldResume(30)
	if err != nil || id != "fresh" {
		t.Fatalf("fresh session should resume, got %q, %v", id, err)
	}

	sm.Save(&Session{SessionID: "stale", State: SessionActive, StartedAt: now, LastActive: now.Add(-time.Hour)})
	id, err = sm.ShouldResume(30)
	if err != nil || id != "" {
		t.Fatalf("stale session should not resume, got %q, %v", id, err)
	}

	sm.Save(&Session{SessionID: "done", State: SessionIdle, StartedAt: now, LastActive: now})
	id, err = sm.ShouldResume(30)
	if err != nil || id != "" {
		t.Fatalf("idle session should not resume, got %q, %v", id, err)
	}
}

func TestShouldResumeCorruptedFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("not json"), 0o600)

	sm := NewSessionManager(path)
	id, err := sm.ShouldResume(30)
	if err != nil || id != "" {
		t.Fatalf("corrupted session should mean no resume, got %q, %v", id, err)
	}
}

func TestSessionFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	sm := NewSessionManager(path)
	now := time.Now().UTC()
	if err := sm.Save(&Session{SessionID: "s", StartedAt: now, LastActive: now}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("session file mode = %o, want 600", info.Mode().Perm())
	}
}
