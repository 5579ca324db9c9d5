package wake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// Session states.
const (
	SessionIdle      = "idle"
	SessionActive    = "active"
	SessionSuspended = "suspended"
)

// Session is the persisted record of the agent's current SDK session.
type Session struct {
	SessionID         string    `json:"session_id"`
	State             string    `json:"state"`
	StartedAt         time.Time `json:"started_at"`
	LastActive        time.Time `json:"last_active"`
	MessagesProcessed int       `json:"messages_processed"`
	CurrentSwarm      string    `json:"current_swarm,omitempty"`
	ContextSummary    string    `json:"context_summary,omitempty"`
}

// SessionManager persists the active session to a JSON file with
// atomic writes, so a crash never leaves a torn file behind.
type SessionManager struct {
	path string
	mu   sync.Mutex
}

// NewSessionManager manages the session file at path.
func NewSessionManager(path string) *SessionManager {
	return &SessionManager{path: path}
}

// Load reads the session file. A missing file yields nil; a corrupted
// file is deleted and reported so the caller starts fresh.
func (sm *SessionManager) Load() (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.loadLocked()
}

func (sm *SessionManager) loadLocked() (*Session, error) {
	data, err := os.ReadFile(sm.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindSession, err, "cannot read session file")
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.SessionID == "" {
		os.Remove(sm.path)
		logger.WarnCF("wake", "session file corrupted, removed", map[string]any{"path": sm.path})
		return nil, errdefs.New(errdefs.KindSession, "session file was corrupted and has been removed")
	}
	return &s, nil
}

// Save writes the session atomically (temp file then rename).
func (sm *SessionManager) Save(s *Session) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if dir := filepath.Dir(sm.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.Wrap(errdefs.KindSession, err, "cannot create session directory")
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.KindSession, err, "session encoding failed")
	}
	tmp := sm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errdefs.Wrap(errdefs.KindSession, err, "session write failed")
	}
	if err := os.Rename(tmp, sm.path); err != nil {
		os.Remove(tmp)
		return errdefs.Wrap(errdefs.KindSession, err, "session rename failed")
	}
	return nil
}

// Touch bumps last_active on the stored session, if any.
func (sm *SessionManager) Touch() error {
	sm.mu.Lock()
	s, err := sm.loadLocked()
	sm.mu.Unlock()
	if err != nil || s == nil {
		return err
	}
	s.LastActive = time.Now().UTC()
	return sm.Save(s)
}

// ShouldResume returns the session id to resume when the stored
// session is not idle and was active within timeoutMinutes, or "" to
// start fresh.
func (sm *SessionManager) ShouldResume(timeoutMinutes int) (string, error) {
	s, err := sm.Load()
	if err != nil {
		// A corrupted file means no resumable session, not a hard failure.
		if errdefs.IsKind(err, errdefs.KindSession) {
			return "", nil
		}
		return "", err
	}
	if s == nil || s.State == SessionIdle {
		return "", nil
	}
	if time.Since(s.LastActive) > time.Duration(timeoutMinutes)*time.Minute {
		return "", nil
	}
	return s.SessionID, nil
}

// Clear removes the session file.
func (sm *SessionManager) Clear() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	err := os.Remove(sm.path)
	if err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.KindSession, err, "cannot remove session file")
	}
	return nil
}
