package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// PeerSession tracks SDK session continuity per (swarm, peer) pair.
type PeerSession struct {
	SwarmID    string    `json:"swarm_id"`
	PeerID     string    `json:"peer_id"`
	SessionID  string    `json:"session_id"`
	LastActive time.Time `json:"last_active"`
	State      string    `json:"state"`
}

// SessionRepo persists peer session continuity records.
type SessionRepo struct {
	db *sql.DB
}

// Upsert stores or refreshes a session, bumping last_active.
func (r *SessionRepo) Upsert(ctx context.Context, swarmID, peerID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sdk_sessions (swarm_id, peer_id, session_id, last_active, state)
		VALUES (?, ?, ?, ?, 'active')`,
		swarmID, peerID, sessionID, fmtTime(time.Now()))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "session upsert failed")
	}
	return nil
}

// GetActive returns the session for (swarm, peer) if it was active
// within timeoutMinutes. An expired session is deleted on the spot and
// comes back nil, like an absent one.
func (r *SessionRepo) GetActive(ctx context.Context, swarmID, peerID string, timeoutMinutes int) (*PeerSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT swarm_id, peer_id, session_id, last_active, state
		FROM sdk_sessions WHERE swarm_id = ? AND peer_id = ?`, swarmID, peerID)

	var s PeerSession
	var lastActive string
	err := row.Scan(&s.SwarmID, &s.PeerID, &s.SessionID, &lastActive, &s.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "session lookup failed")
	}
	s.LastActive = parseTime(lastActive)
	if time.Since(s.LastActive) > time.Duration(timeoutMinutes)*time.Minute {
		if err := r.Delete(ctx, swarmID, peerID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &s, nil
}

// Delete removes one session record.
func (r *SessionRepo) Delete(ctx context.Context, swarmID, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM sdk_sessions WHERE swarm_id = ? AND peer_id = ?", swarmID, peerID)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "session deletion failed")
	}
	return nil
}

// PurgeExpired removes sessions idle longer than timeoutMinutes.
func (r *SessionRepo) PurgeExpired(ctx context.Context, timeoutMinutes int) (int, error) {
	cutoff := fmtTime(time.Now().Add(-time.Duration(timeoutMinutes) * time.Minute))
	res, err := r.db.ExecContext(ctx, "DELETE FROM sdk_sessions WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "session purge failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
