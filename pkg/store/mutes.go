package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// MuteEntry is one muted agent or swarm.
type MuteEntry struct {
	ID      string    `json:"id"`
	MutedAt time.Time `json:"muted_at"`
	Reason  string    `json:"reason,omitempty"`
}

// MuteRepo persists the agent and swarm mute lists. Muted senders still
// have their messages stored; only wake processing skips them.
type MuteRepo struct {
	db *sql.DB
}

// MuteAgent adds or refreshes an agent mute.
func (r *MuteRepo) MuteAgent(ctx context.Context, agentID, reason string) error {
	return r.mute(ctx, "muted_agents", "agent_id", agentID, reason)
}

// MuteSwarm adds or refreshes a swarm mute.
func (r *MuteRepo) MuteSwarm(ctx context.Context, swarmID, reason string) error {
	return r.mute(ctx, "muted_swarms", "swarm_id", swarmID, reason)
}

func (r *MuteRepo) mute(ctx context.Context, table, col, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+table+" ("+col+", muted_at, reason) VALUES (?, ?, ?)",
		id, fmtTime(time.Now()), nullIfEmpty(reason))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "mute failed")
	}
	return nil
}

// UnmuteAgent removes an agent mute. Reports whether one existed.
func (r *MuteRepo) UnmuteAgent(ctx context.Context, agentID string) (bool, error) {
	return r.unmute(ctx, "muted_agents", "agent_id", agentID)
}

// UnmuteSwarm removes a swarm mute. Reports whether one existed.
func (r *MuteRepo) UnmuteSwarm(ctx context.Context, swarmID string) (bool, error) {
	return r.unmute(ctx, "muted_swarms", "swarm_id", swarmID)
}

func (r *MuteRepo) unmute(ctx context.Context, table, col, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ?", id)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "unmute failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsAgentMuted reports whether an agent is muted.
func (r *MuteRepo) IsAgentMuted(ctx context.Context, agentID string) (bool, error) {
	return r.exists(ctx, "muted_agents", "agent_id", agentID)
}

// IsSwarmMuted reports whether a swarm is muted.
func (r *MuteRepo) IsSwarmMuted(ctx context.Context, swarmID string) (bool, error) {
	return r.exists(ctx, "muted_swarms", "swarm_id", swarmID)
}

func (r *MuteRepo) exists(ctx context.Context, table, col, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE "+col+" = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "mute check failed")
	}
	return true, nil
}

// ListAgents returns all muted agents.
func (r *MuteRepo) ListAgents(ctx context.Context) ([]MuteEntry, error) {
	return r.list(ctx, "muted_agents", "agent_id")
}

// ListSwarms returns all muted swarms.
func (r *MuteRepo) ListSwarms(ctx context.Context) ([]MuteEntry, error) {
	return r.list(ctx, "muted_swarms", "swarm_id")
}

func (r *MuteRepo) list(ctx context.Context, table, col string) ([]MuteEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+col+", muted_at, reason FROM "+table+" ORDER BY muted_at")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "mute listing failed")
	}
	defer rows.Close()

	var out []MuteEntry
	for rows.Next() {
		var e MuteEntry
		var mutedAt string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &mutedAt, &reason); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "mute scan failed")
		}
		e.MutedAt = parseTime(mutedAt)
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}
