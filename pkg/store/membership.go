package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// SwarmSettings are the per-swarm policy flags.
type SwarmSettings struct {
	AllowMemberInvite bool `json:"allow_member_invite"`
	RequireApproval   bool `json:"require_approval"`
}

// SwarmMember is one agent's record within a swarm.
type SwarmMember struct {
	AgentID   string    `json:"agent_id"`
	Endpoint  string    `json:"endpoint"`
	PublicKey string    `json:"public_key"`
	JoinedAt  time.Time `json:"joined_at"`
}

// SwarmMembership is this agent's view of one swarm.
type SwarmMembership struct {
	SwarmID  string        `json:"swarm_id"`
	Name     string        `json:"name"`
	Master   string        `json:"master"`
	Members  []SwarmMember `json:"members"`
	JoinedAt time.Time     `json:"joined_at"`
	Settings SwarmSettings `json:"settings"`
}

// MasterMember returns the master's member record, or nil when the
// master is missing from the member list (an invariant violation).
func (s *SwarmMembership) MasterMember() *SwarmMember {
	for i := range s.Members {
		if s.Members[i].AgentID == s.Master {
			return &s.Members[i]
		}
	}
	return nil
}

// HasMember reports whether agentID is in the member list.
func (s *SwarmMembership) HasMember(agentID string) bool {
	for _, m := range s.Members {
		if m.AgentID == agentID {
			return true
		}
	}
	return false
}

// MembershipRepo persists swarms and their members.
type MembershipRepo struct {
	db *sql.DB
}

// SaveSwarm upserts the swarm row and all of its members.
func (r *MembershipRepo) SaveSwarm(ctx context.Context, s *SwarmMembership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "begin transaction failed")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO swarms (swarm_id, name, master, joined_at, allow_member_invite, require_approval)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SwarmID, s.Name, s.Master, fmtTime(s.JoinedAt),
		boolInt(s.Settings.AllowMemberInvite), boolInt(s.Settings.RequireApproval))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "swarm upsert failed")
	}
	for _, m := range s.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO swarm_members (agent_id, swarm_id, endpoint, public_key, joined_at)
			VALUES (?, ?, ?, ?, ?)`,
			m.AgentID, s.SwarmID, m.Endpoint, m.PublicKey, fmtTime(m.JoinedAt)); err != nil {
			return errdefs.Wrap(errdefs.KindStorage, err, "member upsert failed")
		}
	}
	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "commit failed")
	}
	return nil
}

// GetSwarm loads one swarm with its full member list. Returns nil when
// the swarm does not exist.
func (r *MembershipRepo) GetSwarm(ctx context.Context, swarmID string) (*SwarmMembership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT swarm_id, name, master, joined_at, allow_member_invite, require_approval
		FROM swarms WHERE swarm_id = ?`, swarmID)

	var s SwarmMembership
	var joinedAt string
	var invite, approval int
	err := row.Scan(&s.SwarmID, &s.Name, &s.Master, &joinedAt, &invite, &approval)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "swarm lookup failed")
	}
	s.JoinedAt = parseTime(joinedAt)
	s.Settings = SwarmSettings{AllowMemberInvite: invite != 0, RequireApproval: approval != 0}

	members, err := r.listMembers(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	s.Members = members
	return &s, nil
}

// GetAllSwarms loads every swarm this agent belongs to.
func (r *MembershipRepo) GetAllSwarms(ctx context.Context) ([]*SwarmMembership, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT swarm_id FROM swarms ORDER BY joined_at")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "swarm listing failed")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "swarm scan failed")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "swarm iteration failed")
	}

	swarms := make([]*SwarmMembership, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSwarm(ctx, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			swarms = append(swarms, s)
		}
	}
	return swarms, nil
}

func (r *MembershipRepo) listMembers(ctx context.Context, swarmID string) ([]SwarmMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, endpoint, public_key, joined_at
		FROM swarm_members WHERE swarm_id = ? ORDER BY joined_at`, swarmID)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "member listing failed")
	}
	defer rows.Close()

	var members []SwarmMember
	for rows.Next() {
		var m SwarmMember
		var joinedAt string
		if err := rows.Scan(&m.AgentID, &m.Endpoint, &m.PublicKey, &joinedAt); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "member scan failed")
		}
		m.JoinedAt = parseTime(joinedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember inserts a member row, ignoring duplicates.
func (r *MembershipRepo) AddMember(ctx context.Context, swarmID string, m SwarmMember) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO swarm_members (agent_id, swarm_id, endpoint, public_key, joined_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.AgentID, swarmID, m.Endpoint, m.PublicKey, fmtTime(m.JoinedAt))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "member insert failed")
	}
	return nil
}

// RemoveMember deletes a member row. Reports whether a row was removed.
func (r *MembershipRepo) RemoveMember(ctx context.Context, swarmID, agentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM swarm_members WHERE swarm_id = ? AND agent_id = ?", swarmID, agentID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "member removal failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MemberExists reports membership without loading the full swarm.
func (r *MembershipRepo) MemberExists(ctx context.Context, swarmID, agentID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM swarm_members WHERE swarm_id = ? AND agent_id = ?", swarmID, agentID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "membership check failed")
	}
	return true, nil
}

// DeleteSwarm removes the swarm row; members cascade.
func (r *MembershipRepo) DeleteSwarm(ctx context.Context, swarmID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM swarms WHERE swarm_id = ?", swarmID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "swarm deletion failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
