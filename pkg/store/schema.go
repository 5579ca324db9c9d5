package store

import (
	"context"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// SchemaVersion is the current schema version recorded after migration.
const SchemaVersion = "2.0.0"

const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version    TEXT PRIMARY KEY,
    applied_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS swarms (
    swarm_id            TEXT PRIMARY KEY,
    name                TEXT NOT NULL CHECK (length(name) <= 256),
    master              TEXT NOT NULL,
    joined_at           TEXT NOT NULL,
    allow_member_invite INTEGER NOT NULL DEFAULT 0,
    require_approval    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS swarm_members (
    agent_id   TEXT NOT NULL,
    swarm_id   TEXT NOT NULL,
    endpoint   TEXT NOT NULL,
    public_key TEXT NOT NULL,
    joined_at  TEXT NOT NULL,
    PRIMARY KEY (agent_id, swarm_id),
    FOREIGN KEY (swarm_id) REFERENCES swarms(swarm_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_members_swarm ON swarm_members(swarm_id);
CREATE TABLE IF NOT EXISTS inbox (
    message_id   TEXT PRIMARY KEY,
    swarm_id     TEXT NOT NULL,
    sender_id    TEXT NOT NULL,
    recipient_id TEXT,
    message_type TEXT NOT NULL,
    content      TEXT NOT NULL,
    received_at  TEXT NOT NULL,
    read_at      TEXT,
    deleted_at   TEXT,
    status       TEXT NOT NULL DEFAULT 'unread'
                 CHECK (status IN ('unread', 'read', 'archived', 'deleted'))
);
CREATE INDEX IF NOT EXISTS idx_inbox_status ON inbox(status, received_at);
CREATE INDEX IF NOT EXISTS idx_inbox_swarm ON inbox(swarm_id);
CREATE INDEX IF NOT EXISTS idx_inbox_sender ON inbox(sender_id);
CREATE TABLE IF NOT EXISTS outbox (
    message_id   TEXT PRIMARY KEY,
    swarm_id     TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'message',
    content      TEXT NOT NULL,
    sent_at      TEXT NOT NULL,
    delivered_at TEXT,
    status       TEXT NOT NULL DEFAULT 'sent'
                 CHECK (status IN ('sent', 'delivered', 'failed')),
    error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_swarm ON outbox(swarm_id);
CREATE INDEX IF NOT EXISTS idx_outbox_sent ON outbox(sent_at);
CREATE TABLE IF NOT EXISTS muted_agents (
    agent_id TEXT PRIMARY KEY,
    muted_at TEXT NOT NULL,
    reason   TEXT
);
CREATE TABLE IF NOT EXISTS muted_swarms (
    swarm_id TEXT PRIMARY KEY,
    muted_at TEXT NOT NULL,
    reason   TEXT
);
CREATE TABLE IF NOT EXISTS public_keys (
    agent_id   TEXT PRIMARY KEY,
    public_key TEXT NOT NULL,
    fetched_at TEXT NOT NULL,
    endpoint   TEXT
);
CREATE TABLE IF NOT EXISTS sdk_sessions (
    swarm_id    TEXT NOT NULL,
    peer_id     TEXT NOT NULL,
    session_id  TEXT NOT NULL,
    last_active TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'active',
    PRIMARY KEY (swarm_id, peer_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sdk_sessions(last_active);
`

// migrate brings the database to the current schema. Every step is
// idempotent; re-running on an up-to-date database is a no-op.
func (m *Manager) migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, baseSchema); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "schema creation failed")
	}
	if err := m.projectLegacyQueue(ctx); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))",
		SchemaVersion,
	); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "recording schema version failed")
	}
	return nil
}

// projectLegacyQueue copies rows from a pre-2.0.0 message_queue table
// into inbox exactly once. Pending rows become unread, everything else
// becomes read. The legacy table itself is left in place.
func (m *Manager) projectLegacyQueue(ctx context.Context) error {
	var already int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_versions WHERE version = ?", SchemaVersion,
	).Scan(&already)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "schema version lookup failed")
	}
	if already > 0 {
		return nil
	}

	var hasLegacy int
	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'message_queue'",
	).Scan(&hasLegacy)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "legacy table lookup failed")
	}
	if hasLegacy == 0 {
		return nil
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO inbox
		    (message_id, swarm_id, sender_id, recipient_id, message_type, content, received_at, read_at, status)
		SELECT message_id, swarm_id, sender_id, NULL, message_type, content, received_at, processed_at,
		    CASE WHEN status = 'pending' THEN 'unread' ELSE 'read' END
		FROM message_queue`)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "legacy queue projection failed")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.InfoCF("store", "projected legacy message_queue rows into inbox", map[string]any{"rows": n})
	}
	return nil
}
