// Package store is the embedded state layer backing the swarm agent:
// memberships, inbox, outbox, mutes, public keys and SDK sessions in a
// single SQLite file, with idempotent migrations and a JSON
// export/import contract.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// Manager owns the database handle and schema lifecycle.
type Manager struct {
	db   *sql.DB
	path string
}

// Open creates the database file (and parent directories) and runs
// migrations. Foreign keys are enforced on every connection via the
// DSN pragma.
func Open(dbPath string) (*Manager, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "cannot create database directory")
		}
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "cannot open database")
	}

	m := &Manager{db: db, path: dbPath}
	if err := m.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.InfoCF("store", "database ready", map[string]any{"path": dbPath})
	return m, nil
}

// DB exposes the underlying handle for repositories.
func (m *Manager) DB() *sql.DB { return m.db }

// Path returns the database file path.
func (m *Manager) Path() string { return m.path }

// Close releases the database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Membership returns the swarm membership repository.
func (m *Manager) Membership() *MembershipRepo { return &MembershipRepo{db: m.db} }

// Inbox returns the inbox repository.
func (m *Manager) Inbox() *InboxRepo { return &InboxRepo{db: m.db} }

// Outbox returns the outbox repository.
func (m *Manager) Outbox() *OutboxRepo { return &OutboxRepo{db: m.db} }

// Mutes returns the mute-list repository.
func (m *Manager) Mutes() *MuteRepo { return &MuteRepo{db: m.db} }

// Keys returns the public-key cache repository.
func (m *Manager) Keys() *KeyRepo { return &KeyRepo{db: m.db} }

// Sessions returns the SDK session repository.
func (m *Manager) Sessions() *SessionRepo { return &SessionRepo{db: m.db} }

// maxListLimit caps all list queries.
const maxListLimit = 100

// clampLimit validates and caps a caller-provided limit.
func clampLimit(limit int) (int, error) {
	if limit < 1 {
		return 0, errdefs.New(errdefs.KindValidation, "limit must be a positive integer, got %d", limit)
	}
	if limit > maxListLimit {
		return maxListLimit, nil
	}
	return limit, nil
}

// fmtTime renders a timestamp for TEXT columns.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a TEXT column timestamp.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
