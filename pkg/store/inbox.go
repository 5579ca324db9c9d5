package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// Inbox statuses.
const (
	StatusUnread   = "unread"
	StatusRead     = "read"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// InboxMessage is one received message with its lifecycle state.
type InboxMessage struct {
	MessageID   string     `json:"message_id"`
	SwarmID     string     `json:"swarm_id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id,omitempty"`
	MessageType string     `json:"message_type"`
	Content     string     `json:"content"`
	ReceivedAt  time.Time  `json:"received_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Status      string     `json:"status"`
}

// InboxRepo persists received messages.
type InboxRepo struct {
	db *sql.DB
}

// Insert stores a message, ignoring duplicates by message_id. Reports
// whether a new row was written.
func (r *InboxRepo) Insert(ctx context.Context, m *InboxMessage) (bool, error) {
	status := m.Status
	if status == "" {
		status = StatusUnread
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO inbox
		    (message_id, swarm_id, sender_id, recipient_id, message_type, content, received_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.SwarmID, m.SenderID, nullIfEmpty(m.RecipientID),
		m.MessageType, m.Content, fmtTime(m.ReceivedAt), status)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "inbox insert failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetByID loads one message regardless of status. Returns nil when absent.
func (r *InboxRepo) GetByID(ctx context.Context, messageID string) (*InboxMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT message_id, swarm_id, sender_id, recipient_id, message_type, content,
		       received_at, read_at, deleted_at, status
		FROM inbox WHERE message_id = ?`, messageID)
	m, err := scanInbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "inbox lookup failed")
	}
	return m, nil
}

// MarkRead transitions unread -> read, stamping read_at. Reports whether
// a row changed; marking an already-read message is a no-op.
func (r *InboxRepo) MarkRead(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE inbox SET status = 'read', read_at = ? WHERE message_id = ? AND status = 'unread'",
		fmtTime(time.Now()), messageID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "mark read failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkArchived transitions unread or read -> archived. Deleted messages
// are never resurrected.
func (r *InboxRepo) MarkArchived(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE inbox SET status = 'archived' WHERE message_id = ? AND status IN ('unread', 'read')",
		messageID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "archive failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkDeleted soft-deletes from any non-deleted status, stamping
// deleted_at. The row stays until purged.
func (r *InboxRepo) MarkDeleted(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE inbox SET status = 'deleted', deleted_at = ? WHERE message_id = ? AND status != 'deleted'",
		fmtTime(time.Now()), messageID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "delete failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListByStatus returns messages in one status, newest first, optionally
// scoped to a swarm. The special status "all" covers everything except
// deleted.
func (r *InboxRepo) ListByStatus(ctx context.Context, swarmID, status string, limit, offset int) ([]*InboxMessage, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	var where string
	args := []any{}
	switch status {
	case "all":
		where = "status IN ('unread', 'read', 'archived')"
	case StatusUnread, StatusRead, StatusArchived, StatusDeleted:
		where = "status = ?"
		args = append(args, status)
	default:
		return nil, errdefs.New(errdefs.KindValidation, "unknown inbox status %q", status)
	}
	if swarmID != "" {
		where += " AND swarm_id = ?"
		args = append(args, swarmID)
	}
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_id, swarm_id, sender_id, recipient_id, message_type, content,
		       received_at, read_at, deleted_at, status
		FROM inbox WHERE %s ORDER BY received_at DESC LIMIT ? OFFSET ?`, where), args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "inbox listing failed")
	}
	defer rows.Close()
	return collectInbox(rows)
}

// Counts holds per-status totals. Total excludes deleted.
type Counts struct {
	Unread   int `json:"unread"`
	Read     int `json:"read"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
	Total    int `json:"total"`
}

// Count returns per-status message counts in one query, optionally
// scoped to a swarm.
func (r *InboxRepo) Count(ctx context.Context, swarmID string) (*Counts, error) {
	query := "SELECT status, COUNT(*) FROM inbox"
	args := []any{}
	if swarmID != "" {
		query += " WHERE swarm_id = ?"
		args = append(args, swarmID)
	}
	rows, err := r.db.QueryContext(ctx, query+" GROUP BY status", args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "inbox count failed")
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "count scan failed")
		}
		switch status {
		case StatusUnread:
			c.Unread = n
		case StatusRead:
			c.Read = n
		case StatusArchived:
			c.Archived = n
		case StatusDeleted:
			c.Deleted = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "count iteration failed")
	}
	c.Total = c.Unread + c.Read + c.Archived
	return &c, nil
}

// BatchUpdate applies one action (read, archive, delete) to up to 100
// message ids. Returns how many rows actually changed; ids that are
// absent or in an incompatible status count as skipped, not errors.
func (r *InboxRepo) BatchUpdate(ctx context.Context, action string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, errdefs.New(errdefs.KindValidation, "message_ids must not be empty")
	}
	if len(messageIDs) > maxListLimit {
		return 0, errdefs.New(errdefs.KindValidation, "batch size %d exceeds maximum %d", len(messageIDs), maxListLimit)
	}

	var set, guard string
	args := []any{}
	switch action {
	case "read":
		set = "status = 'read', read_at = ?"
		guard = "status = 'unread'"
		args = append(args, fmtTime(time.Now()))
	case "archive":
		set = "status = 'archived'"
		guard = "status IN ('unread', 'read')"
	case "delete":
		set = "status = 'deleted', deleted_at = ?"
		guard = "status != 'deleted'"
		args = append(args, fmtTime(time.Now()))
	default:
		return 0, errdefs.New(errdefs.KindValidation, "unknown batch action %q", action)
	}

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	for _, id := range messageIDs {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE inbox SET %s WHERE message_id IN (%s) AND %s", set, placeholders, guard), args...)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "batch update failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeDeleted hard-deletes rows soft-deleted more than olderThanHours ago.
func (r *InboxRepo) PurgeDeleted(ctx context.Context, olderThanHours int) (int, error) {
	cutoff := fmtTime(time.Now().Add(-time.Duration(olderThanHours) * time.Hour))
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM inbox WHERE status = 'deleted' AND deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "purge failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeArchived hard-deletes archived rows. A positive olderThanHours
// restricts the purge to rows received before the cutoff; zero or
// negative removes every archived row.
func (r *InboxRepo) PurgeArchived(ctx context.Context, olderThanHours int) (int, error) {
	query := "DELETE FROM inbox WHERE status = 'archived'"
	var args []any
	if olderThanHours > 0 {
		query += " AND received_at < ?"
		args = append(args, fmtTime(time.Now().Add(-time.Duration(olderThanHours)*time.Hour)))
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "purge failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type inboxScanner interface {
	Scan(dest ...any) error
}

func scanInbox(row inboxScanner) (*InboxMessage, error) {
	var m InboxMessage
	var recipient, readAt, deletedAt sql.NullString
	var receivedAt string
	err := row.Scan(&m.MessageID, &m.SwarmID, &m.SenderID, &recipient, &m.MessageType,
		&m.Content, &receivedAt, &readAt, &deletedAt, &m.Status)
	if err != nil {
		return nil, err
	}
	m.RecipientID = recipient.String
	m.ReceivedAt = parseTime(receivedAt)
	if readAt.Valid {
		t := parseTime(readAt.String)
		m.ReadAt = &t
	}
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		m.DeletedAt = &t
	}
	return &m, nil
}

func collectInbox(rows *sql.Rows) ([]*InboxMessage, error) {
	var out []*InboxMessage
	for rows.Next() {
		m, err := scanInbox(rows)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "inbox scan failed")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "inbox iteration failed")
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
