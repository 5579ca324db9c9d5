package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// Outbox statuses.
const (
	OutboxSent      = "sent"
	OutboxDelivered = "delivered"
	OutboxFailed    = "failed"
)

// OutboxMessage is one sent message and its delivery outcome.
type OutboxMessage struct {
	MessageID   string     `json:"message_id"`
	SwarmID     string     `json:"swarm_id"`
	RecipientID string     `json:"recipient_id"`
	MessageType string     `json:"message_type"`
	Content     string     `json:"content"`
	SentAt      time.Time  `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// OutboxRepo persists sent messages.
type OutboxRepo struct {
	db *sql.DB
}

// Insert records a message as sent.
func (r *OutboxRepo) Insert(ctx context.Context, m *OutboxMessage) error {
	messageType := m.MessageType
	if messageType == "" {
		messageType = "message"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox (message_id, swarm_id, recipient_id, message_type, content, sent_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'sent')`,
		m.MessageID, m.SwarmID, m.RecipientID, messageType, m.Content, fmtTime(m.SentAt))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "outbox insert failed")
	}
	return nil
}

// MarkDelivered transitions sent -> delivered, stamping delivered_at.
// Terminal rows are left alone.
func (r *OutboxRepo) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE outbox SET status = 'delivered', delivered_at = ? WHERE message_id = ? AND status = 'sent'",
		fmtTime(time.Now()), messageID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "mark delivered failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed transitions sent -> failed with the failure reason.
func (r *OutboxRepo) MarkFailed(ctx context.Context, messageID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE outbox SET status = 'failed', error = ? WHERE message_id = ? AND status = 'sent'",
		reason, messageID)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindStorage, err, "mark failed failed")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns sent messages newest first, optionally scoped to a swarm.
func (r *OutboxRepo) List(ctx context.Context, swarmID string, limit, offset int) ([]*OutboxMessage, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT message_id, swarm_id, recipient_id, message_type, content, sent_at, delivered_at, status, error
		FROM outbox`
	args := []any{}
	if swarmID != "" {
		query += " WHERE swarm_id = ?"
		args = append(args, swarmID)
	}
	query += " ORDER BY sent_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "outbox listing failed")
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var sentAt string
		var deliveredAt, errText sql.NullString
		if err := rows.Scan(&m.MessageID, &m.SwarmID, &m.RecipientID, &m.MessageType,
			&m.Content, &sentAt, &deliveredAt, &m.Status, &errText); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "outbox scan failed")
		}
		m.SentAt = parseTime(sentAt)
		if deliveredAt.Valid {
			t := parseTime(deliveredAt.String)
			m.DeliveredAt = &t
		}
		m.Error = errText.String
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "outbox iteration failed")
	}
	return out, nil
}

// OutboxCounts holds per-status totals.
type OutboxCounts struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Count returns per-status totals for the outbox, optionally scoped to
// a swarm.
func (r *OutboxRepo) Count(ctx context.Context, swarmID string) (*OutboxCounts, error) {
	query := "SELECT status, COUNT(*) FROM outbox"
	args := []any{}
	if swarmID != "" {
		query += " WHERE swarm_id = ?"
		args = append(args, swarmID)
	}
	rows, err := r.db.QueryContext(ctx, query+" GROUP BY status", args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "outbox count failed")
	}
	defer rows.Close()

	var c OutboxCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "count scan failed")
		}
		switch status {
		case OutboxSent:
			c.Sent = n
		case OutboxDelivered:
			c.Delivered = n
		case OutboxFailed:
			c.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "count iteration failed")
	}
	c.Total = c.Sent + c.Delivered + c.Failed
	return &c, nil
}
