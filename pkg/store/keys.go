package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// keyTTL is how long a cached public key stays fresh.
const keyTTL = 24 * time.Hour

// CachedKey is one cached peer public key.
type CachedKey struct {
	AgentID   string    `json:"agent_id"`
	PublicKey string    `json:"public_key"`
	FetchedAt time.Time `json:"fetched_at"`
	Endpoint  string    `json:"endpoint,omitempty"`
}

// KeyRepo caches peer public keys with a 24-hour freshness window.
type KeyRepo struct {
	db *sql.DB
}

// Upsert stores or refreshes a key, resetting its fetch time.
func (r *KeyRepo) Upsert(ctx context.Context, agentID, publicKey, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO public_keys (agent_id, public_key, fetched_at, endpoint)
		VALUES (?, ?, ?, ?)`,
		agentID, publicKey, fmtTime(time.Now()), nullIfEmpty(endpoint))
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "key upsert failed")
	}
	return nil
}

// Get returns a cached key, fresh or stale. Returns nil when absent.
func (r *KeyRepo) Get(ctx context.Context, agentID string) (*CachedKey, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT agent_id, public_key, fetched_at, endpoint FROM public_keys WHERE agent_id = ?", agentID)

	var k CachedKey
	var fetchedAt string
	var endpoint sql.NullString
	err := row.Scan(&k.AgentID, &k.PublicKey, &fetchedAt, &endpoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "key lookup failed")
	}
	k.FetchedAt = parseTime(fetchedAt)
	k.Endpoint = endpoint.String
	return &k, nil
}

// GetFresh returns a cached key only while it is inside the freshness
// window. Stale entries come back nil so the caller re-fetches.
func (r *KeyRepo) GetFresh(ctx context.Context, agentID string) (*CachedKey, error) {
	k, err := r.Get(ctx, agentID)
	if err != nil || k == nil {
		return nil, err
	}
	if time.Since(k.FetchedAt) > keyTTL {
		return nil, nil
	}
	return k, nil
}

// GetAll returns every cached key.
func (r *KeyRepo) GetAll(ctx context.Context) ([]CachedKey, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT agent_id, public_key, fetched_at, endpoint FROM public_keys ORDER BY agent_id")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "key listing failed")
	}
	defer rows.Close()

	var out []CachedKey
	for rows.Next() {
		var k CachedKey
		var fetchedAt string
		var endpoint sql.NullString
		if err := rows.Scan(&k.AgentID, &k.PublicKey, &fetchedAt, &endpoint); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "key scan failed")
		}
		k.FetchedAt = parseTime(fetchedAt)
		k.Endpoint = endpoint.String
		out = append(out, k)
	}
	return out, rows.Err()
}

// EvictStale removes entries older than the freshness window.
func (r *KeyRepo) EvictStale(ctx context.Context) (int, error) {
	cutoff := fmtTime(time.Now().Add(-keyTTL))
	res, err := r.db.ExecContext(ctx, "DELETE FROM public_keys WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "key eviction failed")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
