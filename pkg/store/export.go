package store

import (
	"context"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// ExportVersion is the snapshot format written by Export.
const ExportVersion = "2.0.0"

// Snapshot is the portable JSON view of the whole store.
type Snapshot struct {
	Version    string             `json:"schema_version"`
	AgentID    string             `json:"agent_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Swarms     []*SwarmMembership `json:"swarms"`
	MutedAgent []MuteEntry        `json:"muted_agents"`
	MutedSwarm []MuteEntry        `json:"muted_swarms"`
	PublicKeys []CachedKey        `json:"public_keys"`
	Inbox      []*InboxMessage    `json:"inbox,omitempty"`
	Outbox     []*OutboxMessage   `json:"outbox,omitempty"`
}

// Export builds a full snapshot of the store. Deleted inbox rows are
// not exported.
func (m *Manager) Export(ctx context.Context, agentID string) (*Snapshot, error) {
	swarms, err := m.Membership().GetAllSwarms(ctx)
	if err != nil {
		return nil, err
	}
	mutedAgents, err := m.Mutes().ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	mutedSwarms, err := m.Mutes().ListSwarms(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := m.Keys().GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var inbox []*InboxMessage
	for offset := 0; ; offset += maxListLimit {
		page, err := m.Inbox().ListByStatus(ctx, "", "all", maxListLimit, offset)
		if err != nil {
			return nil, err
		}
		inbox = append(inbox, page...)
		if len(page) < maxListLimit {
			break
		}
	}

	var outbox []*OutboxMessage
	for offset := 0; ; offset += maxListLimit {
		page, err := m.Outbox().List(ctx, "", maxListLimit, offset)
		if err != nil {
			return nil, err
		}
		outbox = append(outbox, page...)
		if len(page) < maxListLimit {
			break
		}
	}

	return &Snapshot{
		Version:    ExportVersion,
		AgentID:    agentID,
		ExportedAt: time.Now().UTC(),
		Swarms:     swarms,
		MutedAgent: mutedAgents,
		MutedSwarm: mutedSwarms,
		PublicKeys: keys,
		Inbox:      inbox,
		Outbox:     outbox,
	}, nil
}

// Import loads a snapshot into the store. Version 1.0.0 snapshots
// (swarms and mutes only) are accepted alongside the current format.
// With merge=false the affected tables are truncated first; with
// merge=true existing rows win on conflict.
func (m *Manager) Import(ctx context.Context, snap *Snapshot, merge bool) error {
	switch snap.Version {
	case "1.0.0", ExportVersion:
	default:
		return errdefs.New(errdefs.KindImport, "unsupported snapshot version %q", snap.Version)
	}

	if !merge {
		for _, table := range []string{"swarm_members", "swarms", "muted_agents", "muted_swarms", "public_keys", "inbox", "outbox"} {
			if _, err := m.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return errdefs.Wrap(errdefs.KindStorage, err, "truncating %s failed", table)
			}
		}
	}

	for _, s := range snap.Swarms {
		if merge {
			existing, err := m.Membership().GetSwarm(ctx, s.SwarmID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
		}
		if err := m.Membership().SaveSwarm(ctx, s); err != nil {
			return err
		}
	}
	for _, e := range snap.MutedAgent {
		if err := m.Mutes().MuteAgent(ctx, e.ID, e.Reason); err != nil {
			return err
		}
	}
	for _, e := range snap.MutedSwarm {
		if err := m.Mutes().MuteSwarm(ctx, e.ID, e.Reason); err != nil {
			return err
		}
	}
	for _, k := range snap.PublicKeys {
		if err := m.Keys().Upsert(ctx, k.AgentID, k.PublicKey, k.Endpoint); err != nil {
			return err
		}
	}
	for _, msg := range snap.Inbox {
		if _, err := m.Inbox().Insert(ctx, msg); err != nil {
			return err
		}
		switch msg.Status {
		case StatusRead:
			if _, err := m.Inbox().MarkRead(ctx, msg.MessageID); err != nil {
				return err
			}
		case StatusArchived:
			if _, err := m.Inbox().MarkArchived(ctx, msg.MessageID); err != nil {
				return err
			}
		}
	}
	for _, msg := range snap.Outbox {
		if err := m.Outbox().Insert(ctx, msg); err != nil {
			return err
		}
		switch msg.Status {
		case OutboxDelivered:
			if _, err := m.Outbox().MarkDelivered(ctx, msg.MessageID); err != nil {
				return err
			}
		case OutboxFailed:
			if _, err := m.Outbox().MarkFailed(ctx, msg.MessageID, msg.Error); err != nil {
				return err
			}
		}
	}

	logger.InfoCF("store", "snapshot imported", map[string]any{
		"version": snap.Version,
		"swarms":  len(snap.Swarms),
		"merge":   merge,
	})
	return nil
}
