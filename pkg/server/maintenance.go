package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
)

// Maintenance runs periodic housekeeping: expired SDK sessions, stale
// cached keys and old soft-deleted inbox rows.
type Maintenance struct {
	cron  *cron.Cron
	store *store.Manager

	// SessionTimeoutMinutes bounds sdk_sessions retention.
	SessionTimeoutMinutes int
	// DeletedRetentionHours is how long soft-deleted inbox rows stay
	// before the purge removes them.
	DeletedRetentionHours int
}

// NewMaintenance wires the housekeeping scheduler with defaults of a
// 30 minute session window and 7 day deleted retention.
func NewMaintenance(st *store.Manager) *Maintenance {
	return &Maintenance{
		cron:                  cron.New(),
		store:                 st,
		SessionTimeoutMinutes: 30,
		DeletedRetentionHours: 7 * 24,
	}
}

// Start schedules the jobs: key eviction and session purge hourly,
// deleted-row purge daily.
func (mt *Maintenance) Start() error {
	if _, err := mt.cron.AddFunc("@hourly", mt.hourly); err != nil {
		return err
	}
	if _, err := mt.cron.AddFunc("@daily", mt.daily); err != nil {
		return err
	}
	mt.cron.Start()
	logger.InfoC("server", "maintenance scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish.
func (mt *Maintenance) Stop() {
	ctx := mt.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		logger.WarnC("server", "maintenance job still running at shutdown")
	}
}

func (mt *Maintenance) hourly() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := mt.store.Keys().EvictStale(ctx); err != nil {
		logger.WarnCF("server", "key eviction failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		logger.InfoCF("server", "evicted stale public keys", map[string]any{"count": n})
	}

	if n, err := mt.store.Sessions().PurgeExpired(ctx, mt.SessionTimeoutMinutes); err != nil {
		logger.WarnCF("server", "session purge failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		logger.InfoCF("server", "purged expired peer sessions", map[string]any{"count": n})
	}
}

func (mt *Maintenance) daily() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := mt.store.Inbox().PurgeDeleted(ctx, mt.DeletedRetentionHours); err != nil {
		logger.WarnCF("server", "deleted-row purge failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		logger.InfoCF("server", "purged old deleted messages", map[string]any{"count": n})
	}
}
