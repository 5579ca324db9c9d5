package swarm

import (
	"context"

	"github.com/agentswarm/swarmgate/pkg/logger"
)

// MuteAgent silences wake triggers for one sender and records a
// member_muted notice in the local inbox.
func (s *Service) MuteAgent(ctx context.Context, agentID, reason string) error {
	if err := s.store.Mutes().MuteAgent(ctx, agentID, reason); err != nil {
		return err
	}
	s.recordLifecycle(lifecycleEvent{
		Action:      "member_muted",
		AgentID:     agentID,
		InitiatedBy: s.identity.AgentID,
		Reason:      reason,
	})
	logger.InfoCF("swarm", "agent muted", map[string]any{"agent_id": agentID})
	return nil
}

// UnmuteAgent lifts an agent mute. Removing an absent mute reports
// false without a notification.
func (s *Service) UnmuteAgent(ctx context.Context, agentID string) (bool, error) {
	removed, err := s.store.Mutes().UnmuteAgent(ctx, agentID)
	if err != nil || !removed {
		return removed, err
	}
	s.recordLifecycle(lifecycleEvent{
		Action:      "member_unmuted",
		AgentID:     agentID,
		InitiatedBy: s.identity.AgentID,
	})
	logger.InfoCF("swarm", "agent unmuted", map[string]any{"agent_id": agentID})
	return true, nil
}

// MuteSwarm silences wake triggers for a whole swarm.
func (s *Service) MuteSwarm(ctx context.Context, swarmID, reason string) error {
	if err := s.store.Mutes().MuteSwarm(ctx, swarmID, reason); err != nil {
		return err
	}
	s.recordLifecycle(lifecycleEvent{
		Action:      "member_muted",
		SwarmID:     swarmID,
		InitiatedBy: s.identity.AgentID,
		Reason:      reason,
	})
	logger.InfoCF("swarm", "swarm muted", map[string]any{"swarm_id": swarmID})
	return nil
}

// UnmuteSwarm lifts a swarm mute.
func (s *Service) UnmuteSwarm(ctx context.Context, swarmID string) (bool, error) {
	removed, err := s.store.Mutes().UnmuteSwarm(ctx, swarmID)
	if err != nil || !removed {
		return removed, err
	}
	s.recordLifecycle(lifecycleEvent{
		Action:      "member_unmuted",
		SwarmID:     swarmID,
		InitiatedBy: s.identity.AgentID,
	})
	logger.InfoCF("swarm", "swarm unmuted", map[string]any{"swarm_id": swarmID})
	return true, nil
}
