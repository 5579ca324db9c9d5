package swarm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

// lifecycleEvent is the content of a membership system message.
type lifecycleEvent struct {
	Type        string `json:"type"`
	Action      string `json:"action"`
	SwarmID     string `json:"swarm_id"`
	AgentID     string `json:"agent_id"`
	InitiatedBy string `json:"initiated_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// notifyLifecycle records a lifecycle event in the local inbox and
// broadcasts it to every member except the local agent and exclude.
// Delivery is fire-and-forget: failures are logged, never returned.
func (s *Service) notifyLifecycle(membership *store.SwarmMembership, event lifecycleEvent, exclude string) {
	s.recordLifecycle(event)
	for _, m := range membership.Members {
		if m.AgentID == s.identity.AgentID || m.AgentID == exclude {
			continue
		}
		s.sendLifecycle(m, membership.SwarmID, m.AgentID, event)
	}
}

// recordLifecycle persists a lifecycle event as a system message in
// the local inbox. A failed insert never fails the membership
// operation that produced the event.
func (s *Service) recordLifecycle(event lifecycleEvent) {
	event.Type = "system"
	content, err := json.Marshal(event)
	if err != nil {
		logger.ErrorCF("swarm", "lifecycle event encoding failed", map[string]any{"error": err.Error()})
		return
	}
	sender := event.InitiatedBy
	if sender == "" {
		sender = event.AgentID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Inbox().Insert(ctx, &store.InboxMessage{
		MessageID:   uuid.NewString(),
		SwarmID:     event.SwarmID,
		SenderID:    sender,
		MessageType: wire.TypeSystem,
		Content:     string(content),
		ReceivedAt:  time.Now().UTC(),
	}); err != nil {
		logger.WarnCF("swarm", "lifecycle inbox record failed", map[string]any{
			"action": event.Action, "error": err.Error(),
		})
	}
}

// sendLifecycle signs and delivers one lifecycle system message in the
// background, recording the attempt in the outbox.
func (s *Service) sendLifecycle(member store.SwarmMember, swarmID, recipient string, event lifecycleEvent) {
	event.Type = "system"
	content, err := json.Marshal(event)
	if err != nil {
		logger.ErrorCF("swarm", "lifecycle event encoding failed", map[string]any{"error": err.Error()})
		return
	}

	msg := wire.New(wire.Sender{
		AgentID:  s.identity.AgentID,
		Endpoint: s.identity.Endpoint,
	}, recipient, swarmID, wire.TypeSystem, string(content))
	msg.Signature = crypto.Sign(s.identity.PrivateKey, msg.SigningPayload())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()

		if err := s.store.Outbox().Insert(ctx, &store.OutboxMessage{
			MessageID:   msg.MessageID,
			SwarmID:     swarmID,
			RecipientID: recipient,
			MessageType: wire.TypeSystem,
			Content:     msg.Content,
			SentAt:      msg.Timestamp,
		}); err != nil {
			logger.WarnCF("swarm", "outbox record failed", map[string]any{"error": err.Error()})
		}

		if err := s.transport.SendMessage(ctx, member.Endpoint, msg); err != nil {
			logger.WarnCF("swarm", "lifecycle notification delivery failed", map[string]any{
				"action": event.Action, "recipient": recipient, "error": err.Error(),
			})
			s.store.Outbox().MarkFailed(ctx, msg.MessageID, err.Error())
			return
		}
		s.store.Outbox().MarkDelivered(ctx, msg.MessageID)
	}()
}
