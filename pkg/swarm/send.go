package swarm

import (
	"context"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

// SendReport summarises one delivery attempt.
type SendReport struct {
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Send signs and delivers a message to one member or, with
// wire.Broadcast, to every other member. Each delivery is recorded in
// the outbox with its outcome.
func (s *Service) Send(ctx context.Context, swarmID, recipient, messageType, priority, content string) ([]SendReport, error) {
	switch priority {
	case "", wire.PriorityLow, wire.PriorityNormal, wire.PriorityHigh:
	default:
		return nil, errdefs.New(errdefs.KindValidation, "unknown priority %q", priority)
	}
	if content == "" {
		return nil, errdefs.New(errdefs.KindValidation, "content must not be empty")
	}
	if len(content) > wire.MaxContentLength {
		return nil, errdefs.New(errdefs.KindValidation, "content exceeds %d characters", wire.MaxContentLength)
	}
	if messageType == "" {
		messageType = wire.TypeMessage
	}

	membership, err := s.GetSwarm(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	if !membership.HasMember(s.identity.AgentID) {
		return nil, errdefs.New(errdefs.KindNotMember, "not a member of %s", swarmID)
	}

	var targets []store.SwarmMember
	if recipient == wire.Broadcast {
		for _, m := range membership.Members {
			if m.AgentID != s.identity.AgentID {
				targets = append(targets, m)
			}
		}
	} else {
		for _, m := range membership.Members {
			if m.AgentID == recipient {
				targets = append(targets, m)
			}
		}
		if len(targets) == 0 {
			return nil, errdefs.New(errdefs.KindNotMember, "%s is not a member of %s", recipient, swarmID)
		}
	}

	reports := make([]SendReport, 0, len(targets))
	for _, target := range targets {
		msg := wire.New(wire.Sender{
			AgentID:  s.identity.AgentID,
			Endpoint: s.identity.Endpoint,
		}, recipient, swarmID, messageType, content)
		if priority != "" {
			msg.Priority = priority
		}
		msg.Signature = crypto.Sign(s.identity.PrivateKey, msg.SigningPayload())

		if err := s.store.Outbox().Insert(ctx, &store.OutboxMessage{
			MessageID:   msg.MessageID,
			SwarmID:     swarmID,
			RecipientID: target.AgentID,
			MessageType: messageType,
			Content:     content,
			SentAt:      msg.Timestamp,
		}); err != nil {
			return reports, err
		}

		report := SendReport{MessageID: msg.MessageID, Recipient: target.AgentID, Delivered: true}
		if err := s.transport.SendMessage(ctx, target.Endpoint, msg); err != nil {
			report.Delivered = false
			report.Error = err.Error()
			s.store.Outbox().MarkFailed(ctx, msg.MessageID, err.Error())
		} else {
			s.store.Outbox().MarkDelivered(ctx, msg.MessageID)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
