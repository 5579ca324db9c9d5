package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/agentswarm/swarmgate/pkg/bus"
	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/swarm"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

// maxBodySize bounds request bodies well above the content limit.
const maxBodySize = 1 << 20

// handleMessage ingests a peer message: parse, persist idempotently,
// then hand off to the wake queue. Persistence happens before queueing
// so a full queue never loses a message. Signature verification is
// advisory here: a failed check is logged but the message is stored
// anyway so it remains available for inspection.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "cannot read request body")
		return
	}

	msg, err := wire.Parse(body)
	if err != nil {
		writeKindError(w, err)
		return
	}
	s.checkSignature(r, msg)

	inserted, err := s.store.Inbox().Insert(r.Context(), &store.InboxMessage{
		MessageID:   msg.MessageID,
		SwarmID:     msg.SwarmID,
		SenderID:    msg.Sender.AgentID,
		RecipientID: msg.Recipient,
		MessageType: msg.Type,
		Content:     msg.Content,
		ReceivedAt:  msg.Timestamp,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	s.metrics.Received.Inc()

	// A duplicate is already persisted and already queued once; ack it
	// without re-queueing so retries stay side-effect free.
	if inserted {
		if !s.bus.Publish(bus.Queued{Message: msg, RemoteIP: clientIP(r)}) {
			s.metrics.Dropped.Inc()
			logger.WarnCF("server", "wake queue full, message persisted but not queued", map[string]any{
				"message_id": msg.MessageID,
			})
		}
		s.metrics.QueueDepth.Set(float64(s.bus.Size()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "queued",
		"message_id": msg.MessageID,
	})
}

// checkSignature verifies the message signature when the sender's key
// is resolvable and logs the outcome. Verification never rejects at
// ingress; inbox consumers decide what to do with unverified messages.
func (s *Server) checkSignature(r *http.Request, msg *wire.Message) {
	key, err := s.resolveSenderKey(r, msg.SwarmID, msg.Sender.AgentID)
	if err != nil || key == nil {
		logger.DebugCF("server", "no key to verify sender, storing unverified", map[string]any{
			"message_id": msg.MessageID, "sender": msg.Sender.AgentID,
		})
		return
	}
	if !crypto.Verify(key, msg.Signature, msg.SigningPayload()) {
		logger.WarnCF("server", "message signature verification failed", map[string]any{
			"message_id": msg.MessageID, "sender": msg.Sender.AgentID, "swarm_id": msg.SwarmID,
		})
	}
}

// resolveSenderKey finds the sender's public key: member record first,
// then the key cache. A nil key with nil error means no key is known.
func (s *Server) resolveSenderKey(r *http.Request, swarmID, senderID string) ([]byte, error) {
	membership, err := s.store.Membership().GetSwarm(r.Context(), swarmID)
	if err != nil {
		return nil, err
	}
	if membership != nil {
		for _, m := range membership.Members {
			if m.AgentID == senderID {
				return crypto.PublicKeyFromBase64(m.PublicKey)
			}
		}
	}
	cached, err := s.store.Keys().GetFresh(r.Context(), senderID)
	if err != nil || cached == nil {
		return nil, err
	}
	return crypto.PublicKeyFromBase64(cached.PublicKey)
}

// handleJoin accepts an inbound join request carrying an invite token.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req swarm.JoinRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "invalid join request body")
		return
	}

	result, err := s.swarms.HandleJoin(r.Context(), &req)
	if err != nil {
		// Malformed tokens are token errors here, not generic format
		// errors. Expired tokens go through the kind mapping as 401s.
		if errdefs.KindOf(err) == errdefs.KindFormat {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", err.Error())
			return
		}
		writeKindError(w, err)
		return
	}

	if result.Pending {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "pending",
			"swarm_id": result.Swarm.SwarmID,
			"message":  "join request awaits master approval",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "accepted",
		"swarm_id":   result.Swarm.SwarmID,
		"swarm_name": result.Swarm.Name,
		"members":    result.Swarm.Members,
	})
}

// handleHealth reports liveness plus queue pressure. The status flips
// to degraded when the wake queue is at 80% or more of capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	size := s.bus.Size()
	capacity := s.bus.Capacity()
	status := "healthy"
	if capacity > 0 && size*100 >= capacity*80 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"agent_id":         s.cfg.Agent.AgentID,
		"protocol_version": s.cfg.Agent.ProtocolVersion,
		"timestamp":        wire.FormatWireTime(time.Now()),
		"queue_size":       size,
		"queue_capacity":   capacity,
		"queue_dropped":    s.bus.Dropped(),
	})
}

// handleInfo advertises this agent's identity and capabilities.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":         s.cfg.Agent.AgentID,
		"endpoint":         s.cfg.Agent.Endpoint,
		"public_key":       s.cfg.Agent.PublicKey,
		"protocol_version": s.cfg.Agent.ProtocolVersion,
		"capabilities":     s.cfg.Agent.Capabilities,
		"name":             s.cfg.Agent.Name,
		"description":      s.cfg.Agent.Description,
	})
}
