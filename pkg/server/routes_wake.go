package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentswarm/swarmgate/pkg/wake"
)

// wakeRequest is the body of POST /api/wake, as posted by the wake
// trigger. All fields are optional; an empty body wakes with a generic
// prompt and no resume hint.
type wakeRequest struct {
	Prompt            string `json:"prompt"`
	MessageID         string `json:"message_id"`
	SwarmID           string `json:"swarm_id"`
	SenderID          string `json:"sender_id"`
	NotificationLevel string `json:"notification_level"`
}

// handleWake triggers a local agent invocation. The optional shared
// secret is checked in constant time; concurrent wakes collapse onto
// one invocation via the coordinator lock.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.WakeEndpoint.Secret; secret != "" {
		got := r.Header.Get("X-Wake-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, http.StatusForbidden, "NOT_AUTHORIZED", "invalid wake secret")
			return
		}
	}

	var req wakeRequest
	if r.Body != nil {
		json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	}
	prompt := req.Prompt
	if prompt == "" {
		counts, err := s.store.Inbox().Count(r.Context(), req.SwarmID)
		if err != nil {
			writeKindError(w, err)
			return
		}
		prompt = fmt.Sprintf("You have %d unread swarm message(s). Check your inbox.", counts.Unread)
	}

	status, sessionID, err := s.waker.HandleWake(prompt, req.SwarmID, req.SenderID)
	if err != nil {
		writeKindError(w, err)
		return
	}

	body := map[string]any{"status": string(status)}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	switch status {
	case wake.WakeInvoked:
		writeJSON(w, http.StatusAccepted, body)
	default:
		writeJSON(w, http.StatusOK, body)
	}
	s.metrics.Wakes.Inc()
}
