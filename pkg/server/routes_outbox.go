package server

import (
	"net/http"
)

// handleOutboxList lists sent messages newest first, optionally scoped
// to one swarm via ?swarm_id=.
func (s *Server) handleOutboxList(w http.ResponseWriter, r *http.Request) {
	swarmID := r.URL.Query().Get("swarm_id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	messages, err := s.store.Outbox().List(r.Context(), swarmID, limit, offset)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// handleOutboxCount returns per-status delivery counts.
func (s *Server) handleOutboxCount(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Outbox().Count(r.Context(), r.URL.Query().Get("swarm_id"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
