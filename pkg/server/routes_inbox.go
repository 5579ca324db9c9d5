package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/agentswarm/swarmgate/pkg/store"
)

// previewLength caps content in list responses.
const previewLength = 200

// inboxListItem is the trimmed list view of an inbox message.
type inboxListItem struct {
	MessageID      string `json:"message_id"`
	SwarmID        string `json:"swarm_id"`
	SenderID       string `json:"sender_id"`
	MessageType    string `json:"message_type"`
	ContentPreview string `json:"content_preview"`
	ReceivedAt     string `json:"received_at"`
	Status         string `json:"status"`
}

func toListItem(m *store.InboxMessage) inboxListItem {
	preview := m.Content
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	return inboxListItem{
		MessageID:      m.MessageID,
		SwarmID:        m.SwarmID,
		SenderID:       m.SenderID,
		MessageType:    m.MessageType,
		ContentPreview: preview,
		ReceivedAt:     m.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		Status:         m.Status,
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// handleInboxList lists messages by status (default unread) with
// previews instead of full content.
func (s *Server) handleInboxList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = store.StatusUnread
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	messages, err := s.store.Inbox().ListByStatus(r.Context(), r.URL.Query().Get("swarm_id"), status, limit, offset)
	if err != nil {
		writeKindError(w, err)
		return
	}
	items := make([]inboxListItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, toListItem(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": items,
		"count":    len(items),
		"status":   status,
	})
}

// handleInboxCount returns per-status counts.
func (s *Server) handleInboxCount(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Inbox().Count(r.Context(), r.URL.Query().Get("swarm_id"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleInboxGet returns one full message and marks it read as a side
// effect of being fetched.
func (s *Server) handleInboxGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msg, err := s.store.Inbox().GetByID(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if msg == nil || msg.Status == store.StatusDeleted {
		writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message not found")
		return
	}
	if msg.Status == store.StatusUnread {
		if _, err := s.store.Inbox().MarkRead(r.Context(), id); err != nil {
			writeKindError(w, err)
			return
		}
		msg, err = s.store.Inbox().GetByID(r.Context(), id)
		if err != nil {
			writeKindError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleInboxRead(w http.ResponseWriter, r *http.Request) {
	s.inboxTransition(w, r, func(id string) (bool, error) {
		return s.store.Inbox().MarkRead(r.Context(), id)
	}, false)
}

// handleInboxArchive archives a message. Archiving a deleted message
// is a 400, not a silent no-op.
func (s *Server) handleInboxArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msg, err := s.store.Inbox().GetByID(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message not found")
		return
	}
	if msg.Status == store.StatusDeleted {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "cannot archive a deleted message")
		return
	}
	updated, err := s.store.Inbox().MarkArchived(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "updated": updated, "status": store.StatusArchived})
}

func (s *Server) handleInboxDelete(w http.ResponseWriter, r *http.Request) {
	s.inboxTransition(w, r, func(id string) (bool, error) {
		return s.store.Inbox().MarkDeleted(r.Context(), id)
	}, true)
}

// inboxTransition runs one status transition, 404ing unknown ids.
func (s *Server) inboxTransition(w http.ResponseWriter, r *http.Request, fn func(string) (bool, error), deleting bool) {
	id := r.PathValue("id")
	msg, err := s.store.Inbox().GetByID(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message not found")
		return
	}
	updated, err := fn(id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	status := store.StatusRead
	if deleting {
		status = store.StatusDeleted
	}
	writeJSON(w, http.StatusOK, map[string]any{"message_id": id, "updated": updated, "status": status})
}

// batchRequest is the body of POST /api/inbox/batch.
type batchRequest struct {
	Action     string   `json:"action"`
	MessageIDs []string `json:"message_ids"`
}

// handleInboxBatch applies one action to up to 100 messages and
// reports how many actually changed.
func (s *Server) handleInboxBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "invalid batch request body")
		return
	}
	updated, err := s.store.Inbox().BatchUpdate(r.Context(), req.Action, req.MessageIDs)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action":  req.Action,
		"updated": updated,
		"total":   len(req.MessageIDs),
	})
}
