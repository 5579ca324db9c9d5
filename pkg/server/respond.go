package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// errorBody is the error envelope every failing endpoint returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCF("server", "response encoding failed", map[string]any{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeKindError maps a tagged error onto its HTTP status and error
// code. Untagged errors become 500s with a generic message so internal
// detail never leaks to peers.
func writeKindError(w http.ResponseWriter, err error) {
	switch errdefs.KindOf(err) {
	case errdefs.KindFormat, errdefs.KindValidation:
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", err.Error())
	// Expired tokens fail verification the same way bad signatures
	// do: the token is well-formed but not acceptable.
	case errdefs.KindSignature, errdefs.KindExpired:
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", err.Error())
	case errdefs.KindNotMaster, errdefs.KindNotMember:
		writeError(w, http.StatusForbidden, "NOT_AUTHORIZED", err.Error())
	case errdefs.KindSwarmNotFound:
		writeError(w, http.StatusNotFound, "SWARM_NOT_FOUND", err.Error())
	case errdefs.KindRateLimited:
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	default:
		logger.ErrorCF("server", "internal error", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
