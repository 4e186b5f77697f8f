package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gamidash/internal/handler/http/respond"
	"gamidash/internal/security"
)

// BlockedEntry is one row of GET /security/blocked.
type BlockedEntry struct {
	Identifier   string `json:"identifier"`
	BlockedUntil string `json:"blockedUntil"`
	Reason       string `json:"reason"`
}

// BlockedHandler lists identifiers with an active block.
type BlockedHandler struct {
	Guard *security.Guard
}

func (h *BlockedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	blocked := h.Guard.Blocked()

	entries := make([]BlockedEntry, 0, len(blocked))
	for _, b := range blocked {
		entries = append(entries, BlockedEntry{
			Identifier:   b.Identifier,
			BlockedUntil: b.BlockedUntil.UTC().Format(time.RFC3339),
			Reason:       b.Reason,
		})
	}
	respond.JSON(w, http.StatusOK, entries)
}

// BlockRequest is the body of POST /security/block. DurationMs below one
// minute is raised to the minimum by the guard.
type BlockRequest struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"durationMs"`
}

// BlockHandler installs a manual block for an identifier.
type BlockHandler struct {
	Guard *security.Guard
}

func (h *BlockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Identifier == "" {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("identifier is required"))
		return
	}
	if req.Reason == "" {
		req.Reason = "manual block"
	}

	h.Guard.Block(req.Identifier, req.Reason, time.Duration(req.DurationMs)*time.Millisecond)
	w.WriteHeader(http.StatusNoContent)
}
