package history

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultListLimit caps list responses when no limit parameter is given.
const DefaultListLimit = 50

// MaxListLimit bounds the limit parameter.
const MaxListLimit = 500

// HTTPHandler exposes the interaction log over HTTP. GET /history lists
// entries, optionally filtered by kind and narrowed by a semantic query;
// DELETE /history clears the log.
type HTTPHandler struct {
	store  Store
	logger *slog.Logger
}

// NewHTTPHandler creates a handler backed by store.
func NewHTTPHandler(store Store) *HTTPHandler {
	return &HTTPHandler{store: store, logger: slog.Default()}
}

// Register mounts the log endpoints on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /history", h.list)
	mux.HandleFunc("DELETE /history", h.clear)
}

type entryJSON struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Response  string    `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// list serves GET /history. Parameters: q (semantic recall query), kind
// ("command" or "chat"), limit (positive integer, capped at MaxListLimit).
func (h *HTTPHandler) list(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	filter := Filter{
		Query: params.Get("q"),
		Limit: DefaultListLimit,
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = min(n, MaxListLimit)
	}
	switch k := Kind(params.Get("kind")); k {
	case "", KindCommand, KindChat:
		filter.Kind = k
	default:
		http.Error(w, `kind must be "command" or "chat"`, http.StatusBadRequest)
		return
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Warn("history list failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = entryJSON{
			ID:        e.ID,
			Kind:      e.Kind,
			Text:      e.Text,
			Response:  e.Response,
			CreatedAt: e.CreatedAt,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Warn("history response write failed", "error", err)
	}
}

// clear serves DELETE /history.
func (h *HTTPHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Warn("history clear failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
