package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/will87p/betpool/internal/domain"
)

// EventService defines the engine methods the event feed handler needs.
type EventService interface {
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error)
}

// EventHandler serves the committed event feed consumed by indexers.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// eventResponse is the wire form of one ledger event.
type eventResponse struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	MarketID  int64          `json:"market_id"`
	Actor     string         `json:"actor"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListEvents returns committed events in sequence order. Clients resume by
// passing the highest seq they have seen.
// GET /api/events?after=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = n
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	events, err := h.events.ListEvents(r.Context(), after, limit)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventResponse{
			Seq:       ev.Seq,
			ID:        ev.ID,
			Type:      string(ev.Type),
			MarketID:  ev.MarketID,
			Actor:     ev.Actor,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}
