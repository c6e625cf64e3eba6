package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/identity"
)

// MarketService defines the methods that the market handler requires from the
// settlement engine. It is declared locally so the handler package does not
// depend on the concrete engine implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, creator, description string, resolutionTime time.Time) (int64, error)
	GetMarket(ctx context.Context, id int64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	MarketCount(ctx context.Context) (int64, error)
	DeleteMarket(ctx context.Context, caller string, marketID int64) error
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// marketResponse is the wire form of a market record.
type marketResponse struct {
	ID             int64     `json:"id"`
	Creator        string    `json:"creator"`
	Description    string    `json:"description"`
	ResolutionTime time.Time `json:"resolution_time"`
	Oracle         string    `json:"oracle"`
	Resolved       bool      `json:"resolved"`
	WinningOutcome string    `json:"winning_outcome,omitempty"`
	TotalYes       int64     `json:"total_yes"`
	TotalNo        int64     `json:"total_no"`
	Pot            int64     `json:"pot"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		ID:             m.ID,
		Creator:        m.Creator,
		Description:    m.Description,
		ResolutionTime: m.ResolutionTime,
		Oracle:         m.Oracle,
		Resolved:       m.Resolved,
		TotalYes:       m.TotalYes,
		TotalNo:        m.TotalNo,
		Pot:            m.Pot(),
		CreatedAt:      m.CreatedAt,
	}
	if m.Resolved {
		resp.WinningOutcome = m.WinningOutcome.String()
	}
	return resp
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Description    string    `json:"description"`
	ResolutionTime time.Time `json:"resolution_time"`
}

// CreateMarket opens a new market with the caller as creator and oracle.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	creator, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.markets.CreateMarket(r.Context(), creator, req.Description, req.ResolutionTime)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		// The market committed; fall back to the id alone.
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(market))
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns markets newest first with pagination.
// GET /api/markets?limit=50&offset=0&since=...&until=...
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	resp := listMarketsResponse{
		Markets: make([]marketResponse, 0, len(markets)),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for _, m := range markets {
		resp.Markets = append(resp.Markets, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

// MarketCount returns the number of markets ever created. The count does not
// decrease when markets are deleted.
// GET /api/markets/count
func (h *MarketHandler) MarketCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.markets.MarketCount(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// DeleteMarket removes an unresolved market with no bets. Creator only.
// DELETE /api/markets/{id}
func (h *MarketHandler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.markets.DeleteMarket(r.Context(), caller, id); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
