package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/identity"
)

// SettlementService defines the engine methods the settlement handler needs.
type SettlementService interface {
	ResolveMarket(ctx context.Context, caller string, marketID int64, outcome domain.Side) error
	ClaimWinnings(ctx context.Context, account string, marketID int64) (int64, error)
}

// SettlementHandler serves resolution and claim endpoints.
type SettlementHandler struct {
	settle SettlementService
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settle SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settle: settle,
		logger: logger,
	}
}

// resolveRequest is the body for market resolution.
type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket fixes a market's winning outcome. Oracle only, and only once
// the resolution deadline has passed.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
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

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := domain.ParseSide(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settle.ResolveMarket(r.Context(), caller, id, outcome); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":       id,
		"winning_outcome": outcome.String(),
	})
}

// ClaimWinnings pays out the caller's share of a resolved market's pot.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	account, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.settle.ClaimWinnings(r.Context(), account, id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   account,
		"payout":    payout,
	})
}
