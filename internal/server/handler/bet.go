package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/identity"
)

// BetService defines the engine methods the bet handler needs.
type BetService interface {
	PlaceBet(ctx context.Context, account string, marketID int64, side domain.Side, amount int64) error
	GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error)
}

// BetHandler serves stake placement and lookup endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the body for stake placement. Amount is in micro-units.
type placeBetRequest struct {
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

// PlaceBet stakes the caller's balance on one side of an open market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
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

	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bets.PlaceBet(r.Context(), account, id, side, req.Amount); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}

	stake, err := h.bets.GetStake(r.Context(), id, account, side)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   account,
		"side":      side.String(),
		"stake":     stake,
	})
}

// GetStake returns an account's live stake on one side of a market. A zero
// stake is a normal answer, returned for accounts that never bet or already
// claimed.
// GET /api/markets/{id}/stakes/{account}?side=yes
func (h *BetHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := identity.NormalizeAddress(r.PathValue("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	side, err := domain.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stake, err := h.bets.GetStake(r.Context(), id, account, side)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   account,
		"side":      side.String(),
		"stake":     stake,
	})
}
