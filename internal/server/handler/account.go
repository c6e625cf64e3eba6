package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/will87p/betpool/internal/identity"
)

// AccountService defines the engine methods the account handler needs.
type AccountService interface {
	Deposit(ctx context.Context, account string, amount int64) error
	Withdraw(ctx context.Context, account string, amount int64) error
	GetBalance(ctx context.Context, account string) (int64, error)
}

// AccountHandler serves balance funding endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and
// logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// fundsRequest is the body for deposits and withdrawals. Amount is in
// micro-units.
type fundsRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit credits the caller's spendable balance.
// POST /api/accounts/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accounts.Deposit(r.Context(), account, req.Amount); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.writeBalance(w, r, account)
}

// Withdraw debits the caller's spendable balance. Staked funds cannot be
// withdrawn; they return through claims.
// POST /api/accounts/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	account, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req fundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accounts.Withdraw(r.Context(), account, req.Amount); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	h.writeBalance(w, r, account)
}

// GetBalance returns an account's spendable balance. Unknown accounts read as
// zero.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := identity.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	h.writeBalance(w, r, account)
}

func (h *AccountHandler) writeBalance(w http.ResponseWriter, r *http.Request, account string) {
	balance, err := h.accounts.GetBalance(r.Context(), account)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": balance,
	})
}
