package domain

import "time"

// Stake tracks the amount a single account has committed to one side of one
// market. It is created or incremented by a bet and zeroed by a successful
// claim; the amount is never negative.
type Stake struct {
	MarketID  int64
	Account   string
	Side      Side
	Amount    int64
	UpdatedAt time.Time
}

// Account holds the spendable balance for a principal. Bets debit it, claims
// and deposits credit it, all inside the same transaction as the ledger
// mutation they accompany.
type Account struct {
	Address   string
	Balance   int64
	UpdatedAt time.Time
}
