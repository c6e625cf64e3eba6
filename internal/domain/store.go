package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore is the durable state behind every operation. Reads outside a
// transaction see the latest committed state; all mutations go through a
// LedgerTx so an operation either commits in full or leaves no trace.
type LedgerStore interface {
	Begin(ctx context.Context) (LedgerTx, error)

	GetMarket(ctx context.Context, id int64) (Market, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	// MarketCount reports the number of markets ever created (the counter
	// value), which does not decrease when a market is deleted.
	MarketCount(ctx context.Context) (int64, error)
	GetStake(ctx context.Context, marketID int64, account string, side Side) (int64, error)
	GetBalance(ctx context.Context, account string) (int64, error)
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]Event, error)
}

// LedgerTx is one atomic unit of work against the ledger. Implementations
// must guarantee that concurrent transactions touching the same market are
// totally ordered, and that Commit applies every staged write or none.
type LedgerTx interface {
	// NextMarketID increments and returns the market counter.
	NextMarketID(ctx context.Context) (int64, error)
	// GetMarket reads a market with a write intent: the row stays stable
	// until the transaction ends.
	GetMarket(ctx context.Context, id int64) (Market, error)
	InsertMarket(ctx context.Context, m Market) error
	UpdateMarket(ctx context.Context, m Market) error
	DeleteMarket(ctx context.Context, id int64) error

	GetStake(ctx context.Context, marketID int64, account string, side Side) (int64, error)
	AddStake(ctx context.Context, marketID int64, account string, side Side, amount int64) error
	ZeroStake(ctx context.Context, marketID int64, account string, side Side) error

	// Debit fails with ErrTransferFailed when the account balance is
	// insufficient; Credit creates the account on first use.
	Debit(ctx context.Context, account string, amount int64) error
	Credit(ctx context.Context, account string, amount int64) error

	// AppendEvent stages an event and returns its assigned sequence number.
	AppendEvent(ctx context.Context, ev Event) (int64, error)

	Commit(ctx context.Context) error
	// Rollback is a no-op after a successful Commit, so it is safe to defer.
	Rollback(ctx context.Context) error
}
