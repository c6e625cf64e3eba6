// Package ledger implements the market lifecycle and settlement engine: market
// creation, stake accounting, oracle-gated resolution, proportional payout,
// and deletion-safety. Every operation runs as one store transaction under a
// per-market mutex, so each either commits in full or leaves no trace, and no
// two operations on the same market interleave.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/will87p/betpool/internal/domain"
)

// EventChannel is the bus channel and stream that committed ledger events are
// published on.
const EventChannel = "ledger:events"

// marketLockTTL bounds how long a cross-instance market lock is held when a
// LockManager is armed.
const marketLockTTL = 10 * time.Second

// Engine executes the five ledger operations and the read queries against a
// LedgerStore. It is safe for concurrent use.
type Engine struct {
	store  domain.LedgerStore
	bus    domain.EventBus
	cache  domain.MarketCache // optional
	locks  *keyedMutex
	lm     domain.LockManager // optional, for multi-instance deployments
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine. bus receives one event per committed
// operation; cache may be nil.
func NewEngine(store domain.LedgerStore, bus domain.EventBus, cache domain.MarketCache, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		cache:  cache,
		locks:  newKeyedMutex(),
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// SetLockManager arms a distributed lock taken around every mutating
// operation, in addition to the in-process per-market mutex. Required only
// when several instances share one store.
func (e *Engine) SetLockManager(lm domain.LockManager) {
	e.lm = lm
}

// lockMarket serializes a mutating operation on one market. The in-process
// mutex orders local callers; the distributed lock, when armed, orders
// instances.
func (e *Engine) lockMarket(ctx context.Context, id int64) (func(), error) {
	unlock := e.locks.Lock(id)
	if e.lm == nil {
		return unlock, nil
	}

	key := fmt.Sprintf("market:%d", id)
	release, err := e.lm.Acquire(ctx, key, marketLockTTL)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("ledger: acquire market lock %d: %w", id, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// CreateMarket allocates the next market id and stores a new open market with
// the caller as both creator and oracle. The description may be empty (a
// degenerate but valid market); the resolution time must be strictly in the
// future.
func (e *Engine) CreateMarket(ctx context.Context, creator, description string, resolutionTime time.Time) (int64, error) {
	now := e.now()
	if !resolutionTime.After(now) {
		return 0, fmt.Errorf("ledger: create market: resolution time must be in the future: %w", domain.ErrInvalidInput)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: create market: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := tx.NextMarketID(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: create market: next id: %w", err)
	}

	m := domain.Market{
		ID:             id,
		Creator:        creator,
		Description:    description,
		ResolutionTime: resolutionTime,
		Oracle:         creator,
		CreatedAt:      now,
	}
	if err := tx.InsertMarket(ctx, m); err != nil {
		return 0, fmt.Errorf("ledger: create market %d: insert: %w", id, err)
	}

	seq, err := tx.AppendEvent(ctx, domain.Event{
		ID:       uuid.New().String(),
		Type:     domain.EventMarketCreated,
		MarketID: id,
		Actor:    creator,
		Detail: map[string]any{
			"description":     description,
			"resolution_time": resolutionTime.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: create market %d: append event: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: create market %d: commit: %w", id, err)
	}

	e.publish(ctx, domain.EventMarketCreated, seq, id, creator, map[string]any{
		"description":     description,
		"resolution_time": resolutionTime.UTC().Format(time.RFC3339),
	})

	e.logger.InfoContext(ctx, "market created",
		slog.Int64("market_id", id),
		slog.String("creator", creator),
		slog.Time("resolution_time", resolutionTime),
	)
	return id, nil
}

// PlaceBet stakes amount on one side of an open market, debiting the caller's
// balance and growing the matching pool by the same amount. Repeated bets
// accumulate; an account may back both sides across separate calls.
func (e *Engine) PlaceBet(ctx context.Context, account string, marketID int64, side domain.Side, amount int64) error {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: place bet on %d: begin: %w", marketID, err)
	}
	defer tx.Rollback(ctx)

	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger: place bet: market %d does not exist: %w", marketID, domain.ErrNotFound)
		}
		return fmt.Errorf("ledger: place bet on %d: get market: %w", marketID, err)
	}
	if m.Resolved {
		return fmt.Errorf("ledger: place bet on %d: market already resolved: %w", marketID, domain.ErrInvalidState)
	}
	if !now.Before(m.ResolutionTime) {
		return fmt.Errorf("ledger: place bet on %d: betting window closed: %w", marketID, domain.ErrInvalidState)
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: place bet on %d: amount must be positive: %w", marketID, domain.ErrInvalidInput)
	}

	if err := tx.Debit(ctx, account, amount); err != nil {
		return fmt.Errorf("ledger: place bet on %d: debit %s: %w", marketID, account, err)
	}
	if err := tx.AddStake(ctx, marketID, account, side, amount); err != nil {
		return fmt.Errorf("ledger: place bet on %d: add stake: %w", marketID, err)
	}

	if side == domain.SideYes {
		m.TotalYes += amount
	} else {
		m.TotalNo += amount
	}
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return fmt.Errorf("ledger: place bet on %d: update pools: %w", marketID, err)
	}

	seq, err := tx.AppendEvent(ctx, domain.Event{
		ID:       uuid.New().String(),
		Type:     domain.EventBetPlaced,
		MarketID: marketID,
		Actor:    account,
		Detail: map[string]any{
			"side":   side.String(),
			"amount": amount,
		},
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("ledger: place bet on %d: append event: %w", marketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: place bet on %d: commit: %w", marketID, err)
	}

	e.invalidate(ctx, marketID)
	e.publish(ctx, domain.EventBetPlaced, seq, marketID, account, map[string]any{
		"side":   side.String(),
		"amount": amount,
	})

	e.logger.InfoContext(ctx, "bet placed",
		slog.Int64("market_id", marketID),
		slog.String("account", account),
		slog.String("side", side.String()),
		slog.Int64("amount", amount),
	)
	return nil
}

// ResolveMarket declares the winning outcome. Only the market's oracle may
// resolve, only at or after the resolution time, and only once; the
// transition is irreversible.
func (e *Engine) ResolveMarket(ctx context.Context, caller string, marketID int64, outcome domain.Side) error {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: resolve %d: begin: %w", marketID, err)
	}
	defer tx.Rollback(ctx)

	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger: resolve: market %d does not exist: %w", marketID, domain.ErrNotFound)
		}
		return fmt.Errorf("ledger: resolve %d: get market: %w", marketID, err)
	}
	if caller != m.Oracle {
		return fmt.Errorf("ledger: resolve %d: caller is not the oracle: %w", marketID, domain.ErrUnauthorized)
	}
	if !m.Resolvable(now) {
		return fmt.Errorf("ledger: resolve %d: resolution time not reached: %w", marketID, domain.ErrInvalidState)
	}
	if m.Resolved {
		return fmt.Errorf("ledger: resolve %d: market already resolved: %w", marketID, domain.ErrInvalidState)
	}

	m.Resolved = true
	m.WinningOutcome = outcome
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return fmt.Errorf("ledger: resolve %d: update market: %w", marketID, err)
	}

	seq, err := tx.AppendEvent(ctx, domain.Event{
		ID:       uuid.New().String(),
		Type:     domain.EventMarketResolved,
		MarketID: marketID,
		Actor:    caller,
		Detail: map[string]any{
			"winning_outcome": outcome.String(),
		},
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("ledger: resolve %d: append event: %w", marketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: resolve %d: commit: %w", marketID, err)
	}

	e.invalidate(ctx, marketID)
	e.publish(ctx, domain.EventMarketResolved, seq, marketID, caller, map[string]any{
		"winning_outcome": outcome.String(),
	})

	e.logger.InfoContext(ctx, "market resolved",
		slog.Int64("market_id", marketID),
		slog.String("winning_outcome", outcome.String()),
	)
	return nil
}

// ClaimWinnings pays the caller their pro-rata share of the pot:
// stake * pot / winningPool, truncated toward zero. The winning-side stake is
// zeroed before the balance credit, so a duplicate claim finds no stake and
// fails with ErrNothingToClaim instead of paying twice.
func (e *Engine) ClaimWinnings(ctx context.Context, account string, marketID int64) (int64, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := e.now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: begin: %w", marketID, err)
	}
	defer tx.Rollback(ctx)

	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("ledger: claim: market %d does not exist: %w", marketID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("ledger: claim on %d: get market: %w", marketID, err)
	}
	if !m.Resolved {
		return 0, fmt.Errorf("ledger: claim on %d: market not resolved yet: %w", marketID, domain.ErrInvalidState)
	}

	stake, err := tx.GetStake(ctx, marketID, account, m.WinningOutcome)
	if err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: get stake: %w", marketID, err)
	}
	if stake == 0 {
		return 0, fmt.Errorf("ledger: claim on %d: no winning stake for %s: %w", marketID, account, domain.ErrNothingToClaim)
	}

	payout := winnerPayout(stake, m.Pot(), m.Pool(m.WinningOutcome))

	// Zero the stake before moving value out; the order matters for the
	// double-spend window even inside a transaction, and it keeps the
	// commit-time state consistent with at-least-once resubmission.
	if err := tx.ZeroStake(ctx, marketID, account, m.WinningOutcome); err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: zero stake: %w", marketID, err)
	}
	if err := tx.Credit(ctx, account, payout); err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: credit %s: %w", marketID, account, err)
	}

	seq, err := tx.AppendEvent(ctx, domain.Event{
		ID:       uuid.New().String(),
		Type:     domain.EventWinningsClaimed,
		MarketID: marketID,
		Actor:    account,
		Detail: map[string]any{
			"stake":  stake,
			"payout": payout,
		},
		CreatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: append event: %w", marketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: claim on %d: commit: %w", marketID, err)
	}

	e.publish(ctx, domain.EventWinningsClaimed, seq, marketID, account, map[string]any{
		"stake":  stake,
		"payout": payout,
	})

	e.logger.InfoContext(ctx, "winnings claimed",
		slog.Int64("market_id", marketID),
		slog.String("account", account),
		slog.Int64("payout", payout),
	)
	return payout, nil
}

// DeleteMarket removes an untouched market entirely. Only the creator may
// delete, only before resolution, and only while both pools are zero — a
// market that has ever taken a bet keeps its historical totals and can never
// be deleted, even after every winner has claimed.
func (e *Engine) DeleteMarket(ctx context.Context, caller string, marketID int64) error {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: delete %d: begin: %w", marketID, err)
	}
	defer tx.Rollback(ctx)

	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger: delete: market %d does not exist: %w", marketID, domain.ErrNotFound)
		}
		return fmt.Errorf("ledger: delete %d: get market: %w", marketID, err)
	}
	if caller != m.Creator {
		return fmt.Errorf("ledger: delete %d: caller is not the creator: %w", marketID, domain.ErrUnauthorized)
	}
	if m.Resolved {
		return fmt.Errorf("ledger: delete %d: market already resolved: %w", marketID, domain.ErrInvalidState)
	}
	if m.TotalYes != 0 || m.TotalNo != 0 {
		return fmt.Errorf("ledger: delete %d: market has bets: %w", marketID, domain.ErrInvalidState)
	}

	if err := tx.DeleteMarket(ctx, marketID); err != nil {
		return fmt.Errorf("ledger: delete %d: delete: %w", marketID, err)
	}

	seq, err := tx.AppendEvent(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventMarketDeleted,
		MarketID:  marketID,
		Actor:     caller,
		Detail:    map[string]any{},
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("ledger: delete %d: append event: %w", marketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: delete %d: commit: %w", marketID, err)
	}

	e.invalidate(ctx, marketID)
	e.publish(ctx, domain.EventMarketDeleted, seq, marketID, caller, map[string]any{})

	e.logger.InfoContext(ctx, "market deleted",
		slog.Int64("market_id", marketID),
		slog.String("creator", caller),
	)
	return nil
}

// Deposit credits the account's spendable balance. Funding is the boundary
// with the excluded wallet layer and emits no ledger event.
func (e *Engine) Deposit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: deposit: amount must be positive: %w", domain.ErrInvalidInput)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: deposit for %s: begin: %w", account, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.Credit(ctx, account, amount); err != nil {
		return fmt.Errorf("ledger: deposit for %s: %w", account, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: deposit for %s: commit: %w", account, err)
	}
	return nil
}

// Withdraw debits the account's spendable balance, failing with
// ErrTransferFailed when it is insufficient.
func (e *Engine) Withdraw(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: withdraw: amount must be positive: %w", domain.ErrInvalidInput)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: withdraw for %s: begin: %w", account, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.Debit(ctx, account, amount); err != nil {
		return fmt.Errorf("ledger: withdraw for %s: %w", account, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: withdraw for %s: commit: %w", account, err)
	}
	return nil
}

// GetMarket retrieves a market's full record, consulting the cache first.
func (e *Engine) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if e.cache != nil {
		if m, err := e.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("ledger: market %d does not exist: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("ledger: get market %d: %w", id, err)
	}

	if e.cache != nil {
		if cacheErr := e.cache.Set(ctx, m); cacheErr != nil {
			e.logger.WarnContext(ctx, "market cache set failed",
				slog.Int64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets ordered by creation, newest first.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := e.store.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list markets: %w", err)
	}
	return markets, nil
}

// MarketCount returns the running count of markets ever created.
func (e *Engine) MarketCount(ctx context.Context) (int64, error) {
	n, err := e.store.MarketCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: market count: %w", err)
	}
	return n, nil
}

// GetStake returns the account's current stake on one side of a market. A
// claimed or never-placed stake reads as zero.
func (e *Engine) GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error) {
	amount, err := e.store.GetStake(ctx, marketID, account, side)
	if err != nil {
		return 0, fmt.Errorf("ledger: get stake on %d for %s: %w", marketID, account, err)
	}
	return amount, nil
}

// GetBalance returns the account's spendable balance.
func (e *Engine) GetBalance(ctx context.Context, account string) (int64, error) {
	bal, err := e.store.GetBalance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ledger: get balance for %s: %w", account, err)
	}
	return bal, nil
}

// ListEvents returns committed ledger events after the given sequence number,
// oldest first, for indexers that resume from the durable log.
func (e *Engine) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	events, err := e.store.ListEvents(ctx, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list events: %w", err)
	}
	return events, nil
}

// publish fans a committed event out on the bus and the durable stream.
// Failures are logged, not returned: the event is already durable in the
// ledger_events log, and consumers can re-read from there.
func (e *Engine) publish(ctx context.Context, typ domain.EventType, seq, marketID int64, actor string, detail map[string]any) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event":     string(typ),
		"seq":       seq,
		"market_id": marketID,
		"actor":     actor,
		"detail":    detail,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "event marshal failed", slog.String("error", err.Error()))
		return
	}

	if err := e.bus.Publish(ctx, EventChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", string(typ)),
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, EventChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "event stream append failed",
			slog.String("event", string(typ)),
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate drops a market's cache entry after a mutation.
func (e *Engine) invalidate(ctx context.Context, id int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
