// Package memory implements domain.LedgerStore in process memory. It backs
// the test suite and the "dev" mode; the serialization guarantee comes from a
// single store-wide mutex held for the lifetime of each transaction, which
// gives the same strict global total order as the PostgreSQL implementation's
// row-locking transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/will87p/betpool/internal/domain"
)

type stakeKey struct {
	marketID int64
	account  string
	side     domain.Side
}

// Store is an in-memory ledger. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex // held from Begin until Commit/Rollback

	counter  int64
	markets  map[int64]domain.Market
	stakes   map[stakeKey]domain.Stake
	balances map[string]domain.Account
	events   []domain.Event
	eventSeq int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets:  make(map[int64]domain.Market),
		stakes:   make(map[stakeKey]domain.Stake),
		balances: make(map[string]domain.Account),
	}
}

// Begin starts a transaction, blocking until any in-flight transaction has
// committed or rolled back.
func (s *Store) Begin(ctx context.Context) (domain.LedgerTx, error) {
	s.mu.Lock()
	return &tx{store: s}, nil
}

// GetMarket returns the latest committed market record.
func (s *Store) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// ListMarkets returns markets ordered newest first.
func (s *Store) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// MarketCount returns the counter value: markets ever created, deletions
// included.
func (s *Store) MarketCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter, nil
}

// GetStake returns the committed stake amount, zero when absent.
func (s *Store) GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stakes[stakeKey{marketID, account, side}].Amount, nil
}

// GetBalance returns the committed account balance, zero when absent.
func (s *Store) GetBalance(ctx context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account].Balance, nil
}

// ListEvents returns committed events with Seq > afterSeq, oldest first.
func (s *Store) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// tx stages writes against the store and applies them on Commit. Reads see
// the staged state. The store mutex is held for the whole transaction.
type tx struct {
	store *Store
	done  bool

	counterDelta   int64
	marketWrites   map[int64]*domain.Market // nil value = delete
	stakeWrites    map[stakeKey]domain.Stake
	balanceWrites  map[string]domain.Account
	pendingEvents  []domain.Event
	eventSeqStaged int64
}

func (t *tx) NextMarketID(ctx context.Context) (int64, error) {
	t.counterDelta++
	return t.store.counter + t.counterDelta, nil
}

func (t *tx) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if m, ok := t.marketWrites[id]; ok {
		if m == nil {
			return domain.Market{}, domain.ErrNotFound
		}
		return *m, nil
	}
	m, ok := t.store.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (t *tx) InsertMarket(ctx context.Context, m domain.Market) error {
	if _, err := t.GetMarket(ctx, m.ID); err == nil {
		return fmt.Errorf("memory: market %d already exists", m.ID)
	}
	t.stageMarket(m.ID, &m)
	return nil
}

func (t *tx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if _, err := t.GetMarket(ctx, m.ID); err != nil {
		return err
	}
	t.stageMarket(m.ID, &m)
	return nil
}

func (t *tx) DeleteMarket(ctx context.Context, id int64) error {
	if _, err := t.GetMarket(ctx, id); err != nil {
		return err
	}
	t.stageMarket(id, nil)
	// Drop any zeroed stake rows that still reference the market.
	for key := range t.store.stakes {
		if key.marketID == id {
			t.stageStake(key, domain.Stake{MarketID: id, Account: key.account, Side: key.side})
		}
	}
	return nil
}

func (t *tx) GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error) {
	key := stakeKey{marketID, account, side}
	if st, ok := t.stakeWrites[key]; ok {
		return st.Amount, nil
	}
	return t.store.stakes[key].Amount, nil
}

func (t *tx) AddStake(ctx context.Context, marketID int64, account string, side domain.Side, amount int64) error {
	current, _ := t.GetStake(ctx, marketID, account, side)
	t.stageStake(stakeKey{marketID, account, side}, domain.Stake{
		MarketID:  marketID,
		Account:   account,
		Side:      side,
		Amount:    current + amount,
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *tx) ZeroStake(ctx context.Context, marketID int64, account string, side domain.Side) error {
	t.stageStake(stakeKey{marketID, account, side}, domain.Stake{
		MarketID:  marketID,
		Account:   account,
		Side:      side,
		Amount:    0,
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *tx) balance(account string) domain.Account {
	if acct, ok := t.balanceWrites[account]; ok {
		return acct
	}
	acct := t.store.balances[account]
	acct.Address = account
	return acct
}

func (t *tx) Debit(ctx context.Context, account string, amount int64) error {
	acct := t.balance(account)
	if acct.Balance < amount {
		return fmt.Errorf("memory: balance %d below %d for %s: %w",
			acct.Balance, amount, account, domain.ErrTransferFailed)
	}
	acct.Balance -= amount
	acct.UpdatedAt = time.Now().UTC()
	t.stageBalance(account, acct)
	return nil
}

func (t *tx) Credit(ctx context.Context, account string, amount int64) error {
	acct := t.balance(account)
	acct.Balance += amount
	acct.UpdatedAt = time.Now().UTC()
	t.stageBalance(account, acct)
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, ev domain.Event) (int64, error) {
	t.eventSeqStaged++
	ev.Seq = t.store.eventSeq + t.eventSeqStaged
	t.pendingEvents = append(t.pendingEvents, ev)
	return ev.Seq, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.done = true

	s := t.store
	s.counter += t.counterDelta
	for id, m := range t.marketWrites {
		if m == nil {
			delete(s.markets, id)
		} else {
			s.markets[id] = *m
		}
	}
	for key, st := range t.stakeWrites {
		if st.Amount == 0 {
			delete(s.stakes, key)
		} else {
			s.stakes[key] = st
		}
	}
	for addr, acct := range t.balanceWrites {
		s.balances[addr] = acct
	}
	s.events = append(s.events, t.pendingEvents...)
	s.eventSeq += t.eventSeqStaged

	s.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *tx) stageMarket(id int64, m *domain.Market) {
	if t.marketWrites == nil {
		t.marketWrites = make(map[int64]*domain.Market)
	}
	t.marketWrites[id] = m
}

func (t *tx) stageStake(key stakeKey, st domain.Stake) {
	if t.stakeWrites == nil {
		t.stakeWrites = make(map[stakeKey]domain.Stake)
	}
	t.stakeWrites[key] = st
}

func (t *tx) stageBalance(account string, acct domain.Account) {
	if t.balanceWrites == nil {
		t.balanceWrites = make(map[string]domain.Account)
	}
	t.balanceWrites[account] = acct
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore = (*Store)(nil)
	_ domain.LedgerTx    = (*tx)(nil)
)
