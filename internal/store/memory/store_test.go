package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/will87p/betpool/internal/domain"
)

func openMarket(id int64) domain.Market {
	return domain.Market{
		ID:             id,
		Creator:        "0xabc",
		Description:    "test market",
		ResolutionTime: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Oracle:         "0xabc",
		CreatedAt:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.NextMarketID(ctx)
	if err != nil {
		t.Fatalf("NextMarketID: %v", err)
	}
	if err := tx.InsertMarket(ctx, openMarket(id)); err != nil {
		t.Fatalf("InsertMarket: %v", err)
	}
	if err := tx.Credit(ctx, "0xabc", 100); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := tx.AppendEvent(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: id}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := s.GetMarket(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("market visible after rollback: err = %v", err)
	}
	if n, _ := s.MarketCount(ctx); n != 0 {
		t.Fatalf("counter advanced on rollback: %d", n)
	}
	if bal, _ := s.GetBalance(ctx, "0xabc"); bal != 0 {
		t.Fatalf("balance visible after rollback: %d", bal)
	}
	if evs, _ := s.ListEvents(ctx, 0, 10); len(evs) != 0 {
		t.Fatalf("events visible after rollback: %d", len(evs))
	}
}

func TestCommitAppliesWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx)
	id, _ := tx.NextMarketID(ctx)
	if err := tx.InsertMarket(ctx, openMarket(id)); err != nil {
		t.Fatalf("InsertMarket: %v", err)
	}
	seq, err := tx.AppendEvent(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: id})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if seq != 1 {
		t.Fatalf("first seq = %d, want 1", seq)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m, err := s.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Description != "test market" {
		t.Fatalf("description = %q", m.Description)
	}
	if n, _ := s.MarketCount(ctx); n != 1 {
		t.Fatalf("counter = %d, want 1", n)
	}
}

func TestTxReadsSeeStagedState(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx)
	id, _ := tx.NextMarketID(ctx)
	if err := tx.InsertMarket(ctx, openMarket(id)); err != nil {
		t.Fatalf("InsertMarket: %v", err)
	}

	m, err := tx.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("staged market not visible in tx: %v", err)
	}
	m.TotalYes = 500
	if err := tx.UpdateMarket(ctx, m); err != nil {
		t.Fatalf("UpdateMarket: %v", err)
	}

	if err := tx.AddStake(ctx, id, "0xabc", domain.SideYes, 300); err != nil {
		t.Fatalf("AddStake: %v", err)
	}
	if err := tx.AddStake(ctx, id, "0xabc", domain.SideYes, 200); err != nil {
		t.Fatalf("AddStake again: %v", err)
	}
	stake, _ := tx.GetStake(ctx, id, "0xabc", domain.SideYes)
	if stake != 500 {
		t.Fatalf("staged stake = %d, want 500", stake)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, _ := s.GetStake(ctx, id, "0xabc", domain.SideYes)
	if got != 500 {
		t.Fatalf("committed stake = %d, want 500", got)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx)
	if err := tx.Credit(ctx, "0xabc", 50); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := tx.Debit(ctx, "0xabc", 60); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("overdraw err = %v, want ErrTransferFailed", err)
	}
	if err := tx.Debit(ctx, "0xabc", 50); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if bal, _ := s.GetBalance(ctx, "0xabc"); bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}
}

func TestDeleteMarketDropsStakeRows(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx)
	id, _ := tx.NextMarketID(ctx)
	_ = tx.InsertMarket(ctx, openMarket(id))
	_ = tx.AddStake(ctx, id, "0xabc", domain.SideNo, 10)
	_ = tx.ZeroStake(ctx, id, "0xabc", domain.SideNo)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, _ = s.Begin(ctx)
	if err := tx.DeleteMarket(ctx, id); err != nil {
		t.Fatalf("DeleteMarket: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := s.GetMarket(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted market still readable: err = %v", err)
	}
	if stake, _ := s.GetStake(ctx, id, "0xabc", domain.SideNo); stake != 0 {
		t.Fatalf("stale stake = %d", stake)
	}
}

func TestSequenceSurvivesAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 1; i <= 3; i++ {
		tx, _ := s.Begin(ctx)
		seq, err := tx.AppendEvent(ctx, domain.Event{Type: domain.EventBetPlaced})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	// A rolled-back event leaves no gap.
	tx, _ := s.Begin(ctx)
	_, _ = tx.AppendEvent(ctx, domain.Event{Type: domain.EventBetPlaced})
	_ = tx.Rollback(ctx)

	tx, _ = s.Begin(ctx)
	seq, _ := tx.AppendEvent(ctx, domain.Event{Type: domain.EventBetPlaced})
	if seq != 4 {
		t.Fatalf("seq after rollback = %d, want 4", seq)
	}
	_ = tx.Commit(ctx)

	evs, _ := s.ListEvents(ctx, 0, 10)
	if len(evs) != 4 {
		t.Fatalf("event count = %d, want 4", len(evs))
	}
}
