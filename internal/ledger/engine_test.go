package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/store/memory"
)

// recordingBus captures published payloads so tests can assert on the
// one-event-per-operation contract.
type recordingBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *recordingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *recordingBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine returns an engine over a fresh in-memory store with the clock
// pinned to base.
func newTestEngine(t *testing.T, base time.Time) (*Engine, *memory.Store, *recordingBus, *time.Time) {
	t.Helper()
	store := memory.New()
	bus := &recordingBus{}
	eng := NewEngine(store, bus, nil, testLogger())

	clock := base
	eng.now = func() time.Time { return clock }
	return eng, store, bus, &clock
}

func fund(t *testing.T, eng *Engine, account string, amount int64) {
	t.Helper()
	if err := eng.Deposit(context.Background(), account, amount); err != nil {
		t.Fatalf("deposit %d for %s: %v", amount, account, err)
	}
}

var (
	alice   = "0xA11CE00000000000000000000000000000000001"
	bob     = "0xB0B0000000000000000000000000000000000002"
	charlie = "0xC4A1200000000000000000000000000000000003"
)

func TestCreateMarket(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, bus, _ := newTestEngine(t, base)
	ctx := context.Background()

	id, err := eng.CreateMarket(ctx, alice, "Will it rain tomorrow?", base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if id != 1 {
		t.Fatalf("first market id = %d, want 1", id)
	}

	m, err := eng.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Creator != alice || m.Oracle != alice {
		t.Fatalf("creator/oracle = %s/%s, want both %s", m.Creator, m.Oracle, alice)
	}
	if m.Resolved {
		t.Fatal("new market must not be resolved")
	}
	if m.TotalYes != 0 || m.TotalNo != 0 {
		t.Fatalf("new market pools = %d/%d, want 0/0", m.TotalYes, m.TotalNo)
	}

	if bus.count() != 1 {
		t.Fatalf("published %d events, want 1", bus.count())
	}
}

func TestCreateMarketIDsNeverReused(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)
	ctx := context.Background()

	id1, _ := eng.CreateMarket(ctx, alice, "first", base.Add(time.Hour))
	if err := eng.DeleteMarket(ctx, alice, id1); err != nil {
		t.Fatalf("DeleteMarket: %v", err)
	}

	id2, err := eng.CreateMarket(ctx, alice, "second", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateMarket after delete: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("id after delete = %d, want %d", id2, id1+1)
	}

	n, err := eng.MarketCount(ctx)
	if err != nil {
		t.Fatalf("MarketCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("MarketCount = %d, want 2 (counts deleted markets)", n)
	}
}

func TestCreateMarketRejectsPastResolution(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, bus, _ := newTestEngine(t, base)
	ctx := context.Background()

	for _, rt := range []time.Time{base, base.Add(-time.Minute)} {
		if _, err := eng.CreateMarket(ctx, alice, "stale", rt); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("CreateMarket(resolution %v) err = %v, want ErrInvalidInput", rt, err)
		}
	}
	if bus.count() != 0 {
		t.Fatalf("published %d events on failed creates, want 0", bus.count())
	}
}

func TestPlaceBet(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, bus, _ := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 500)
	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, 100); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, 50); err != nil {
		t.Fatalf("second PlaceBet: %v", err)
	}
	if err := eng.PlaceBet(ctx, alice, id, domain.SideNo, 25); err != nil {
		t.Fatalf("opposite side PlaceBet: %v", err)
	}

	m, _ := eng.GetMarket(ctx, id)
	if m.TotalYes != 150 || m.TotalNo != 25 {
		t.Fatalf("pools = %d/%d, want 150/25", m.TotalYes, m.TotalNo)
	}

	stake, err := eng.GetStake(ctx, id, alice, domain.SideYes)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if stake != 150 {
		t.Fatalf("yes stake = %d, want 150 (bets accumulate)", stake)
	}

	bal, _ := eng.GetBalance(ctx, alice)
	if bal != 500-175 {
		t.Fatalf("balance = %d, want %d", bal, 500-175)
	}

	// create + 3 bets
	if bus.count() != 4 {
		t.Fatalf("published %d events, want 4", bus.count())
	}
}

func TestPlaceBetRejections(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 1_000)
	fund(t, eng, bob, 10)
	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	if err := eng.PlaceBet(ctx, alice, 999, domain.SideYes, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("bet on missing market err = %v, want ErrNotFound", err)
	}
	if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("zero amount err = %v, want ErrInvalidInput", err)
	}
	if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, -5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("negative amount err = %v, want ErrInvalidInput", err)
	}
	if err := eng.PlaceBet(ctx, bob, id, domain.SideYes, 50); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("insufficient balance err = %v, want ErrTransferFailed", err)
	}

	// The window closes exactly at the resolution time.
	*clock = base.Add(time.Hour)
	if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, 10); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("bet at resolution time err = %v, want ErrInvalidState", err)
	}

	// Nothing was debited by the failed attempts.
	bal, _ := eng.GetBalance(ctx, alice)
	if bal != 1_000 {
		t.Fatalf("balance after failed bets = %d, want 1000", bal)
	}
	m, _ := eng.GetMarket(ctx, id)
	if m.TotalYes != 0 || m.TotalNo != 0 {
		t.Fatalf("pools after failed bets = %d/%d, want 0/0", m.TotalYes, m.TotalNo)
	}
}

func TestPlaceBetMarketNotFoundBeforeAmountCheck(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)

	// A bad amount on a missing market still reports the market first.
	err := eng.PlaceBet(context.Background(), alice, 42, domain.SideYes, -1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveMarket(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	if err := eng.ResolveMarket(ctx, alice, id, domain.SideYes); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("early resolve err = %v, want ErrInvalidState", err)
	}

	*clock = base.Add(time.Hour)

	if err := eng.ResolveMarket(ctx, bob, id, domain.SideYes); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-oracle resolve err = %v, want ErrUnauthorized", err)
	}

	if err := eng.ResolveMarket(ctx, alice, id, domain.SideYes); err != nil {
		t.Fatalf("resolve at deadline: %v", err)
	}

	m, _ := eng.GetMarket(ctx, id)
	if !m.Resolved || m.WinningOutcome != domain.SideYes {
		t.Fatalf("market after resolve = resolved=%v outcome=%v", m.Resolved, m.WinningOutcome)
	}

	if err := eng.ResolveMarket(ctx, alice, id, domain.SideNo); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double resolve err = %v, want ErrInvalidState", err)
	}
	m, _ = eng.GetMarket(ctx, id)
	if m.WinningOutcome != domain.SideYes {
		t.Fatal("failed second resolve must not change the outcome")
	}
}

func TestResolveUnauthorizedBeforeTimingCheck(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)
	ctx := context.Background()

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	// Before the deadline a non-oracle caller gets the authorization error,
	// not the timing error.
	if err := eng.ResolveMarket(ctx, bob, id, domain.SideYes); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestClaimWinnings(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 1_000)
	fund(t, eng, bob, 1_000)
	fund(t, eng, charlie, 1_000)

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	// yes pool 300 (alice 100, bob 200), no pool 600 (charlie). Pot 900.
	mustBet := func(acct string, side domain.Side, amt int64) {
		t.Helper()
		if err := eng.PlaceBet(ctx, acct, id, side, amt); err != nil {
			t.Fatalf("PlaceBet(%s, %v, %d): %v", acct, side, amt, err)
		}
	}
	mustBet(alice, domain.SideYes, 100)
	mustBet(bob, domain.SideYes, 200)
	mustBet(charlie, domain.SideNo, 600)

	if _, err := eng.ClaimWinnings(ctx, alice, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("claim before resolve err = %v, want ErrInvalidState", err)
	}

	*clock = base.Add(time.Hour)
	if err := eng.ResolveMarket(ctx, alice, id, domain.SideYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p1, err := eng.ClaimWinnings(ctx, alice, id)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	if p1 != 300 { // 100 * 900 / 300
		t.Fatalf("alice payout = %d, want 300", p1)
	}

	p2, err := eng.ClaimWinnings(ctx, bob, id)
	if err != nil {
		t.Fatalf("bob claim: %v", err)
	}
	if p2 != 600 { // 200 * 900 / 300
		t.Fatalf("bob payout = %d, want 600", p2)
	}

	// Double claim.
	if _, err := eng.ClaimWinnings(ctx, alice, id); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("double claim err = %v, want ErrNothingToClaim", err)
	}

	// Loser claim.
	if _, err := eng.ClaimWinnings(ctx, charlie, id); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("losing claim err = %v, want ErrNothingToClaim", err)
	}

	balA, _ := eng.GetBalance(ctx, alice)
	if balA != 1_000-100+300 {
		t.Fatalf("alice balance = %d, want %d", balA, 1_000-100+300)
	}
	balC, _ := eng.GetBalance(ctx, charlie)
	if balC != 400 {
		t.Fatalf("charlie balance = %d, want 400", balC)
	}

	// The claimed stake reads as zero afterward.
	stake, _ := eng.GetStake(ctx, id, alice, domain.SideYes)
	if stake != 0 {
		t.Fatalf("claimed stake reads %d, want 0", stake)
	}

	// Pool totals are historical and survive claims.
	m, _ := eng.GetMarket(ctx, id)
	if m.TotalYes != 300 || m.TotalNo != 600 {
		t.Fatalf("pools after claims = %d/%d, want 300/600", m.TotalYes, m.TotalNo)
	}
}

func TestClaimPayoutTruncation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 100)
	fund(t, eng, bob, 100)
	fund(t, eng, charlie, 100)

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	// Three yes bettors of 1 each, no pool 1.
	for _, acct := range []string{alice, bob, charlie} {
		if err := eng.PlaceBet(ctx, acct, id, domain.SideYes, 1); err != nil {
			t.Fatalf("bet: %v", err)
		}
	}
	if err := eng.PlaceBet(ctx, alice, id, domain.SideNo, 1); err != nil {
		t.Fatalf("no bet: %v", err)
	}

	*clock = base.Add(time.Hour)
	if err := eng.ResolveMarket(ctx, alice, id, domain.SideYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Pot 4, winning pool 3: each winner gets floor(1*4/3) = 1. One unit of
	// dust stays with the market.
	var sum int64
	for _, acct := range []string{alice, bob, charlie} {
		p, err := eng.ClaimWinnings(ctx, acct, id)
		if err != nil {
			t.Fatalf("claim %s: %v", acct, err)
		}
		if p != 1 {
			t.Fatalf("payout for %s = %d, want 1", acct, p)
		}
		sum += p
	}
	if sum != 3 {
		t.Fatalf("payout sum = %d, want 3 (1 dust retained)", sum)
	}
}

func TestDeleteMarket(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, bob, 100)
	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	if err := eng.DeleteMarket(ctx, bob, id); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-creator delete err = %v, want ErrUnauthorized", err)
	}

	if err := eng.PlaceBet(ctx, bob, id, domain.SideNo, 10); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if err := eng.DeleteMarket(ctx, alice, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("delete with bets err = %v, want ErrInvalidState", err)
	}

	// Even after resolution and full claims the market keeps its totals and
	// stays undeletable; but resolved markets are refused outright.
	*clock = base.Add(time.Hour)
	if err := eng.ResolveMarket(ctx, alice, id, domain.SideNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := eng.ClaimWinnings(ctx, bob, id); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := eng.DeleteMarket(ctx, alice, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("delete resolved err = %v, want ErrInvalidState", err)
	}
}

func TestDeleteMarketUntouched(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)
	ctx := context.Background()

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))
	if err := eng.DeleteMarket(ctx, alice, id); err != nil {
		t.Fatalf("delete untouched: %v", err)
	}

	if _, err := eng.GetMarket(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}

	// Double delete.
	if err := eng.DeleteMarket(ctx, alice, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestDepositWithdraw(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)
	ctx := context.Background()

	if err := eng.Deposit(ctx, alice, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("zero deposit err = %v, want ErrInvalidInput", err)
	}
	if err := eng.Deposit(ctx, alice, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := eng.Withdraw(ctx, alice, 600); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("overdraw err = %v, want ErrTransferFailed", err)
	}
	if err := eng.Withdraw(ctx, alice, 200); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	bal, _ := eng.GetBalance(ctx, alice)
	if bal != 300 {
		t.Fatalf("balance = %d, want 300", bal)
	}
}

func TestEventLog(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, bus, clock := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 1_000)
	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))
	_ = eng.PlaceBet(ctx, alice, id, domain.SideYes, 100)
	_ = eng.PlaceBet(ctx, alice, id, domain.SideNo, 50)
	*clock = base.Add(time.Hour)
	_ = eng.ResolveMarket(ctx, alice, id, domain.SideYes)
	if _, err := eng.ClaimWinnings(ctx, alice, id); err != nil {
		t.Fatalf("claim: %v", err)
	}

	events, err := eng.ListEvents(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTypes := []domain.EventType{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventBetPlaced,
		domain.EventMarketResolved,
		domain.EventWinningsClaimed,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("event count = %d, want %d", len(events), len(wantTypes))
	}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Fatalf("event[%d].Type = %s, want %s", i, ev.Type, wantTypes[i])
		}
		if ev.Seq != int64(i+1) {
			t.Fatalf("event[%d].Seq = %d, want %d (gapless, monotone)", i, ev.Seq, i+1)
		}
		if ev.MarketID != id {
			t.Fatalf("event[%d].MarketID = %d, want %d", i, ev.MarketID, id)
		}
	}

	// Resume from the middle.
	tail, err := eng.ListEvents(ctx, 3, 100)
	if err != nil {
		t.Fatalf("ListEvents(after=3): %v", err)
	}
	if len(tail) != 2 || tail[0].Seq != 4 {
		t.Fatalf("tail = %d events starting at seq %d, want 2 starting at 4", len(tail), tail[0].Seq)
	}

	// Bus payloads mirror the log, one per committed op.
	if bus.count() != len(wantTypes) {
		t.Fatalf("bus published %d, want %d", bus.count(), len(wantTypes))
	}
	var first struct {
		Event    string         `json:"event"`
		Seq      int64          `json:"seq"`
		MarketID int64          `json:"market_id"`
		Actor    string         `json:"actor"`
		Detail   map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(bus.published[0], &first); err != nil {
		t.Fatalf("unmarshal bus payload: %v", err)
	}
	if first.Event != string(domain.EventMarketCreated) || first.Seq != 1 || first.Actor != alice {
		t.Fatalf("first payload = %+v", first)
	}

	resolved := events[3]
	if got := resolved.Detail["winning_outcome"]; got != "yes" {
		t.Fatalf("resolved detail winning_outcome = %v, want yes", got)
	}
}

func TestFailedOperationEmitsNoEvent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, bus, _ := newTestEngine(t, base)
	ctx := context.Background()

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))
	before := bus.count()

	_ = eng.PlaceBet(ctx, alice, id, domain.SideYes, 100) // no funds
	_ = eng.ResolveMarket(ctx, bob, id, domain.SideYes)   // not oracle
	_, _ = eng.ClaimWinnings(ctx, alice, id)              // not resolved
	_ = eng.DeleteMarket(ctx, bob, id)                    // not creator

	if bus.count() != before {
		t.Fatalf("failed operations published %d events", bus.count()-before)
	}
	events, _ := eng.ListEvents(ctx, 0, 100)
	if len(events) != 1 {
		t.Fatalf("log has %d events, want 1 (only the create)", len(events))
	}
}

func TestPoolConservation(t *testing.T) {
	// Total value (balances + pots of unresolved value) is conserved across
	// a full market lifecycle up to truncation dust.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	accounts := []string{alice, bob, charlie}
	var initial int64 = 3 * 1_000
	for _, a := range accounts {
		fund(t, eng, a, 1_000)
	}

	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))
	_ = eng.PlaceBet(ctx, alice, id, domain.SideYes, 137)
	_ = eng.PlaceBet(ctx, bob, id, domain.SideYes, 263)
	_ = eng.PlaceBet(ctx, charlie, id, domain.SideNo, 599)

	*clock = base.Add(time.Hour)
	_ = eng.ResolveMarket(ctx, alice, id, domain.SideYes)
	for _, a := range []string{alice, bob} {
		if _, err := eng.ClaimWinnings(ctx, a, id); err != nil {
			t.Fatalf("claim %s: %v", a, err)
		}
	}

	var final int64
	for _, a := range accounts {
		b, _ := eng.GetBalance(ctx, a)
		final += b
	}
	if final > initial {
		t.Fatalf("value created: balances %d > funded %d", final, initial)
	}
	// Dust is bounded by the number of winners.
	if initial-final >= 2 {
		t.Fatalf("dust %d, want < 2", initial-final)
	}
}

func TestConcurrentBets(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)
	ctx := context.Background()

	fund(t, eng, alice, 10_000)
	id, _ := eng.CreateMarket(ctx, alice, "q", base.Add(time.Hour))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.PlaceBet(ctx, alice, id, domain.SideYes, 10); err != nil {
				t.Errorf("concurrent bet: %v", err)
			}
		}()
	}
	wg.Wait()

	m, _ := eng.GetMarket(ctx, id)
	if m.TotalYes != workers*10 {
		t.Fatalf("yes pool = %d, want %d", m.TotalYes, workers*10)
	}
	stake, _ := eng.GetStake(ctx, id, alice, domain.SideYes)
	if stake != workers*10 {
		t.Fatalf("stake = %d, want %d", stake, workers*10)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, base)

	if _, err := eng.GetMarket(context.Background(), 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListMarkets(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _, _, clock := newTestEngine(t, base)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*clock = base.Add(time.Duration(i) * time.Minute)
		if _, err := eng.CreateMarket(ctx, alice, "q", base.Add(24*time.Hour)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	all, err := eng.ListMarkets(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	// Newest first.
	for i := 1; i < len(all); i++ {
		if all[i-1].ID < all[i].ID {
			t.Fatalf("order not newest-first: %d before %d", all[i-1].ID, all[i].ID)
		}
	}

	page, err := eng.ListMarkets(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListMarkets page: %v", err)
	}
	if len(page) != 2 || page[0].ID != 4 {
		t.Fatalf("page = %d entries starting at %d, want 2 starting at 4", len(page), page[0].ID)
	}

	since := base.Add(3 * time.Minute)
	recent, err := eng.ListMarkets(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		t.Fatalf("ListMarkets since: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("since filter = %d entries, want 2", len(recent))
	}
}
