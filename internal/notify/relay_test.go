package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/will87p/betpool/internal/domain"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string // "title|message"
}

func (s *fakeSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+"|"+message)
	return nil
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// chanBus is a single-channel in-memory EventBus for relay tests.
type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *chanBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func busPayload(t *testing.T, event string, marketID int64, actor string, detail map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"event":     event,
		"seq":       1,
		"market_id": marketID,
		"actor":     actor,
		"detail":    detail,
	})
	require.NoError(t, err)
	return data
}

func TestRelayForwardsAllowedEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	sender := &fakeSender{}
	notifier := NewNotifier([]Sender{sender},
		[]string{string(domain.EventMarketResolved)}, testLogger())
	relay := NewRelay(bus, notifier, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()

	// A filtered-out event and an allowed one.
	require.NoError(t, bus.Publish(ctx, "ledger:events",
		busPayload(t, string(domain.EventBetPlaced), 3, "0xabc",
			map[string]any{"side": "yes", "amount": 100})))
	require.NoError(t, bus.Publish(ctx, "ledger:events",
		busPayload(t, string(domain.EventMarketResolved), 3, "0xabc",
			map[string]any{"winning_outcome": "no"})))

	require.Eventually(t, func() bool {
		return len(sender.messages()) == 1
	}, time.Second, 10*time.Millisecond, "expected exactly the resolved event")

	got := sender.messages()[0]
	assert.Contains(t, got, "Market resolved")
	assert.Contains(t, got, "Market 3 resolved no by 0xabc")

	cancel()
	<-done
}

func TestRelaySkipsMalformedPayloads(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	sender := &fakeSender{}
	notifier := NewNotifier([]Sender{sender}, nil, testLogger())
	relay := NewRelay(bus, notifier, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()

	require.NoError(t, bus.Publish(ctx, "ledger:events", []byte("{not json")))
	require.NoError(t, bus.Publish(ctx, "ledger:events",
		busPayload(t, string(domain.EventMarketDeleted), 9, "0xdef", map[string]any{})))

	require.Eventually(t, func() bool {
		return len(sender.messages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, sender.messages()[0], "Market 9 deleted by 0xdef")

	cancel()
	<-done
}

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		ev        busEvent
		wantTitle string
		wantBody  string
	}{
		{
			name: "created",
			ev: busEvent{
				Event: string(domain.EventMarketCreated), MarketID: 1, Actor: "0xa",
				Detail: map[string]any{"description": "rain tomorrow"},
			},
			wantTitle: "Market created",
			wantBody:  "Market 1 created by 0xa: rain tomorrow",
		},
		{
			name: "bet with fractional amount",
			ev: busEvent{
				Event: string(domain.EventBetPlaced), MarketID: 2, Actor: "0xb",
				Detail: map[string]any{"side": "yes", "amount": float64(1_500_000)},
			},
			wantTitle: "Bet placed",
			wantBody:  "0xb bet 1.5 on yes in market 2",
		},
		{
			name: "claim whole amount",
			ev: busEvent{
				Event: string(domain.EventWinningsClaimed), MarketID: 2, Actor: "0xb",
				Detail: map[string]any{"payout": float64(3_000_000)},
			},
			wantTitle: "Winnings claimed",
			wantBody:  "0xb claimed 3 from market 2",
		},
		{
			name:      "unknown event falls back",
			ev:        busEvent{Event: "mystery", MarketID: 5, Actor: "0xc"},
			wantTitle: "mystery",
			wantBody:  "market 5, actor 0xc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := render(tt.ev)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, notifier.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.messages(), 1)
}
