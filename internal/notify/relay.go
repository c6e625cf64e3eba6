package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/ledger"
)

// Relay consumes committed ledger events from the bus and forwards them to a
// Notifier. It runs until its context is cancelled.
type Relay struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay reading from the given bus.
func NewRelay(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// busEvent mirrors the payload the settlement engine publishes after commit.
type busEvent struct {
	Event    string         `json:"event"`
	Seq      int64          `json:"seq"`
	MarketID int64          `json:"market_id"`
	Actor    string         `json:"actor"`
	Detail   map[string]any `json:"detail"`
}

// Run subscribes to the ledger event channel and dispatches notifications
// until ctx is cancelled. Malformed payloads and sender failures are logged
// and skipped; the relay never interrupts settlement.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, ledger.EventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", ledger.EventChannel, err)
	}

	r.logger.InfoContext(ctx, "relay started", slog.String("channel", ledger.EventChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}

			var ev busEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				r.logger.WarnContext(ctx, "malformed event payload",
					slog.String("error", err.Error()),
				)
				continue
			}

			title, message := render(ev)
			if err := r.notifier.Notify(ctx, ev.Event, title, message); err != nil {
				r.logger.WarnContext(ctx, "notify failed",
					slog.String("event", ev.Event),
					slog.Int64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// render formats a bus event into a notification title and body.
func render(ev busEvent) (string, string) {
	switch domain.EventType(ev.Event) {
	case domain.EventMarketCreated:
		return "Market created",
			fmt.Sprintf("Market %d created by %s: %s",
				ev.MarketID, ev.Actor, detailString(ev.Detail, "description"))
	case domain.EventBetPlaced:
		return "Bet placed",
			fmt.Sprintf("%s bet %s on %s in market %d",
				ev.Actor, formatAmount(detailInt(ev.Detail, "amount")),
				detailString(ev.Detail, "side"), ev.MarketID)
	case domain.EventMarketResolved:
		return "Market resolved",
			fmt.Sprintf("Market %d resolved %s by %s",
				ev.MarketID, detailString(ev.Detail, "winning_outcome"), ev.Actor)
	case domain.EventWinningsClaimed:
		return "Winnings claimed",
			fmt.Sprintf("%s claimed %s from market %d",
				ev.Actor, formatAmount(detailInt(ev.Detail, "payout")), ev.MarketID)
	case domain.EventMarketDeleted:
		return "Market deleted",
			fmt.Sprintf("Market %d deleted by %s", ev.MarketID, ev.Actor)
	default:
		return ev.Event, fmt.Sprintf("market %d, actor %s", ev.MarketID, ev.Actor)
	}
}

// detailString reads a string field from an event detail map.
func detailString(detail map[string]any, key string) string {
	if s, ok := detail[key].(string); ok {
		return s
	}
	return ""
}

// detailInt reads a numeric field from an event detail map. JSON numbers
// decode as float64.
func detailInt(detail map[string]any, key string) int64 {
	switch v := detail[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// formatAmount renders a micro-unit amount as a decimal string.
func formatAmount(amount int64) string {
	whole := amount / domain.AmountScale
	frac := amount % domain.AmountScale
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := fmt.Sprintf("%d.%06d", whole, frac)
	// Trim trailing zeros from the fractional part.
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}
