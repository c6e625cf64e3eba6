package domain

import "time"

// EventType enumerates the ledger events. Exactly one event is recorded per
// successful operation, never for a rejected one.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketResolved  EventType = "market_resolved"
	EventWinningsClaimed EventType = "winnings_claimed"
	EventMarketDeleted   EventType = "market_deleted"
)

// Event is one entry in the append-only ledger event log. Seq is assigned by
// the store at commit time and gives external indexers a total order to
// resume from; Detail carries the event-specific fields (side, amount,
// outcome, payout).
type Event struct {
	ID        string // UUID
	Seq       int64
	Type      EventType
	MarketID  int64
	Actor     string
	Detail    map[string]any
	CreatedAt time.Time
}
