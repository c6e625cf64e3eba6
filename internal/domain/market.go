package domain

import (
	"fmt"
	"time"
)

// Side identifies which half of a binary market a stake backs.
type Side bool

const (
	SideYes Side = true
	SideNo  Side = false
)

// String returns "yes" or "no".
func (s Side) String() string {
	if s == SideYes {
		return "yes"
	}
	return "no"
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	return !s
}

// ParseSide converts "yes"/"no" into a Side.
func ParseSide(v string) (Side, error) {
	switch v {
	case "yes":
		return SideYes, nil
	case "no":
		return SideNo, nil
	default:
		return SideNo, fmt.Errorf("invalid side %q (want yes or no): %w", v, ErrInvalidInput)
	}
}

// Amount values are int64 micro-units: 1_000_000 micro-units equal 1.0 of the
// staked currency. All pool arithmetic is integral; payout division truncates
// toward zero.
const AmountScale int64 = 1_000_000

// Market is one binary-outcome question with a resolution deadline and an
// oracle. IDs are assigned from a persistent counter starting at 1 and are
// never reused, even after deletion.
type Market struct {
	ID             int64
	Creator        string
	Description    string
	ResolutionTime time.Time
	Oracle         string
	Resolved       bool
	WinningOutcome Side // meaningful only once Resolved is true
	TotalYes       int64
	TotalNo        int64
	CreatedAt      time.Time
}

// Pool returns the running total staked on the given side.
func (m Market) Pool(side Side) int64 {
	if side == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// Pot returns the combined size of both pools.
func (m Market) Pot() int64 {
	return m.TotalYes + m.TotalNo
}

// AcceptingBets reports whether the betting window is still open at the given
// instant. The window closes strictly before resolution becomes possible.
func (m Market) AcceptingBets(now time.Time) bool {
	return !m.Resolved && now.Before(m.ResolutionTime)
}

// Resolvable reports whether the resolution deadline has been reached.
func (m Market) Resolvable(now time.Time) bool {
	return !now.Before(m.ResolutionTime)
}
