package ledger

import "math/big"

// winnerPayout computes floor(stake * pot / winningPool). The intermediate
// product can exceed int64 for large pools, so it is carried in a big.Int;
// big.Int.Quo truncates toward zero, matching the documented rounding (any
// remainder stays with the market as dust, there is no sweep for the last
// claimant).
//
// winningPool must be positive. The engine only calls this with a nonzero
// individual stake, which implies a nonzero pool.
func winnerPayout(stake, pot, winningPool int64) int64 {
	p := new(big.Int).Mul(big.NewInt(stake), big.NewInt(pot))
	p.Quo(p, big.NewInt(winningPool))
	return p.Int64()
}
