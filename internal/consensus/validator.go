package consensus

import (
	"math/big"
	"math/bits"
	"time"

	"zolana/internal/chain"
)

// ReputationScale is the fixed-point representation of a reputation of 1.0.
const ReputationScale uint64 = 1_000_000

// MaxReputation caps reputation at 2.0.
const MaxReputation = 2 * ReputationScale

// Validator is a staking participant.
type Validator struct {
	Address         string       `json:"address"`
	Stake           chain.Amount `json:"stake"`
	Reputation      uint64       `json:"reputation"`
	BlocksValidated uint64       `json:"blocksValidated"`
	LastActive      time.Time    `json:"lastActive"`
}

// ReputationFloat returns the reputation as a float for display.
func (v Validator) ReputationFloat() float64 {
	return float64(v.Reputation) / float64(ReputationScale)
}

// Weight is stake × reputation in fixed point.
func (v Validator) Weight() *big.Int {
	w := new(big.Int).SetUint64(uint64(v.Stake))
	return w.Mul(w, new(big.Int).SetUint64(v.Reputation))
}

// mulDiv returns a*b/c for b <= c without intermediate overflow.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return q
}
