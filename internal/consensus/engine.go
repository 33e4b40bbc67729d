// engine.go - Proof-of-stake validator registry and block acceptance.
//
// Selection draws uniformly over the summed weight stake × reputation using
// integer arithmetic, so two platforms with the same random stream always pick
// the same validator.

package consensus

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zolana/internal/chain"
	"zolana/internal/clock"
)

var (
	// ErrStakeBelowMinimum is returned when registering with too little stake.
	ErrStakeBelowMinimum = errors.New("stake below minimum")
	// ErrUnknownValidator is returned for addresses that are not registered.
	ErrUnknownValidator = errors.New("validator not found")
	// ErrValidatorIneligible is returned when no validator can be selected.
	ErrValidatorIneligible = errors.New("no eligible validator")
	// ErrBlockRejected is returned by VerifyBlock.
	ErrBlockRejected = errors.New("block rejected")
)

const bpsDenominator = 10_000

// Config holds staking parameters.
type Config struct {
	MinStake        chain.Amount
	SlashPenaltyBps uint64
	ActivityWindow  time.Duration
}

// DefaultConfig returns 1000 coins minimum stake, 10% slashing and a 24h window.
func DefaultConfig() Config {
	return Config{
		MinStake:        chain.Coins(1000),
		SlashPenaltyBps: 1000,
		ActivityWindow:  24 * time.Hour,
	}
}

// Engine owns the validator registry.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	validators map[string]*Validator
	clock      clock.Clock
	random     io.Reader
	log        zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for activity tracking.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandom sets the randomness used by SelectValidator.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an empty registry.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		validators: make(map[string]*Validator),
		clock:      clock.System{},
		random:     rand.Reader,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the staking parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// Register inserts a fresh validator, replacing any existing entry for address.
func (e *Engine) Register(address string, stake chain.Amount) error {
	if address == "" {
		return errors.New("validator address is required")
	}
	if stake < e.cfg.MinStake {
		return fmt.Errorf("%w: %s < %s", ErrStakeBelowMinimum, stake, e.cfg.MinStake)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.validators[address]; exists {
		e.log.Warn().Str("validator", address).Msg("re-registering validator resets its record")
	}
	e.validators[address] = &Validator{
		Address:    address,
		Stake:      stake,
		Reputation: ReputationScale,
		LastActive: e.clock.Now(),
	}
	e.log.Info().Str("validator", address).Stringer("stake", stake).Msg("validator registered")
	return nil
}

// AddStake increases the stake of an existing validator.
func (e *Engine) AddStake(address string, amount chain.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.validators[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, address)
	}
	stake, err := v.Stake.Add(amount)
	if err != nil {
		return err
	}
	v.Stake = stake
	return nil
}

// Slash cuts stake by the penalty and halves reputation. The validator is
// removed when its stake drops below the minimum; removed reports that.
func (e *Engine) Slash(address string) (removed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.validators[address]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownValidator, address)
	}
	v.Stake = chain.Amount(mulDiv(uint64(v.Stake), bpsDenominator-e.cfg.SlashPenaltyBps, bpsDenominator))
	v.Reputation /= 2
	if v.Stake < e.cfg.MinStake {
		delete(e.validators, address)
		e.log.Warn().Str("validator", address).Msg("validator slashed below minimum stake and removed")
		return true, nil
	}
	e.log.Warn().Str("validator", address).Stringer("stake", v.Stake).Msg("validator slashed")
	return false, nil
}

// Reward credits stake, counts the block and raises reputation by 1%.
func (e *Engine) Reward(address string, amount chain.Amount) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.validators[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, address)
	}
	stake, err := v.Stake.Add(amount)
	if err != nil {
		return err
	}
	v.Stake = stake
	v.BlocksValidated++
	v.Reputation = v.Reputation * 101 / 100
	if v.Reputation > MaxReputation {
		v.Reputation = MaxReputation
	}
	v.LastActive = e.clock.Now()
	return nil
}

// Validator returns a copy of the validator at address.
func (e *Engine) Validator(address string) (Validator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.validators[address]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// Validators returns all validators sorted by address.
func (e *Engine) Validators() []Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Validator, 0, len(e.validators))
	for _, v := range e.validators {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// TotalStake sums the stake of all validators.
func (e *Engine) TotalStake() chain.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total chain.Amount
	for _, v := range e.validators {
		total += v.Stake
	}
	return total
}

// Eligible returns validators with enough stake that were active within the
// activity window, sorted by address.
func (e *Engine) Eligible() []Validator {
	now := e.clock.Now()
	all := e.Validators()
	out := all[:0]
	for _, v := range all {
		if v.Stake >= e.cfg.MinStake && now.Sub(v.LastActive) <= e.cfg.ActivityWindow {
			out = append(out, v)
		}
	}
	return out
}

// SelectValidator picks an eligible validator with probability proportional to
// stake × reputation.
func (e *Engine) SelectValidator() (string, error) {
	eligible := e.Eligible()
	if len(eligible) == 0 {
		return "", ErrValidatorIneligible
	}

	weights := make([]*big.Int, len(eligible))
	total := new(big.Int)
	for i, v := range eligible {
		weights[i] = v.Weight()
		total.Add(total, weights[i])
	}
	if total.Sign() == 0 {
		return eligible[0].Address, nil
	}

	r, err := rand.Int(e.random, total)
	if err != nil {
		return "", fmt.Errorf("draw validator: %w", err)
	}
	for i, w := range weights {
		if r.Cmp(w) < 0 {
			return eligible[i].Address, nil
		}
		r.Sub(r, w)
	}
	return eligible[0].Address, nil
}

// VerifyBlock checks a block against its provenance. A PoS block must come from
// expected; a PoW block must carry a correct hash meeting its difficulty.
func (e *Engine) VerifyBlock(b *chain.Block, expected string) error {
	switch p := b.Provenance.(type) {
	case chain.ProofOfStake:
		if p.Validator != expected {
			return fmt.Errorf("%w: block %d produced by %s, expected %s", ErrBlockRejected, b.Index, p.Validator, expected)
		}
	case chain.ProofOfWork:
		if b.Hash != b.CalculateHash() {
			return fmt.Errorf("%w: block %d hash mismatch", ErrBlockRejected, b.Index)
		}
		if !chain.MeetsDifficulty(b.Hash, p.Difficulty) {
			return fmt.Errorf("%w: block %d does not meet difficulty %d", ErrBlockRejected, b.Index, p.Difficulty)
		}
	default:
		return chain.ErrMissingProvenance
	}
	return nil
}
