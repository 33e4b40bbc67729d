package ledger

import (
	"errors"
	"fmt"
	"time"

	"zolana/internal/chain"
	"zolana/internal/consensus"
)

// Params are the protocol constants of a ledger instance.
type Params struct {
	// Difficulty is the initial proof-of-work difficulty in leading hex zeros.
	Difficulty int
	// BaseReward is the block reward before any halving.
	BaseReward chain.Amount
	// BlockTime is the target interval between blocks.
	BlockTime time.Duration
	// HalvingInterval is the chain length after which the reward halves.
	HalvingInterval uint64
	// RetargetInterval is how many blocks pass between difficulty adjustments.
	RetargetInterval int
	// MaxBlockTransactions caps the transactions pulled into one block.
	MaxBlockTransactions int
	// MempoolSize caps pending transactions.
	MempoolSize int
	// DefaultFee is the fee wallets use when none is given.
	DefaultFee chain.Amount
	// Staking configures the proof-of-stake engine.
	Staking consensus.Config
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		Difficulty:           4,
		BaseReward:           chain.Coins(50),
		BlockTime:            10 * time.Second,
		HalvingInterval:      210_000,
		RetargetInterval:     10,
		MaxBlockTransactions: 100,
		MempoolSize:          1000,
		DefaultFee:           chain.Coin / 1000,
		Staking:              consensus.DefaultConfig(),
	}
}

// Validate rejects parameters the ledger cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Difficulty < 1 || p.Difficulty > chain.MaxDifficulty:
		return fmt.Errorf("difficulty must be between 1 and %d", chain.MaxDifficulty)
	case p.BlockTime <= 0:
		return errors.New("block time must be positive")
	case p.HalvingInterval == 0:
		return errors.New("halving interval must be positive")
	case p.RetargetInterval < 2:
		return errors.New("retarget interval must be at least 2")
	case p.MaxBlockTransactions <= 0:
		return errors.New("max block transactions must be positive")
	case p.MempoolSize <= 0:
		return errors.New("mempool size must be positive")
	case p.Staking.SlashPenaltyBps > 10_000:
		return errors.New("slashing penalty cannot exceed 100%")
	case p.Staking.ActivityWindow <= 0:
		return errors.New("activity window must be positive")
	}
	return nil
}
