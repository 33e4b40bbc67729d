// blocks.go - Block production on the proof-of-work and proof-of-stake paths.

package ledger

import (
	"context"
	"fmt"
	"time"

	"zolana/internal/chain"
	"zolana/internal/metrics"
	"zolana/internal/shielded"
	"zolana/internal/utxo"
)

// MineBlock assembles the highest-fee pending transactions into a block and
// searches for a proof of work. The search honours ctx and runs without the
// ledger lock; if another block lands first the result is discarded with
// ErrStaleBlock. On success the block reward is queued for miner as a coinbase
// transaction in the mempool.
func (l *Ledger) MineBlock(ctx context.Context, miner string) (*chain.Block, error) {
	l.mu.Lock()
	difficulty := l.difficulty
	reward := l.rewardLocked()
	txs := l.selectTransactionsLocked()
	tip := l.tip()
	block, err := chain.NewBlock(tip.Index+1, l.now(), txs, tip.Hash, chain.ProofOfWork{Difficulty: difficulty})
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("assemble block: %w", err)
	}

	start := time.Now()
	if err := block.Mine(ctx, difficulty); err != nil {
		return nil, fmt.Errorf("mine block %d: %w", block.Index, err)
	}
	elapsed := time.Since(start)

	l.mu.Lock()
	if l.tip().Hash != block.PreviousHash {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: block %d", ErrStaleBlock, block.Index)
	}
	if err := l.consensus.VerifyBlock(block, ""); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.commitLocked(block)
	if reward > 0 {
		if err := l.mempool.Add(chain.NewCoinbase(miner, reward, l.now())); err != nil {
			l.log.Warn().Err(err).Str("miner", miner).Msg("could not queue block reward")
		}
	}
	height, pending := len(l.blocks)-1, l.mempool.Size()
	l.mu.Unlock()

	l.metrics.RecordMining(elapsed, difficulty)
	l.metrics.RecordBlock("pow", height, pending)
	l.log.Info().
		Uint64("height", block.Index).
		Str("hash", block.Hash).
		Int("txs", len(block.Transactions)).
		Int("difficulty", difficulty).
		Uint64("nonce", block.Nonce).
		Dur("elapsed", elapsed).
		Msg("block mined")
	l.emit(*block)
	return block.Clone(), nil
}

// ValidateBlock is the proof-of-stake path. The caller must be the validator
// the consensus engine selects; otherwise nothing changes. A block that fails
// the acceptance check gets its validator slashed and is not appended.
func (l *Ledger) ValidateBlock(validator string) (*chain.Block, error) {
	l.mu.Lock()
	if !l.eligibleLocked(validator) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrValidatorIneligible, validator)
	}
	selected, err := l.consensus.SelectValidator()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if selected != validator {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: selected %s, caller %s", ErrValidatorMismatch, selected, validator)
	}

	reward := l.rewardLocked()
	txs := l.selectTransactionsLocked()
	tip := l.tip()
	block, err := chain.NewBlock(tip.Index+1, l.now(), txs, tip.Hash, chain.ProofOfStake{Validator: validator})
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("assemble block: %w", err)
	}
	if err := l.consensus.VerifyBlock(block, selected); err != nil {
		removed, slashErr := l.consensus.Slash(validator)
		l.mu.Unlock()
		if slashErr == nil {
			l.metrics.RecordSlash(removed)
		}
		l.log.Warn().Err(err).Str("validator", validator).Bool("removed", removed).Msg("block rejected, validator slashed")
		return nil, err
	}
	l.commitLocked(block)
	if err := l.consensus.Reward(validator, reward); err != nil {
		l.log.Error().Err(err).Str("validator", validator).Msg("could not reward validator")
	}
	height, pending := len(l.blocks)-1, l.mempool.Size()
	l.mu.Unlock()

	l.metrics.RecordBlock("pos", height, pending)
	l.log.Info().
		Uint64("height", block.Index).
		Str("hash", block.Hash).
		Int("txs", len(block.Transactions)).
		Str("validator", validator).
		Msg("block validated")
	l.emit(*block)
	return block.Clone(), nil
}

func (l *Ledger) eligibleLocked(address string) bool {
	for _, v := range l.consensus.Eligible() {
		if v.Address == address {
			return true
		}
	}
	return false
}

// rewardLocked halves the base reward once per HalvingInterval blocks of chain
// length.
func (l *Ledger) rewardLocked() chain.Amount {
	halvings := uint64(len(l.blocks)) / l.params.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return l.params.BaseReward >> halvings
}

// selectTransactionsLocked takes the top pending transactions by fee and drops,
// and evicts, any that conflict with state or with an earlier pick.
func (l *Ledger) selectTransactionsLocked() []chain.Transaction {
	candidates := l.mempool.ByFee(l.params.MaxBlockTransactions)
	spent := make(map[utxo.Outpoint]struct{})
	nullifiers := make(map[string]struct{})
	selected := make([]chain.Transaction, 0, len(candidates))
	var evict []string

candidates:
	for _, tx := range candidates {
		if tx.Shielded {
			if _, dup := nullifiers[tx.Nullifier]; dup || l.nullifierUsedLocked(tx.Nullifier) || l.shieldedPool.HasCommitment(tx.Commitment) {
				evict = append(evict, tx.ID)
				continue
			}
			nullifiers[tx.Nullifier] = struct{}{}
			selected = append(selected, tx)
			continue
		}
		for _, in := range tx.Inputs {
			op := utxo.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
			if _, dup := spent[op]; dup || !l.utxos.IsUnspent(in.TxID, in.OutputIndex) {
				evict = append(evict, tx.ID)
				continue candidates
			}
		}
		for _, in := range tx.Inputs {
			spent[utxo.Outpoint{TxID: in.TxID, Index: in.OutputIndex}] = struct{}{}
		}
		selected = append(selected, tx)
	}
	if len(evict) > 0 {
		l.mempool.RemoveMany(evict)
		l.log.Warn().Strs("txs", evict).Msg("evicted conflicting transactions from the mempool")
	}
	return selected
}

// commitLocked appends block and applies it to every pool.
func (l *Ledger) commitLocked(block *chain.Block) {
	l.blocks = append(l.blocks, block)
	l.advancePoolsLocked(block)

	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	l.mempool.RemoveMany(ids)
	l.retargetLocked()
}

// advancePoolsLocked spends inputs and creates outputs for transparent
// transactions, and settles nullifiers and notes for shielded ones.
func (l *Ledger) advancePoolsLocked(block *chain.Block) {
	for _, tx := range block.Transactions {
		if tx.Shielded {
			l.usedNullifiers[tx.Nullifier] = struct{}{}
			if err := l.shieldedPool.Spend(tx.Nullifier); err != nil {
				l.log.Error().Err(err).Str("tx", tx.ID).Msg("nullifier settled twice")
			}
			note := shielded.Note{Commitment: tx.Commitment, Recipient: tx.To, EncryptedNote: tx.EncryptedNote}
			if err := l.shieldedPool.AddNote(note); err != nil {
				l.log.Error().Err(err).Str("tx", tx.ID).Msg("note commitment collision")
			}
			continue
		}
		for _, in := range tx.Inputs {
			if err := l.utxos.Spend(in.TxID, in.OutputIndex); err != nil {
				l.log.Error().Err(err).Str("tx", tx.ID).Msg("confirmed transaction spent an unavailable output")
			}
		}
		for i, out := range tx.Outputs {
			err := l.utxos.Add(utxo.Output{
				TxID:     tx.ID,
				Index:    i,
				Address:  out.Address,
				Amount:   out.Amount,
				Shielded: out.Shielded,
			})
			if err != nil {
				l.log.Error().Err(err).Str("tx", tx.ID).Msg("duplicate output")
			}
		}
	}
}

// retargetLocked adjusts difficulty whenever the chain length reaches a
// multiple of RetargetInterval, comparing the average spacing of the last
// RetargetInterval blocks with the target block time (±10%).
func (l *Ledger) retargetLocked() {
	n := l.params.RetargetInterval
	if len(l.blocks)%n != 0 {
		return
	}
	window := l.blocks[len(l.blocks)-n:]
	span := window[n-1].Timestamp - window[0].Timestamp
	intervals := int64(n - 1)
	target := l.params.BlockTime.Milliseconds()

	old := l.difficulty
	switch {
	case span*10 < target*intervals*9:
		if l.difficulty < chain.MaxDifficulty {
			l.difficulty++
		}
	case span*10 > target*intervals*11 && l.difficulty > 1:
		l.difficulty--
	}
	if l.difficulty != old {
		l.log.Info().Int("from", old).Int("to", l.difficulty).Int64("avg_ms", span/intervals).Msg("difficulty retargeted")
		l.metrics.SetGauge(metrics.MetricDifficulty, float64(l.difficulty), nil)
	}
}
