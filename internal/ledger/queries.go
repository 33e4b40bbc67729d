// queries.go - Read-only snapshots for wallets, relays and operators.

package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"zolana/internal/chain"
	"zolana/internal/consensus"
	"zolana/internal/mempool"
	"zolana/internal/shielded"
	"zolana/internal/utxo"
)

// ErrBlockNotFound is returned by Block for an index past the tip.
var ErrBlockNotFound = errors.New("block not found")

// Balance returns the unspent value held by address.
func (l *Ledger) Balance(address string) chain.Amount {
	return l.utxos.Balance(address)
}

// UTXOs returns the unspent outputs of address in creation order.
func (l *Ledger) UTXOs(address string) []utxo.Output {
	return l.utxos.Unspent(address)
}

// Height returns the index of the latest block. A fresh ledger is at 0.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip().Index
}

// LatestBlock returns a copy of the chain tip.
func (l *Ledger) LatestBlock() *chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip().Clone()
}

// Blocks returns copies of every block from genesis to tip.
func (l *Ledger) Blocks() []*chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*chain.Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = b.Clone()
	}
	return out
}

// Block returns a copy of the block at index.
func (l *Ledger) Block(index uint64) (*chain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index >= uint64(len(l.blocks)) {
		return nil, fmt.Errorf("%w: index %d, height %d", ErrBlockNotFound, index, l.tip().Index)
	}
	return l.blocks[index].Clone(), nil
}

// Difficulty returns the difficulty the next mined block must meet.
func (l *Ledger) Difficulty() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.difficulty
}

// MempoolSize returns the number of pending transactions.
func (l *Ledger) MempoolSize() int {
	return l.mempool.Size()
}

// MempoolStats summarises pending fees and occupancy.
func (l *Ledger) MempoolStats() mempool.Stats {
	return l.mempool.Stats()
}

// PendingTransactions returns copies of the pending transactions in arrival
// order.
func (l *Ledger) PendingTransactions() []chain.Transaction {
	return l.mempool.All()
}

// HasPendingTransaction reports whether id is waiting in the mempool.
func (l *Ledger) HasPendingTransaction(id string) bool {
	return l.mempool.Has(id)
}

// ShieldedStats aggregates the shielded pool.
type ShieldedStats struct {
	Notes          int          `json:"notes"`
	Nullifiers     int          `json:"nullifiers"`
	DisclosedValue chain.Amount `json:"disclosed_value"`
	ShieldedUTXOs  chain.Amount `json:"shielded_utxo_value"`
}

// ShieldedPoolStats reports note and nullifier counts. Amounts of confidential
// notes are not known to the ledger and are not part of DisclosedValue.
func (l *Ledger) ShieldedPoolStats() ShieldedStats {
	return ShieldedStats{
		Notes:          l.shieldedPool.Size(),
		Nullifiers:     l.shieldedPool.NullifierCount(),
		DisclosedValue: l.shieldedPool.TotalValue(),
		ShieldedUTXOs:  l.utxos.ShieldedPoolValue(),
	}
}

// ShieldedNotesFor decrypts every note readable under viewingKey. It returns
// nil when the privacy collaborator cannot decrypt.
func (l *Ledger) ShieldedNotesFor(viewingKey []byte) []shielded.NotePlaintext {
	dec, ok := l.prover.(shielded.NoteDecrypter)
	if !ok {
		return nil
	}
	var out []shielded.NotePlaintext
	for _, n := range l.shieldedPool.Notes() {
		if n.EncryptedNote == "" {
			continue
		}
		if plain, err := dec.DecryptNote(n.EncryptedNote, viewingKey); err == nil {
			out = append(out, plain)
		}
	}
	return out
}

// Validators returns every registered validator sorted by address.
func (l *Ledger) Validators() []consensus.Validator {
	return l.consensus.Validators()
}

// TotalStake sums the stake of all validators.
func (l *Ledger) TotalStake() chain.Amount {
	return l.consensus.TotalStake()
}

// RegisterValidator adds address to the validator set with stake.
func (l *Ledger) RegisterValidator(address string, stake chain.Amount) error {
	return l.consensus.Register(address, stake)
}

// AddStake increases the stake of a registered validator.
func (l *Ledger) AddStake(address string, amount chain.Amount) error {
	return l.consensus.AddStake(address, amount)
}

// SlashValidator penalises address and reports whether it was removed.
func (l *Ledger) SlashValidator(address string) (bool, error) {
	removed, err := l.consensus.Slash(address)
	if err != nil {
		return false, err
	}
	l.metrics.RecordSlash(removed)
	return removed, nil
}

// Stats is a summary of chain contents.
type Stats struct {
	Height                  uint64       `json:"height"`
	Blocks                  int          `json:"blocks"`
	PoWBlocks               int          `json:"pow_blocks"`
	PoSBlocks               int          `json:"pos_blocks"`
	Transactions            int          `json:"transactions"`
	ShieldedTransactions    int          `json:"shielded_transactions"`
	TransparentTransactions int          `json:"transparent_transactions"`
	CirculatingSupply       chain.Amount `json:"circulating_supply"`
	PendingTransactions     int          `json:"pending_transactions"`
	Validators              int          `json:"validators"`
	TotalStake              chain.Amount `json:"total_stake"`
}

// Stats walks the chain and summarises it.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	s := Stats{Height: l.tip().Index, Blocks: len(l.blocks)}
	for _, b := range l.blocks[1:] {
		switch b.Provenance.(type) {
		case chain.ProofOfWork:
			s.PoWBlocks++
		case chain.ProofOfStake:
			s.PoSBlocks++
		}
		sh, tr := b.TxStats()
		s.ShieldedTransactions += sh
		s.TransparentTransactions += tr
	}
	l.mu.Unlock()

	s.Transactions = s.ShieldedTransactions + s.TransparentTransactions
	s.CirculatingSupply = l.utxos.TotalUnspent()
	s.PendingTransactions = l.mempool.Size()
	s.Validators = len(l.consensus.Validators())
	s.TotalStake = l.consensus.TotalStake()
	return s
}

// NetworkStats describes mining conditions.
type NetworkStats struct {
	Difficulty       int           `json:"difficulty"`
	AverageBlockTime time.Duration `json:"average_block_time"`
	TargetBlockTime  time.Duration `json:"target_block_time"`
	HashRate         float64       `json:"estimated_hash_rate"`
	Mempool          mempool.Stats `json:"mempool"`
}

// NetworkStats estimates the hash rate from the current difficulty and the
// average spacing of up to the last RetargetInterval blocks.
func (l *Ledger) NetworkStats() NetworkStats {
	l.mu.Lock()
	ns := NetworkStats{Difficulty: l.difficulty, TargetBlockTime: l.params.BlockTime}
	window := l.blocks
	if len(window) > l.params.RetargetInterval {
		window = window[len(window)-l.params.RetargetInterval:]
	}
	if len(window) > 1 {
		span := window[len(window)-1].Timestamp - window[0].Timestamp
		ns.AverageBlockTime = time.Duration(span/int64(len(window)-1)) * time.Millisecond
	}
	l.mu.Unlock()

	if secs := ns.AverageBlockTime.Seconds(); secs > 0 {
		// Expected attempts for d leading hex zeros is 16^d.
		ns.HashRate = math.Pow(16, float64(ns.Difficulty)) / secs
	}
	ns.Mempool = l.mempool.Stats()
	return ns
}
