package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"zolana/internal/chain"
)

var (
	// ErrFull is returned when the pool is at capacity.
	ErrFull = errors.New("mempool full")
	// ErrDuplicate is returned when a transaction id is already pending.
	ErrDuplicate = errors.New("transaction already in mempool")
)

// Config holds mempool limits.
type Config struct {
	// MaxSize is the maximum number of pending transactions.
	MaxSize int
}

// DefaultConfig returns the default mempool limits.
func DefaultConfig() Config {
	return Config{MaxSize: 1000}
}

// Entry is a pending transaction with its admission bookkeeping.
type Entry struct {
	Tx      chain.Transaction
	AddedAt time.Time
	seq     uint64
}

type outpoint struct {
	txID  string
	index int
}

// Mempool is a bounded set of pending transactions keyed by id.
type Mempool struct {
	mu         sync.RWMutex
	cfg        Config
	byID       map[string]*Entry
	nullifiers map[string]string
	reserved   map[outpoint]string
	nextSeq    uint64
	now        func() time.Time
}

// New creates an empty mempool.
func New(cfg Config) *Mempool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	return &Mempool{
		cfg:        cfg,
		byID:       make(map[string]*Entry),
		nullifiers: make(map[string]string),
		reserved:   make(map[outpoint]string),
		now:        time.Now,
	}
}

// Add admits a copy of tx. A duplicate id is rejected, never replaced.
func (m *Mempool) Add(tx chain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.ID)
	}
	if len(m.byID) >= m.cfg.MaxSize {
		return fmt.Errorf("%w: %d transactions", ErrFull, len(m.byID))
	}

	m.nextSeq++
	m.byID[tx.ID] = &Entry{Tx: tx.Clone(), AddedAt: m.now(), seq: m.nextSeq}
	if tx.Shielded && tx.Nullifier != "" {
		m.nullifiers[tx.Nullifier] = tx.ID
	}
	for _, in := range tx.Inputs {
		m.reserved[outpoint{in.TxID, in.OutputIndex}] = tx.ID
	}
	return nil
}

// ByFee returns pending transactions by descending fee, ties in admission
// order. limit <= 0 returns everything.
func (m *Mempool) ByFee(limit int) []chain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sortedBySeq()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Tx.Fee > entries[j].Tx.Fee
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]chain.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx.Clone()
	}
	return out
}

// All returns pending transactions in admission order.
func (m *Mempool) All() []chain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sortedBySeq()
	out := make([]chain.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx.Clone()
	}
	return out
}

func (m *Mempool) sortedBySeq() []*Entry {
	entries := make([]*Entry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// RemoveMany drops the given ids; unknown ids are ignored.
func (m *Mempool) RemoveMany(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		e, ok := m.byID[id]
		if !ok {
			continue
		}
		delete(m.byID, id)
		if e.Tx.Nullifier != "" && m.nullifiers[e.Tx.Nullifier] == id {
			delete(m.nullifiers, e.Tx.Nullifier)
		}
		for _, in := range e.Tx.Inputs {
			key := outpoint{in.TxID, in.OutputIndex}
			if m.reserved[key] == id {
				delete(m.reserved, key)
			}
		}
	}
}

// Get returns a copy of the pending transaction with id.
func (m *Mempool) Get(id string) (chain.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return chain.Transaction{}, false
	}
	return e.Tx.Clone(), true
}

// Has reports whether id is pending.
func (m *Mempool) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[id]
	return ok
}

// HasNullifier reports whether a pending shielded transaction publishes nullifier.
func (m *Mempool) HasNullifier(nullifier string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nullifiers[nullifier]
	return ok
}

// Reserves reports whether a pending transaction already spends (txID, index).
func (m *Mempool) Reserves(txID string, index int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reserved[outpoint{txID, index}]
	return ok
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Capacity returns the configured maximum size.
func (m *Mempool) Capacity() int {
	return m.cfg.MaxSize
}

// Stats summarises the pool.
type Stats struct {
	Count       int          `json:"count"`
	Capacity    int          `json:"capacity"`
	TotalFees   chain.Amount `json:"total_fees"`
	MinFee      chain.Amount `json:"min_fee"`
	MaxFee      chain.Amount `json:"max_fee"`
	AvgFee      float64      `json:"avg_fee"`
	Shielded    int          `json:"shielded"`
	Utilization float64      `json:"utilization"`
}

// Stats returns a snapshot of pool statistics.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Count:       len(m.byID),
		Capacity:    m.cfg.MaxSize,
		Utilization: float64(len(m.byID)) / float64(m.cfg.MaxSize),
	}
	if stats.Count == 0 {
		return stats
	}
	first := true
	for _, e := range m.byID {
		fee := e.Tx.Fee
		if first || fee < stats.MinFee {
			stats.MinFee = fee
		}
		if fee > stats.MaxFee {
			stats.MaxFee = fee
		}
		first = false
		stats.TotalFees += fee
		if e.Tx.Shielded {
			stats.Shielded++
		}
	}
	stats.AvgFee = float64(stats.TotalFees) / float64(stats.Count)
	return stats
}
