// pool.go - Unspent transaction output set.
//
// Outputs are keyed by (transaction id, output index) and are never deleted:
// spending only flips the Spent flag, which never reverts. Iteration follows
// insertion order so coin selection is deterministic.

package utxo

import (
	"errors"
	"fmt"
	"sync"

	"zolana/internal/chain"
)

var (
	// ErrNotFound is returned when an outpoint is not in the pool.
	ErrNotFound = errors.New("utxo not found")
	// ErrAlreadySpent is returned when spending an output twice.
	ErrAlreadySpent = errors.New("utxo already spent")
	// ErrDuplicateOutput is returned when adding an existing outpoint outside replay.
	ErrDuplicateOutput = errors.New("utxo already exists")
)

// Outpoint identifies one output of one transaction.
type Outpoint struct {
	TxID  string
	Index int
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// Output is a record in the pool.
type Output struct {
	TxID       string       `json:"txId"`
	Index      int          `json:"outputIndex"`
	Address    string       `json:"address"`
	Amount     chain.Amount `json:"amount"`
	Spent      bool         `json:"spent"`
	Shielded   bool         `json:"shielded,omitempty"`
	Commitment string       `json:"commitment,omitempty"`
}

// Outpoint returns the key of the output.
func (o Output) Outpoint() Outpoint {
	return Outpoint{TxID: o.TxID, Index: o.Index}
}

// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	outputs map[Outpoint]*Output
	order   []Outpoint
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{outputs: make(map[Outpoint]*Output)}
}

// Add inserts a new output. Re-adding an existing key fails; use Restore when
// replaying a ledger.
func (p *Pool) Add(out Output) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := out.Outpoint()
	if _, exists := p.outputs[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOutput, key)
	}
	p.insert(key, out)
	return nil
}

// Restore inserts or overwrites an output. Only ledger replay should call it.
func (p *Pool) Restore(out Output) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := out.Outpoint()
	if existing, ok := p.outputs[key]; ok {
		*existing = out
		return
	}
	p.insert(key, out)
}

func (p *Pool) insert(key Outpoint, out Output) {
	o := out
	p.outputs[key] = &o
	p.order = append(p.order, key)
}

// Get returns a copy of the output at (txID, index).
func (p *Pool) Get(txID string, index int) (Output, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.outputs[Outpoint{TxID: txID, Index: index}]
	if !ok {
		return Output{}, false
	}
	return *o, true
}

// IsUnspent reports whether (txID, index) exists and is not spent.
func (p *Pool) IsUnspent(txID string, index int) bool {
	o, ok := p.Get(txID, index)
	return ok && !o.Spent
}

// Spend marks the output spent. The check and the flip happen under one lock.
func (p *Pool) Spend(txID string, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Outpoint{TxID: txID, Index: index}
	o, ok := p.outputs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if o.Spent {
		return fmt.Errorf("%w: %s", ErrAlreadySpent, key)
	}
	o.Spent = true
	return nil
}

// Unspent returns the unspent outputs owned by address in insertion order.
func (p *Pool) Unspent(address string) []Output {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var outs []Output
	for _, key := range p.order {
		o := p.outputs[key]
		if o.Address == address && !o.Spent {
			outs = append(outs, *o)
		}
	}
	return outs
}

// Balance sums unspent outputs owned by address.
func (p *Pool) Balance(address string) chain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total chain.Amount
	for _, o := range p.outputs {
		if o.Address == address && !o.Spent {
			total += o.Amount
		}
	}
	return total
}

// ShieldedPoolValue sums unspent outputs flagged shielded.
func (p *Pool) ShieldedPoolValue() chain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total chain.Amount
	for _, o := range p.outputs {
		if o.Shielded && !o.Spent {
			total += o.Amount
		}
	}
	return total
}

// Len returns the number of outputs ever added, spent or not.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.outputs)
}

// UnspentCount returns the number of unspent outputs.
func (p *Pool) UnspentCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, o := range p.outputs {
		if !o.Spent {
			n++
		}
	}
	return n
}

// TotalUnspent sums every unspent output.
func (p *Pool) TotalUnspent() chain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total chain.Amount
	for _, o := range p.outputs {
		if !o.Spent {
			total += o.Amount
		}
	}
	return total
}
