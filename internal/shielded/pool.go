// pool.go - Note pool and nullifier set.
//
// Commitments are globally unique and nullifiers are insert-once. Both sets only
// grow; a rejected insertion leaves the pool untouched.

package shielded

import (
	"errors"
	"fmt"
	"sync"

	"zolana/internal/chain"
)

var (
	// ErrDuplicateCommitment is returned when a note with the same commitment exists.
	ErrDuplicateCommitment = errors.New("commitment already in shielded pool")
	// ErrStaleNullifier is returned when a nullifier is spent a second time.
	ErrStaleNullifier = errors.New("double-spend detected: nullifier already spent")
)

// Pool is safe for concurrent use.
type Pool struct {
	mu         sync.RWMutex
	notes      map[string]Note
	order      []string
	nullifiers map[string]struct{}
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		notes:      make(map[string]Note),
		nullifiers: make(map[string]struct{}),
	}
}

// AddNote records a note under its commitment.
func (p *Pool) AddNote(note Note) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.notes[note.Commitment]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommitment, note.Commitment)
	}
	p.notes[note.Commitment] = note
	p.order = append(p.order, note.Commitment)
	return nil
}

// Spend inserts nullifier into the spent set.
func (p *Pool) Spend(nullifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, spent := p.nullifiers[nullifier]; spent {
		return fmt.Errorf("%w: %s", ErrStaleNullifier, nullifier)
	}
	p.nullifiers[nullifier] = struct{}{}
	return nil
}

// HasNullifier returns true if the nullifier was already spent.
func (p *Pool) HasNullifier(nullifier string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.nullifiers[nullifier]
	return ok
}

// HasCommitment returns true if a note with this commitment exists.
func (p *Pool) HasCommitment(commitment string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.notes[commitment]
	return ok
}

// Note returns the note stored under commitment.
func (p *Pool) Note(commitment string) (Note, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.notes[commitment]
	return n, ok
}

// Notes returns all notes in insertion order.
func (p *Pool) Notes() []Note {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Note, 0, len(p.order))
	for _, cm := range p.order {
		out = append(out, p.notes[cm])
	}
	return out
}

// Size returns the number of notes.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.notes)
}

// NullifierCount returns the number of spent nullifiers.
func (p *Pool) NullifierCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nullifiers)
}

// TotalValue sums the disclosed value of all notes.
func (p *Pool) TotalValue() chain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total chain.Amount
	for _, n := range p.notes {
		total += n.Value
	}
	return total
}
