package ledger

import (
	"fmt"

	"zolana/internal/chain"
)

// VerifyChain walks the chain from genesis and returns a *ChainIntegrityError
// for the first block whose stored hash, merkle root, linkage, index or proof
// of work does not check out.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		if err := verifyBlock(b); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := l.blocks[i-1]
		if b.PreviousHash != prev.Hash {
			return &ChainIntegrityError{Index: b.Index, Reason: fmt.Sprintf("previous hash %s does not match %s", b.PreviousHash, prev.Hash)}
		}
		if b.Index != prev.Index+1 {
			return &ChainIntegrityError{Index: b.Index, Reason: fmt.Sprintf("index follows %d", prev.Index)}
		}
	}
	return nil
}

func verifyBlock(b *chain.Block) error {
	if b.Hash != b.CalculateHash() {
		return &ChainIntegrityError{Index: b.Index, Reason: "stored hash does not match contents"}
	}
	root, err := b.CalculateMerkleRoot()
	if err != nil {
		return &ChainIntegrityError{Index: b.Index, Reason: err.Error()}
	}
	if root != b.MerkleRoot {
		return &ChainIntegrityError{Index: b.Index, Reason: "merkle root does not match transactions"}
	}
	if d, ok := b.Difficulty(); ok && b.Index > 0 && !chain.MeetsDifficulty(b.Hash, d) {
		return &ChainIntegrityError{Index: b.Index, Reason: fmt.Sprintf("hash does not meet difficulty %d", d)}
	}
	return nil
}

// IsChainValid reports whether VerifyChain finds no violation.
func (l *Ledger) IsChainValid() bool {
	return l.VerifyChain() == nil
}
