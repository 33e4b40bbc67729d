// note.go - Shielded notes.

package shielded

import "zolana/internal/chain"

// Note is an entry in the shielded pool. Value is zero for notes whose amount
// was never disclosed to the ledger; only the holder of the viewing key can
// read it from EncryptedNote.
type Note struct {
	Commitment    string       `json:"commitment"`
	Value         chain.Amount `json:"value"`
	Recipient     string       `json:"recipient"`
	Memo          string       `json:"memo,omitempty"`
	EncryptedNote string       `json:"encryptedNote,omitempty"`
}

// NotePlaintext is what EncryptNote seals.
type NotePlaintext struct {
	Value     chain.Amount `cbor:"value" json:"value"`
	Recipient string       `cbor:"recipient" json:"recipient"`
	Memo      string       `cbor:"memo,omitempty" json:"memo,omitempty"`
}

// NewNote creates a fresh note of value for recipient, committed with new
// randomness. The randomness is returned because spending the note later
// requires it.
func NewNote(p Prover, value chain.Amount, recipient, memo string) (Note, []byte) {
	r := randomBytes(32)
	return Note{
		Commitment: p.GenerateCommitment(value, r),
		Value:      value,
		Recipient:  recipient,
		Memo:       memo,
	}, r
}
