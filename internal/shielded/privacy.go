// privacy.go - The privacy collaborator consumed by the ledger.
//
// Proofs and range proofs are CBOR envelopes, base64 encoded. They bind the
// statement (commitment, nullifier, value bounds) and a MiMC knowledge tag, but
// they are not zero-knowledge arguments: a verifier only learns whether the
// envelope is well formed and which commitment and nullifier it speaks for.

package shielded

import (
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"zolana/internal/chain"
)

var (
	// ErrMalformedProof is returned when a proof or ciphertext cannot be decoded.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrValueOutOfRange is returned when a range proof is requested for a value
	// outside the provable range.
	ErrValueOutOfRange = errors.New("value outside provable range")
)

// Prover is the contract the ledger consumes from the privacy layer.
type Prover interface {
	GenerateCommitment(value chain.Amount, randomness []byte) string
	GenerateNullifier(commitment string, key []byte) string
	GenerateProof(st Statement) (string, error)
	VerifyProof(proof string) bool
	GenerateRangeProof(value chain.Amount, commitment string) (string, error)
	VerifyRangeProof(proof string) bool
	EncryptNote(note NotePlaintext, key []byte) (string, error)
}

// Binder is implemented by provers whose proofs name the commitment and
// nullifier they were generated for.
type Binder interface {
	ProofBinds(proof, commitment, nullifier string) bool
}

// NoteDecrypter is implemented by provers that can open the notes they
// encrypted.
type NoteDecrypter interface {
	DecryptNote(ciphertext string, key []byte) (NotePlaintext, error)
}

// Statement is what a spend proof attests to.
type Statement struct {
	Value      chain.Amount
	Sender     string
	Recipient  string
	Randomness []byte
	Commitment string
	Nullifier  string
}

type spendProof struct {
	Commitment string `cbor:"commitment"`
	Nullifier  string `cbor:"nullifier"`
	Knowledge  []byte `cbor:"knowledge"`
	Timestamp  int64  `cbor:"timestamp"`
}

type rangeProof struct {
	Commitment string `cbor:"commitment"`
	Min        uint64 `cbor:"min"`
	Max        uint64 `cbor:"max"`
	Tag        []byte `cbor:"tag"`
	Timestamp  int64  `cbor:"timestamp"`
}

// MiMC is the MiMC-backed Prover.
type MiMC struct {
	maxValue chain.Amount
	now      func() time.Time
}

// Option configures a MiMC prover.
type Option func(*MiMC)

// WithMaxValue sets the upper bound range proofs attest to.
func WithMaxValue(v chain.Amount) Option {
	return func(m *MiMC) { m.maxValue = v }
}

// WithClock sets the time source used to stamp proofs.
func WithClock(now func() time.Time) Option {
	return func(m *MiMC) { m.now = now }
}

// NewMiMC returns a prover. The default range bound is 21 million coins.
func NewMiMC(opts ...Option) *MiMC {
	m := &MiMC{maxValue: chain.Coins(21_000_000), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MiMC) GenerateCommitment(value chain.Amount, randomness []byte) string {
	return Commitment(value, randomness)
}

func (m *MiMC) GenerateNullifier(commitment string, key []byte) string {
	return Nullifier(commitment, key)
}

// GenerateProof seals the statement's commitment and nullifier together with a
// knowledge tag derived from the randomness and the parties.
func (m *MiMC) GenerateProof(st Statement) (string, error) {
	if st.Commitment == "" || st.Nullifier == "" {
		return "", fmt.Errorf("generate proof: %w: statement missing commitment or nullifier", ErrMalformedProof)
	}
	p := spendProof{
		Commitment: st.Commitment,
		Nullifier:  st.Nullifier,
		Knowledge:  prf(st.Randomness, append([]byte(st.Sender+"|"+st.Recipient+"|"), amountBytes(st.Value)...)),
		Timestamp:  m.now().UnixMilli(),
	}
	return encodeEnvelope(p)
}

// VerifyProof reports whether proof decodes to a complete spend proof.
func (m *MiMC) VerifyProof(proof string) bool {
	p, err := decodeSpendProof(proof)
	if err != nil {
		return false
	}
	return p.Commitment != "" && p.Nullifier != "" && len(p.Knowledge) > 0 && p.Timestamp > 0
}

// ProofBinds reports whether proof was generated for commitment and nullifier.
func (m *MiMC) ProofBinds(proof, commitment, nullifier string) bool {
	p, err := decodeSpendProof(proof)
	if err != nil {
		return false
	}
	return p.Commitment == commitment && p.Nullifier == nullifier
}

// GenerateRangeProof attests that the committed value lies in [0, maxValue].
func (m *MiMC) GenerateRangeProof(value chain.Amount, commitment string) (string, error) {
	if value > m.maxValue {
		return "", fmt.Errorf("generate range proof: %w: %s > %s", ErrValueOutOfRange, value, m.maxValue)
	}
	p := rangeProof{
		Commitment: commitment,
		Min:        0,
		Max:        uint64(m.maxValue),
		Tag:        mimcHash(tagRange, decodeOrRaw(commitment), amountBytes(value)),
		Timestamp:  m.now().UnixMilli(),
	}
	return encodeEnvelope(p)
}

// VerifyRangeProof reports whether proof decodes to a well-formed range proof.
func (m *MiMC) VerifyRangeProof(proof string) bool {
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return false
	}
	var p rangeProof
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return false
	}
	return p.Commitment != "" && p.Min <= p.Max && len(p.Tag) > 0
}

// EncryptNote seals note under key with XChaCha20-Poly1305. The output is
// base64(nonce || ciphertext).
func (m *MiMC) EncryptNote(note NotePlaintext, key []byte) (string, error) {
	aead, err := noteAEAD(key)
	if err != nil {
		return "", err
	}
	plain, err := cbor.Marshal(note)
	if err != nil {
		return "", fmt.Errorf("encode note: %w", err)
	}
	nonce := randomBytes(aead.NonceSize())
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptNote opens a ciphertext produced by EncryptNote.
func (m *MiMC) DecryptNote(ciphertext string, key []byte) (NotePlaintext, error) {
	var note NotePlaintext
	aead, err := noteAEAD(key)
	if err != nil {
		return note, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return note, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if len(raw) < aead.NonceSize() {
		return note, fmt.Errorf("%w: ciphertext too short", ErrMalformedProof)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return note, fmt.Errorf("decrypt note: %w", err)
	}
	if err := cbor.Unmarshal(plain, &note); err != nil {
		return note, fmt.Errorf("decode note: %w", err)
	}
	return note, nil
}

// noteAEAD derives a 32-byte key from any key material.
func noteAEAD(key []byte) (cipher.AEAD, error) {
	k := key
	if len(k) != chacha20poly1305.KeySize {
		k = mimcHash(tagViewing, key)[:chacha20poly1305.KeySize]
	}
	return chacha20poly1305.NewX(k)
}

func encodeEnvelope(v any) (string, error) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeSpendProof(proof string) (spendProof, error) {
	var p spendProof
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return p, nil
}
