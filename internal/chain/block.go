// block.go - Block header, provenance, hashing and the proof-of-work search.

package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"zolana/internal/merkle"
)

// GenesisPreviousHash is the previousHash of block 0.
const GenesisPreviousHash = "0"

// MaxDifficulty is the number of hex characters in a block hash.
const MaxDifficulty = sha256.Size * 2

var (
	// ErrMissingProvenance is returned for blocks that are neither PoW nor PoS.
	ErrMissingProvenance = errors.New("block has no proof-of-work or proof-of-stake provenance")
	// ErrDifficultyRange is returned when a difficulty can never be met.
	ErrDifficultyRange = fmt.Errorf("difficulty must be between 0 and %d", MaxDifficulty)
)

// Provenance records how a block earned its place in the chain.
// It is either ProofOfWork or ProofOfStake.
type Provenance interface {
	hashTag() string
}

// ProofOfWork tags a mined block with the difficulty it was mined at.
type ProofOfWork struct {
	Difficulty int
}

// ProofOfStake tags a block with the validator that produced it.
type ProofOfStake struct {
	Validator string
}

func (p ProofOfWork) hashTag() string  { return "pow:" + strconv.Itoa(p.Difficulty) }
func (p ProofOfStake) hashTag() string { return "pos:" + p.Validator }

// Block is immutable once appended to the chain. Hash and MerkleRoot are derived
// and must be recomputed after any field changes.
type Block struct {
	Index        uint64
	Timestamp    int64
	Transactions []Transaction
	PreviousHash string
	MerkleRoot   string
	Hash         string
	Nonce        uint64
	Provenance   Provenance
}

// NewBlock assembles a block and computes its Merkle root and hash.
func NewBlock(index uint64, timestamp int64, txs []Transaction, previousHash string, prov Provenance) (*Block, error) {
	if prov == nil {
		return nil, ErrMissingProvenance
	}
	b := &Block{
		Index:        index,
		Timestamp:    timestamp,
		Transactions: CloneTransactions(txs),
		PreviousHash: previousHash,
		Provenance:   prov,
	}
	if b.Transactions == nil {
		b.Transactions = []Transaction{}
	}
	root, err := b.CalculateMerkleRoot()
	if err != nil {
		return nil, err
	}
	b.MerkleRoot = root
	b.Hash = b.CalculateHash()
	return b, nil
}

// NewGenesis returns block 0: no transactions, previousHash "0", nonce 0.
func NewGenesis(timestamp int64, difficulty int) *Block {
	b, err := NewBlock(0, timestamp, nil, GenesisPreviousHash, ProofOfWork{Difficulty: difficulty})
	if err != nil {
		// an empty transaction list always encodes
		panic(err)
	}
	return b
}

// CalculateMerkleRoot commits to the canonical encoding of every transaction.
func (b *Block) CalculateMerkleRoot() (string, error) {
	leaves := make([][]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		enc, err := Encode(tx)
		if err != nil {
			return "", fmt.Errorf("encode transaction %s: %w", tx.ID, err)
		}
		leaves[i] = enc
	}
	return merkle.Root(leaves), nil
}

// CalculateHash hashes the header fields.
func (b *Block) CalculateHash() string {
	var sb strings.Builder
	sb.Grow(256)
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString("|")
	sb.WriteString(b.PreviousHash)
	sb.WriteString("|")
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	sb.WriteString("|")
	sb.WriteString(b.MerkleRoot)
	sb.WriteString("|")
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	if b.Provenance != nil {
		sb.WriteString("|")
		sb.WriteString(b.Provenance.hashTag())
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Mine searches for a nonce whose hash starts with difficulty '0' hex digits.
// ctx is checked on every iteration; on cancellation ctx.Err() is returned and
// the block keeps the last nonce tried.
func (b *Block) Mine(ctx context.Context, difficulty int) error {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return ErrDifficultyRange
	}
	b.Hash = b.CalculateHash()
	for !MeetsDifficulty(b.Hash, difficulty) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		b.Nonce++
		b.Hash = b.CalculateHash()
	}
	return nil
}

// MeetsDifficulty reports whether hash has difficulty leading '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty > len(hash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Validator returns the producing validator for PoS blocks.
func (b *Block) Validator() (string, bool) {
	if pos, ok := b.Provenance.(ProofOfStake); ok {
		return pos.Validator, true
	}
	return "", false
}

// Difficulty returns the mining difficulty for PoW blocks.
func (b *Block) Difficulty() (int, bool) {
	if pow, ok := b.Provenance.(ProofOfWork); ok {
		return pow.Difficulty, true
	}
	return 0, false
}

// TxStats counts shielded and transparent transactions.
func (b *Block) TxStats() (shielded, transparent int) {
	for _, tx := range b.Transactions {
		if tx.Shielded {
			shielded++
		} else {
			transparent++
		}
	}
	return shielded, transparent
}

// Size returns the canonical encoded size of the block in bytes.
func (b *Block) Size() int {
	enc, err := Encode(b.wire())
	if err != nil {
		return 0
	}
	return len(enc)
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	c := *b
	c.Transactions = CloneTransactions(b.Transactions)
	return &c
}

// blockWire is the flat encoding used on the wire and for size accounting.
type blockWire struct {
	Index        uint64        `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previousHash"`
	MerkleRoot   string        `json:"merkleRoot"`
	Hash         string        `json:"hash"`
	Nonce        uint64        `json:"nonce"`
	Validator    string        `json:"validator,omitempty"`
	Difficulty   int           `json:"difficulty,omitempty"`
}

func (b *Block) wire() blockWire {
	w := blockWire{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
	}
	switch p := b.Provenance.(type) {
	case ProofOfWork:
		w.Difficulty = p.Difficulty
	case ProofOfStake:
		w.Validator = p.Validator
	}
	return w
}

// MarshalJSON flattens the provenance into validator/difficulty fields.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.wire())
}

// UnmarshalJSON restores the provenance variant; a block carrying neither a
// validator nor a difficulty is rejected.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var prov Provenance
	switch {
	case w.Validator != "":
		prov = ProofOfStake{Validator: w.Validator}
	case w.Difficulty > 0:
		prov = ProofOfWork{Difficulty: w.Difficulty}
	default:
		return ErrMissingProvenance
	}
	*b = Block{
		Index:        w.Index,
		Timestamp:    w.Timestamp,
		Transactions: w.Transactions,
		PreviousHash: w.PreviousHash,
		MerkleRoot:   w.MerkleRoot,
		Hash:         w.Hash,
		Nonce:        w.Nonce,
		Provenance:   prov,
	}
	return nil
}
