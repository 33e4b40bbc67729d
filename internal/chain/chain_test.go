package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"zolana/internal/merkle"
)

func transferTx(id string, amount Amount) Transaction {
	return Transaction{
		ID:        id,
		From:      "zolAlice",
		To:        "zolBob",
		Amount:    amount,
		Timestamp: 1700000000000,
		Fee:       Coin / 1000,
		Inputs:    []TxInput{{TxID: "prev", OutputIndex: 0, Signature: "sig"}},
		Outputs:   []TxOutput{{Address: "zolBob", Amount: amount}},
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"100", Coins(100), false},
		{"0.001", 100_000, false},
		{"50.5", 50*Coin + Coin/2, false},
		{".25", Coin / 4, false},
		{"0.000000001", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if s := (Coins(99) + 99_900_000).String(); s != "99.999" {
		t.Errorf("String() = %s, want 99.999", s)
	}
}

func TestAmountOverflow(t *testing.T) {
	if _, err := Amount(^uint64(0)).Add(1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	ok := transferTx("t1", Coins(1))
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}

	mixed := ok.Clone()
	mixed.Nullifier = "n"
	if err := mixed.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("mixed transaction error = %v", err)
	}

	dupInput := ok.Clone()
	dupInput.Inputs = append(dupInput.Inputs, TxInput{TxID: "prev", OutputIndex: 0, Signature: "other"})
	if err := dupInput.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("double input error = %v", err)
	}

	noInputs := ok.Clone()
	noInputs.Inputs = nil
	if err := noInputs.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("transfer without inputs error = %v", err)
	}

	zeroOutput := Transaction{ID: "t2", From: "zolEve", Outputs: []TxOutput{{Address: "zolEve"}}}
	if err := zeroOutput.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("zero-value output error = %v", err)
	}
	zeroOutput.Inputs = []TxInput{{TxID: "prev"}}
	if err := zeroOutput.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("zero-value output with input error = %v", err)
	}

	shielded := Transaction{ID: "s1", Shielded: true, ZKProof: "p", Nullifier: "n", Commitment: "c"}
	if err := shielded.Validate(); err != nil {
		t.Errorf("valid shielded rejected: %v", err)
	}
	shielded.Amount = 5
	if err := shielded.Validate(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("shielded with visible amount error = %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tx := transferTx("t1", Coins(1))
	c := tx.Clone()
	c.Outputs[0].Amount = 0
	c.Inputs[0].TxID = "changed"
	if tx.Outputs[0].Amount != Coins(1) || tx.Inputs[0].TxID != "prev" {
		t.Fatal("mutating a clone changed the original")
	}
}

func TestCoinbase(t *testing.T) {
	cb := NewCoinbase("zolMiner", Coins(50), 1)
	if !cb.IsCoinbase() {
		t.Fatal("coinbase not recognised")
	}
	if err := cb.Validate(); err != nil {
		t.Fatalf("coinbase invalid: %v", err)
	}
	if transferTx("t", 1).IsCoinbase() {
		t.Fatal("transfer recognised as coinbase")
	}
}

func TestEmptyBlockMerkleRoot(t *testing.T) {
	g := NewGenesis(1000, 4)
	if g.MerkleRoot != merkle.EmptyRoot {
		t.Fatalf("genesis merkle root = %s, want %s", g.MerkleRoot, merkle.EmptyRoot)
	}
	if g.PreviousHash != GenesisPreviousHash || g.Index != 0 || g.Nonce != 0 {
		t.Fatalf("unexpected genesis header: %+v", g)
	}
	if g.Hash != g.CalculateHash() {
		t.Fatal("genesis hash is stale")
	}
}

func TestNewBlockRequiresProvenance(t *testing.T) {
	if _, err := NewBlock(1, 1, nil, "x", nil); !errors.Is(err, ErrMissingProvenance) {
		t.Fatalf("expected ErrMissingProvenance, got %v", err)
	}
}

func TestHashCoversHeaderFields(t *testing.T) {
	b, err := NewBlock(1, 1000, []Transaction{transferTx("t1", Coins(1))}, "prev", ProofOfWork{Difficulty: 1})
	if err != nil {
		t.Fatal(err)
	}
	orig := b.Hash

	b.Nonce++
	if b.CalculateHash() == orig {
		t.Error("nonce change did not change hash")
	}
	b.Nonce--

	b.Provenance = ProofOfStake{Validator: "v"}
	if b.CalculateHash() == orig {
		t.Error("provenance change did not change hash")
	}
	b.Provenance = ProofOfWork{Difficulty: 1}

	b.Transactions[0].Amount = Coins(2)
	root, err := b.CalculateMerkleRoot()
	if err != nil {
		t.Fatal(err)
	}
	if root == b.MerkleRoot {
		t.Error("transaction change did not change merkle root")
	}
	if b.CalculateHash() != orig {
		t.Error("hash should stay stale until merkle root is recomputed")
	}
}

func TestMineMeetsDifficulty(t *testing.T) {
	for d := 0; d <= 3; d++ {
		b, err := NewBlock(1, time.Now().UnixMilli(), []Transaction{transferTx("t", 1)}, "prev", ProofOfWork{Difficulty: d})
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Mine(context.Background(), d); err != nil {
			t.Fatalf("Mine(%d): %v", d, err)
		}
		if !strings.HasPrefix(b.Hash, strings.Repeat("0", d)) {
			t.Fatalf("hash %s does not meet difficulty %d", b.Hash, d)
		}
		if b.Hash != b.CalculateHash() {
			t.Fatal("mined hash is stale")
		}
	}
}

func TestMineCancellation(t *testing.T) {
	b, err := NewBlock(1, 1, nil, "prev", ProofOfWork{Difficulty: MaxDifficulty})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Mine(ctx, MaxDifficulty); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := b.Mine(context.Background(), MaxDifficulty+1); !errors.Is(err, ErrDifficultyRange) {
		t.Fatalf("expected ErrDifficultyRange, got %v", err)
	}
}

func TestBlockJSONKeepsProvenance(t *testing.T) {
	b, err := NewBlock(3, 5, []Transaction{transferTx("t", 1)}, "prev", ProofOfStake{Validator: "zolVal"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Block
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if v, ok := decoded.Validator(); !ok || v != "zolVal" {
		t.Fatalf("validator lost in round trip: %v %v", v, ok)
	}
	if decoded.CalculateHash() != b.Hash {
		t.Fatal("decoded block hashes differently")
	}

	if err := json.Unmarshal([]byte(`{"index":1,"hash":"x"}`), &decoded); !errors.Is(err, ErrMissingProvenance) {
		t.Fatalf("expected ErrMissingProvenance, got %v", err)
	}
}

func TestTxStatsAndSize(t *testing.T) {
	txs := []Transaction{
		transferTx("a", 1),
		{ID: "s", Shielded: true, ZKProof: "p", Nullifier: "n", Commitment: "c"},
	}
	b, err := NewBlock(1, 1, txs, "prev", ProofOfWork{Difficulty: 1})
	if err != nil {
		t.Fatal(err)
	}
	sh, tr := b.TxStats()
	if sh != 1 || tr != 1 {
		t.Fatalf("TxStats = %d/%d, want 1/1", sh, tr)
	}
	empty := NewGenesis(1, 1)
	if b.Size() <= empty.Size() {
		t.Fatalf("block with transactions (%d bytes) not larger than empty block (%d)", b.Size(), empty.Size())
	}
}
