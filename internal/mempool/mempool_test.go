package mempool

import (
	"errors"
	"fmt"
	"testing"

	"zolana/internal/chain"
)

func tx(id string, fee chain.Amount) chain.Transaction {
	return chain.Transaction{
		ID:      id,
		From:    "alice",
		To:      "bob",
		Amount:  1,
		Fee:     fee,
		Inputs:  []chain.TxInput{{TxID: "src-" + id, OutputIndex: 0}},
		Outputs: []chain.TxOutput{{Address: "bob", Amount: 1}},
	}
}

func TestAddRejectsDuplicateAndFull(t *testing.T) {
	m := New(Config{MaxSize: 2})
	if err := m.Add(tx("a", 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(tx("a", 99)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate error = %v", err)
	}
	if got, _ := m.Get("a"); got.Fee != 1 {
		t.Fatal("duplicate submission replaced the pending transaction")
	}
	if err := m.Add(tx("b", 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(tx("c", 1)); !errors.Is(err, ErrFull) {
		t.Fatalf("full error = %v", err)
	}
	if m.Size() != 2 {
		t.Fatalf("Size = %d, want 2", m.Size())
	}
}

func TestByFeeStableOrder(t *testing.T) {
	m := New(DefaultConfig())
	fees := []struct {
		id  string
		fee chain.Amount
	}{{"a", 5}, {"b", 10}, {"c", 5}, {"d", 0}, {"e", 10}}
	for _, f := range fees {
		if err := m.Add(tx(f.id, f.fee)); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"b", "e", "a", "c", "d"}
	got := m.ByFee(0)
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("ByFee[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	if top := m.ByFee(2); len(top) != 2 || top[0].ID != "b" || top[1].ID != "e" {
		t.Fatalf("ByFee(2) = %v", top)
	}
}

func TestRemoveManyIgnoresUnknown(t *testing.T) {
	m := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		if err := m.Add(tx(fmt.Sprintf("t%d", i), 1)); err != nil {
			t.Fatal(err)
		}
	}
	m.RemoveMany([]string{"t1", "t3", "missing"})
	if m.Size() != 3 || m.Has("t1") || !m.Has("t2") {
		t.Fatalf("unexpected pool after RemoveMany: size %d", m.Size())
	}
	if m.Reserves("src-t1", 0) {
		t.Fatal("reservation of removed transaction kept")
	}
	if !m.Reserves("src-t2", 0) {
		t.Fatal("reservation of pending transaction lost")
	}
}

func TestNullifierIndex(t *testing.T) {
	m := New(DefaultConfig())
	s := chain.Transaction{ID: "s", Shielded: true, Nullifier: "nf", Commitment: "cm", ZKProof: "p"}
	if err := m.Add(s); err != nil {
		t.Fatal(err)
	}
	if !m.HasNullifier("nf") {
		t.Fatal("pending nullifier not indexed")
	}
	m.RemoveMany([]string{"s"})
	if m.HasNullifier("nf") {
		t.Fatal("nullifier index not cleared on removal")
	}
}

func TestStoredCopyIsIsolated(t *testing.T) {
	m := New(DefaultConfig())
	orig := tx("a", 1)
	if err := m.Add(orig); err != nil {
		t.Fatal(err)
	}
	orig.Outputs[0].Amount = 1000
	got, _ := m.Get("a")
	if got.Outputs[0].Amount != 1 {
		t.Fatal("caller mutation leaked into the mempool")
	}
	got.Outputs[0].Amount = 2000
	again, _ := m.Get("a")
	if again.Outputs[0].Amount != 1 {
		t.Fatal("mutation of a returned copy leaked into the mempool")
	}
}

func TestStats(t *testing.T) {
	m := New(Config{MaxSize: 10})
	for i, fee := range []chain.Amount{2, 4, 6} {
		if err := m.Add(tx(fmt.Sprint(i), fee)); err != nil {
			t.Fatal(err)
		}
	}
	s := m.Stats()
	if s.Count != 3 || s.MinFee != 2 || s.MaxFee != 6 || s.TotalFees != 12 || s.AvgFee != 4 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.Utilization != 0.3 {
		t.Fatalf("Utilization = %v, want 0.3", s.Utilization)
	}
}
