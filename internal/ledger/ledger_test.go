package ledger

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"zolana/internal/chain"
	"zolana/internal/clock"
	"zolana/internal/consensus"
	"zolana/internal/shielded"
	"zolana/internal/wallet"
)

func newTestLedger(t *testing.T, mutate func(*Params)) (*Ledger, *clock.Simulated) {
	t.Helper()
	params := DefaultParams()
	params.Difficulty = 1
	if mutate != nil {
		mutate(&params)
	}
	clk := clock.NewSimulated(time.Unix(1_700_000_000, 0), time.Second)
	var seed [32]byte
	copy(seed[:], "ledger test validator selection")
	l, err := New(params, WithClock(clk), WithRandom(rand.NewChaCha8(seed)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clk
}

func mine(t *testing.T, l *Ledger, miner string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := l.MineBlock(context.Background(), miner); err != nil {
			t.Fatalf("MineBlock: %v", err)
		}
	}
}

func TestGenesis(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	if l.Height() != 0 {
		t.Fatalf("fresh height = %d", l.Height())
	}
	g := l.LatestBlock()
	if g.PreviousHash != chain.GenesisPreviousHash || g.Nonce != 0 || len(g.Transactions) != 0 {
		t.Fatalf("unexpected genesis %+v", g)
	}
	if !l.IsChainValid() {
		t.Fatal("fresh chain is invalid")
	}
}

func TestMiningRewardsArriveInNextBlock(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	mine(t, l, "alice", 1)
	if l.Balance("alice") != 0 {
		t.Fatalf("reward confirmed too early: %s", l.Balance("alice"))
	}
	pending := l.PendingTransactions()
	if len(pending) != 1 || !pending[0].IsCoinbase() || pending[0].Amount != chain.Coins(50) {
		t.Fatalf("pending after first block = %+v", pending)
	}

	mine(t, l, "alice", 1)
	if l.Balance("alice") != chain.Coins(50) {
		t.Fatalf("balance = %s, want 50", l.Balance("alice"))
	}
	if l.Height() != 2 || !l.IsChainValid() {
		t.Fatalf("height %d valid %v", l.Height(), l.IsChainValid())
	}
}

var (
	alice = wallet.FromSeed("alice")
	bob   = wallet.FromSeed("bob")
	eve   = wallet.FromSeed("eve")
)

func TestTransferEndToEnd(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, alice.Address(), 4)
	if l.Balance(alice.Address()) != chain.Coins(150) {
		t.Fatalf("funded balance = %s", l.Balance(alice.Address()))
	}

	fee := l.Params().DefaultFee
	tx, err := l.BuildSignedTransaction(alice, bob.Address(), chain.Coins(100), fee)
	if err != nil {
		t.Fatalf("BuildSignedTransaction: %v", err)
	}
	if err := l.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if !l.HasPendingTransaction(tx.ID) {
		t.Fatal("transfer not pending")
	}
	mine(t, l, "miner", 1)

	if got := l.Balance(bob.Address()); got != chain.Coins(100) {
		t.Fatalf("bob = %s, want 100", got)
	}
	// 150 funded, plus the reward pending from alice's last block, minus the
	// transfer and its fee.
	want := chain.Coins(200) - chain.Coins(100) - fee
	if got := l.Balance(alice.Address()); got != want {
		t.Fatalf("alice = %s, want %s", got, want)
	}
	if l.HasPendingTransaction(tx.ID) {
		t.Fatal("confirmed transfer still pending")
	}

	stats := l.Stats()
	total := l.Balance(alice.Address()) + l.Balance(bob.Address()) + l.Balance("miner")
	if stats.CirculatingSupply != total {
		t.Fatalf("supply %s != sum of balances %s", stats.CirculatingSupply, total)
	}
	if stats.CirculatingSupply != chain.Coins(200)-fee {
		t.Fatalf("supply %s, fees must be burned", stats.CirculatingSupply)
	}
}

func TestBuildSignedTransaction(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, alice.Address(), 2)

	funds := l.UTXOs(alice.Address())
	tx, err := l.BuildSignedTransaction(alice, bob.Address(), chain.Coins(20), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Inputs) != 1 || tx.From != alice.Address() {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if !wallet.VerifySignature(alice.Address(), InputPayload(tx.ID, funds[0]), tx.Inputs[0].Signature) {
		t.Fatal("input signature does not verify")
	}
	if err := l.AddTransaction(tx); err != nil {
		t.Fatal(err)
	}
}

func TestBuildTransactionInsufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	if _, err := l.BuildTransaction("nobody", bob.Address(), chain.Coins(1), 0); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestTransparentAdmission(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, alice.Address(), 3)

	missing := chain.Transaction{
		ID:      chain.NewTransactionID(),
		From:    alice.Address(),
		To:      bob.Address(),
		Amount:  chain.Coins(1),
		Inputs:  []chain.TxInput{{TxID: "no-such-tx", OutputIndex: 0}},
		Outputs: []chain.TxOutput{{Address: bob.Address(), Amount: chain.Coins(1)}},
	}
	if err := l.AddTransaction(missing); !errors.Is(err, ErrUnspentInputMissing) {
		t.Fatalf("missing input err = %v", err)
	}

	if err := l.AddTransaction(chain.NewCoinbase("mallory", chain.Coins(1000), 1)); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("coinbase admission err = %v", err)
	}

	first, err := l.BuildSignedTransaction(alice, bob.Address(), chain.Coins(10), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AddTransaction(first); err != nil {
		t.Fatal(err)
	}
	if err := l.AddTransaction(first); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("resubmission err = %v", err)
	}

	conflict := first.Clone()
	conflict.ID = chain.NewTransactionID()
	conflict.Outputs[0].Address = "mallory"
	if err := l.AddTransaction(conflict); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("pending double spend err = %v", err)
	}

	// Coin selection skips the output reserved by the pending transfer.
	second, err := l.BuildSignedTransaction(alice, "carol", chain.Coins(10), 0)
	if err != nil {
		t.Fatal(err)
	}
	if second.Inputs[0].TxID == first.Inputs[0].TxID {
		t.Fatal("BuildSignedTransaction reused a reserved output")
	}

	mine(t, l, "miner", 1)
	replay := first.Clone()
	replay.ID = chain.NewTransactionID()
	if err := l.AddTransaction(replay); !errors.Is(err, ErrUnspentInputMissing) {
		t.Fatalf("spent input err = %v", err)
	}
}

func TestSpendRequiresOwnerSignature(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, alice.Address(), 2)
	funds := l.UTXOs(alice.Address())
	if len(funds) != 1 {
		t.Fatalf("alice has %d outputs, want 1", len(funds))
	}
	out := funds[0]

	steal := func(sign func(id string) string) chain.Transaction {
		id := chain.NewTransactionID()
		return chain.Transaction{
			ID:      id,
			From:    alice.Address(),
			To:      eve.Address(),
			Amount:  out.Amount,
			Inputs:  []chain.TxInput{{TxID: out.TxID, OutputIndex: out.Index, Signature: sign(id)}},
			Outputs: []chain.TxOutput{{Address: eve.Address(), Amount: out.Amount}},
		}
	}

	tests := []struct {
		name string
		sign func(id string) string
	}{
		{"garbage", func(string) string { return "forged" }},
		{"unsigned", func(string) string { return "" }},
		{"signed by thief", func(id string) string { return eve.Sign(InputPayload(id, out)) }},
		{"owner signature for another transaction", func(string) string {
			return alice.Sign(InputPayload(chain.NewTransactionID(), out))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.AddTransaction(steal(tt.sign)); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}

	unsigned, err := l.BuildTransaction(alice.Address(), eve.Address(), chain.Coins(1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AddTransaction(unsigned); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("unsigned build err = %v", err)
	}

	if l.MempoolSize() != 1 {
		t.Fatalf("mempool holds %d transactions, want only the pending reward", l.MempoolSize())
	}
	mine(t, l, "miner", 1)
	if got := l.Balance(eve.Address()); got != 0 {
		t.Fatalf("eve = %s, want 0", got)
	}
	if got := l.Balance(alice.Address()); got != chain.Coins(100) {
		t.Fatalf("alice = %s, want 100", got)
	}
}

type allowList map[string]bool

func (a allowList) VerifySignature(address string, _ []byte, signature string) bool {
	return a[address+"/"+signature]
}

func TestWithVerifier(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	WithVerifier(allowList{"alice/ok": true})(l)
	mine(t, l, "alice", 2)

	tx, err := l.BuildTransaction("alice", "bob", chain.Coins(1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AddTransaction(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("unsigned err = %v", err)
	}
	tx.Inputs[0].Signature = "ok"
	if err := l.AddTransaction(tx); err != nil {
		t.Fatalf("accepted signature rejected: %v", err)
	}
}

func TestRejectsSpendWithoutInputs(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	junk := chain.Transaction{
		ID:      chain.NewTransactionID(),
		From:    eve.Address(),
		To:      eve.Address(),
		Outputs: []chain.TxOutput{{Address: eve.Address()}},
	}
	if err := l.AddTransaction(junk); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("err = %v, want ErrMalformedTransaction", err)
	}
	if l.MempoolSize() != 0 {
		t.Fatalf("junk transaction admitted, mempool size %d", l.MempoolSize())
	}
}

func TestAdmissionCopiesTransaction(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, alice.Address(), 2)
	tx, err := l.BuildSignedTransaction(alice, bob.Address(), chain.Coins(5), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AddTransaction(tx); err != nil {
		t.Fatal(err)
	}
	tx.Outputs[0].Amount = chain.Coins(49)

	for _, p := range l.PendingTransactions() {
		if p.ID == tx.ID && p.Outputs[0].Amount != chain.Coins(5) {
			t.Fatal("caller mutation reached the mempool")
		}
	}
	view := l.PendingTransactions()
	view[0].Fee = chain.Coins(1)
	if l.PendingTransactions()[0].Fee == chain.Coins(1) {
		t.Fatal("pending view aliases mempool state")
	}
}

func TestShieldedDoubleSpend(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	key := []byte("alice spending key")

	first, err := l.BuildShieldedTransaction("alice", "bob", chain.Coins(5), key, 0)
	if err != nil {
		t.Fatalf("BuildShieldedTransaction: %v", err)
	}
	if first.Amount != 0 || first.From == "alice" || first.To == "bob" {
		t.Fatalf("shielded transaction leaks details: %+v", first)
	}
	if err := l.AddTransaction(first); err != nil {
		t.Fatalf("first shielded spend: %v", err)
	}

	prover := shielded.NewMiMC()
	note, r := shielded.NewNote(prover, chain.Coins(3), "carol", "")
	proof, err := prover.GenerateProof(shielded.Statement{
		Value:      chain.Coins(3),
		Sender:     "alice",
		Recipient:  "carol",
		Randomness: r,
		Commitment: note.Commitment,
		Nullifier:  first.Nullifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	second := chain.Transaction{
		ID:         chain.NewTransactionID(),
		From:       shielded.HideAddress("alice"),
		To:         shielded.HideAddress("carol"),
		Timestamp:  1,
		Shielded:   true,
		ZKProof:    proof,
		Nullifier:  first.Nullifier,
		Commitment: note.Commitment,
	}
	if err := l.AddTransaction(second); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("pending nullifier reuse err = %v", err)
	}

	mine(t, l, "miner", 1)
	if err := l.AddTransaction(second); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("confirmed nullifier reuse err = %v", err)
	}

	stats := l.ShieldedPoolStats()
	if stats.Notes != 1 || stats.Nullifiers != 1 || stats.DisclosedValue != 0 {
		t.Fatalf("shielded stats = %+v", stats)
	}
	notes := l.ShieldedNotesFor(shielded.ViewingKey(key))
	if len(notes) != 1 || notes[0].Value != chain.Coins(5) || notes[0].Recipient != "bob" {
		t.Fatalf("decrypted notes = %+v", notes)
	}
	if other := l.ShieldedNotesFor(shielded.ViewingKey([]byte("someone else"))); len(other) != 0 {
		t.Fatalf("foreign viewing key opened %d notes", len(other))
	}
}

func TestShieldedInvalidProof(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	tx, err := l.BuildShieldedTransaction("alice", "bob", chain.Coins(1), []byte("k"), 0)
	if err != nil {
		t.Fatal(err)
	}

	garbage := tx
	garbage.ID = chain.NewTransactionID()
	garbage.ZKProof = "not base64 at all!"
	if err := l.AddTransaction(garbage); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("undecodable proof err = %v", err)
	}

	unbound := tx
	unbound.ID = chain.NewTransactionID()
	unbound.Nullifier = shielded.Nullifier(tx.Commitment, []byte("other key"))
	if err := l.AddTransaction(unbound); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("proof for another nullifier err = %v", err)
	}
	if l.MempoolSize() != 0 {
		t.Fatalf("rejected transactions admitted: %d", l.MempoolSize())
	}
}

func TestRetargetOnlyAtInterval(t *testing.T) {
	l, clk := newTestLedger(t, func(p *Params) { p.Difficulty = 2 })
	clk.SetStep(time.Millisecond)

	mine(t, l, "m", 8)
	if l.Difficulty() != 2 {
		t.Fatalf("difficulty changed before the interval: %d", l.Difficulty())
	}
	mine(t, l, "m", 1) // chain length 10
	if l.Difficulty() != 3 {
		t.Fatalf("fast blocks: difficulty = %d, want 3", l.Difficulty())
	}

	clk.SetStep(time.Minute)
	mine(t, l, "m", 10) // chain length 20
	if l.Difficulty() != 2 {
		t.Fatalf("slow blocks: difficulty = %d, want 2", l.Difficulty())
	}
	if !l.IsChainValid() {
		t.Fatal("chain invalid after retargeting")
	}
}

func TestRetargetFloor(t *testing.T) {
	l, clk := newTestLedger(t, nil)
	clk.SetStep(time.Minute)
	mine(t, l, "m", 19)
	if l.Difficulty() != 1 {
		t.Fatalf("difficulty = %d, want floor of 1", l.Difficulty())
	}
}

func TestRewardHalving(t *testing.T) {
	l, _ := newTestLedger(t, func(p *Params) { p.HalvingInterval = 2 })
	want := []chain.Amount{chain.Coins(50), chain.Coins(25), chain.Coins(25), chain.Coins(25) / 2}
	for i, w := range want {
		mine(t, l, "m", 1)
		var reward chain.Amount
		for _, tx := range l.PendingTransactions() {
			if tx.IsCoinbase() {
				reward = tx.Amount
			}
		}
		if reward != w {
			t.Fatalf("block %d reward = %s, want %s", i+1, reward, w)
		}
	}
}

func TestProofOfStake(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	min := l.Params().Staking.MinStake

	if err := l.RegisterValidator("v1", min-1); !errors.Is(err, consensus.ErrStakeBelowMinimum) {
		t.Fatalf("below minimum err = %v", err)
	}
	if _, err := l.ValidateBlock("v1"); !errors.Is(err, ErrValidatorIneligible) {
		t.Fatalf("unregistered validator err = %v", err)
	}
	if err := l.RegisterValidator("v1", min); err != nil {
		t.Fatal(err)
	}

	b, err := l.ValidateBlock("v1")
	if err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
	if v, ok := b.Validator(); !ok || v != "v1" || b.Index != 1 {
		t.Fatalf("unexpected block %+v", b)
	}
	if l.TotalStake() != min+chain.Coins(50) {
		t.Fatalf("stake after reward = %s", l.TotalStake())
	}

	if err := l.RegisterValidator("v2", min*2); err != nil {
		t.Fatal(err)
	}
	mismatches := 0
	for i := 0; i < 40; i++ {
		height := l.Height()
		_, err := l.ValidateBlock("v1")
		switch {
		case errors.Is(err, ErrValidatorMismatch):
			mismatches++
			if l.Height() != height {
				t.Fatal("mismatch changed the chain")
			}
		case err != nil:
			t.Fatalf("ValidateBlock: %v", err)
		}
	}
	if mismatches == 0 {
		t.Fatal("v2 was never selected")
	}
	if !l.IsChainValid() {
		t.Fatal("chain invalid after PoS blocks")
	}
	if l.Stats().PoSBlocks != int(l.Height()) {
		t.Fatalf("stats = %+v", l.Stats())
	}
}

func TestSlashValidator(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	min := l.Params().Staking.MinStake
	if err := l.RegisterValidator("v", min); err != nil {
		t.Fatal(err)
	}
	removed, err := l.SlashValidator("v")
	if err != nil || !removed {
		t.Fatalf("SlashValidator = %v, %v", removed, err)
	}
	if len(l.Validators()) != 0 {
		t.Fatal("validator below minimum kept")
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, "m", 3)
	if err := l.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}

	l.mu.Lock()
	l.blocks[2].Timestamp++
	l.mu.Unlock()

	var integrity *ChainIntegrityError
	if err := l.VerifyChain(); !errors.As(err, &integrity) || integrity.Index != 2 {
		t.Fatalf("VerifyChain = %v", err)
	}
	if l.IsChainValid() {
		t.Fatal("tampered chain reported valid")
	}

	// Rehashing the tampered block breaks the link to its successor instead.
	l.mu.Lock()
	l.blocks[2].Hash = l.blocks[2].CalculateHash()
	l.mu.Unlock()
	if err := l.VerifyChain(); !errors.As(err, &integrity) || integrity.Index < 2 {
		t.Fatalf("VerifyChain after rehash = %v", err)
	}
}

func TestOnBlockReceivesCopy(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	var got []chain.Block
	l.OnBlock(func(b chain.Block) {
		b.Hash = "mutated"
		got = append(got, b)
	})

	b, err := l.MineBlock(context.Background(), "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Index != b.Index {
		t.Fatalf("listener saw %d blocks", len(got))
	}
	if l.LatestBlock().Hash != b.Hash {
		t.Fatal("listener mutated the chain")
	}
}

func TestMineBlockCancellation(t *testing.T) {
	l, _ := newTestLedger(t, func(p *Params) { p.Difficulty = 12 })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.MineBlock(ctx, "m"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if l.Height() != 0 || l.MempoolSize() != 0 {
		t.Fatalf("cancelled mining changed state: height %d mempool %d", l.Height(), l.MempoolSize())
	}
}

func TestBlockLookup(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	mine(t, l, "m", 2)

	b, err := l.Block(1)
	if err != nil || b.Index != 1 {
		t.Fatalf("Block(1) = %+v, %v", b, err)
	}
	if _, err := l.Block(3); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("Block(3) err = %v", err)
	}
	if n := len(l.Blocks()); n != 3 {
		t.Fatalf("Blocks() returned %d", n)
	}
	ns := l.NetworkStats()
	if ns.Difficulty != 1 || ns.AverageBlockTime <= 0 || ns.HashRate <= 0 {
		t.Fatalf("network stats = %+v", ns)
	}
}
