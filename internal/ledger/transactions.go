// transactions.go - Transaction construction and admission.

package ledger

import (
	"errors"
	"fmt"
	"strconv"

	"zolana/internal/chain"
	"zolana/internal/metrics"
	"zolana/internal/shielded"
	"zolana/internal/utxo"
)

// Signer is the wallet capability used to sign transaction inputs.
type Signer interface {
	Address() string
	Sign(data []byte) string
}

// Verifier checks that signature over data was made by the key behind address.
type Verifier interface {
	VerifySignature(address string, data []byte, signature string) bool
}

// BuildTransaction spends from's unspent outputs, in the order they were
// created, until amount+fee is covered. Outputs already spent by a pending
// transaction are skipped. Any surplus returns to from as change. The inputs
// are left unsigned; admission rejects them until each carries a signature
// over InputPayload.
func (l *Ledger) BuildTransaction(from, to string, amount, fee chain.Amount) (chain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buildTransactionLocked(from, to, amount, fee, nil)
}

// BuildSignedTransaction is BuildTransaction with every input signed by w.
func (l *Ledger) BuildSignedTransaction(w Signer, to string, amount, fee chain.Amount) (chain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buildTransactionLocked(w.Address(), to, amount, fee, w)
}

func (l *Ledger) buildTransactionLocked(from, to string, amount, fee chain.Amount, signer Signer) (chain.Transaction, error) {
	if amount == 0 {
		return chain.Transaction{}, fmt.Errorf("%w: amount must be positive", ErrMalformedTransaction)
	}
	need, err := amount.Add(fee)
	if err != nil {
		return chain.Transaction{}, err
	}

	var (
		selected []utxo.Output
		total    chain.Amount
	)
	for _, out := range l.utxos.Unspent(from) {
		if l.mempool.Reserves(out.TxID, out.Index) {
			continue
		}
		selected = append(selected, out)
		total += out.Amount
		if total >= need {
			break
		}
	}
	if total < need {
		return chain.Transaction{}, fmt.Errorf("%w: %s can spend %s, needs %s", ErrInsufficientFunds, from, total, need)
	}

	tx := chain.Transaction{
		ID:        chain.NewTransactionID(),
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: l.now(),
		Fee:       fee,
		Outputs:   []chain.TxOutput{{Address: to, Amount: amount}},
	}
	if change := total - need; change > 0 {
		tx.Outputs = append(tx.Outputs, chain.TxOutput{Address: from, Amount: change})
	}
	for _, out := range selected {
		in := chain.TxInput{TxID: out.TxID, OutputIndex: out.Index}
		if signer != nil {
			in.Signature = signer.Sign(InputPayload(tx.ID, out))
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	return tx, nil
}

// InputPayload is the message the owner of out signs to spend it in
// transaction txID.
func InputPayload(txID string, out utxo.Output) []byte {
	return []byte(txID + "|" + out.TxID + ":" + strconv.Itoa(out.Index) + "|" + out.Address)
}

// BuildShieldedTransaction creates a confidential transfer. The result carries
// no visible amount; its commitment, nullifier, proofs and encrypted note come
// from the privacy collaborator. The note is encrypted under the viewing key
// derived from privateKey.
func (l *Ledger) BuildShieldedTransaction(from, to string, amount chain.Amount, privateKey []byte, fee chain.Amount) (chain.Transaction, error) {
	if len(privateKey) == 0 {
		return chain.Transaction{}, errors.New("build shielded transaction: private key is required")
	}
	note, randomness := shielded.NewNote(l.prover, amount, to, "")
	nullifier := l.prover.GenerateNullifier(note.Commitment, privateKey)

	proof, err := l.prover.GenerateProof(shielded.Statement{
		Value:      amount,
		Sender:     from,
		Recipient:  to,
		Randomness: randomness,
		Commitment: note.Commitment,
		Nullifier:  nullifier,
	})
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("build shielded transaction: %w", err)
	}
	rangeProof, err := l.prover.GenerateRangeProof(amount, note.Commitment)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("build shielded transaction: %w", err)
	}
	encrypted, err := l.prover.EncryptNote(shielded.NotePlaintext{Value: amount, Recipient: to}, shielded.ViewingKey(privateKey))
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("build shielded transaction: %w", err)
	}

	return chain.Transaction{
		ID:            chain.NewTransactionID(),
		From:          shielded.HideAddress(from),
		To:            shielded.HideAddress(to),
		Timestamp:     l.now(),
		Fee:           fee,
		Shielded:      true,
		ZKProof:       proof,
		Nullifier:     nullifier,
		Commitment:    note.Commitment,
		RangeProof:    rangeProof,
		EncryptedNote: encrypted,
	}, nil
}

// AddTransaction validates tx against the current state and admits a copy to
// the mempool.
func (l *Ledger) AddTransaction(tx chain.Transaction) error {
	l.mu.Lock()
	err := l.admitLocked(tx)
	size := l.mempool.Size()
	l.mu.Unlock()

	if err != nil {
		l.metrics.RecordTxRejected(rejectReason(err))
		l.log.Debug().Err(err).Str("tx", tx.ID).Bool("shielded", tx.Shielded).Msg("transaction rejected")
		return err
	}
	l.metrics.RecordTxAdmitted(tx.Shielded)
	l.metrics.SetGauge(metrics.MetricMempoolSize, float64(size), nil)
	l.log.Debug().Str("tx", tx.ID).Bool("shielded", tx.Shielded).Stringer("fee", tx.Fee).Msg("transaction admitted")
	return nil
}

func (l *Ledger) admitLocked(tx chain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if tx.Shielded {
		if err := l.checkShieldedLocked(tx); err != nil {
			return err
		}
	} else if err := l.checkTransparentLocked(tx); err != nil {
		return err
	}
	return l.mempool.Add(tx)
}

func (l *Ledger) checkShieldedLocked(tx chain.Transaction) error {
	if !l.prover.VerifyProof(tx.ZKProof) {
		return fmt.Errorf("%w: transaction %s", ErrInvalidProof, tx.ID)
	}
	if b, ok := l.prover.(shielded.Binder); ok && !b.ProofBinds(tx.ZKProof, tx.Commitment, tx.Nullifier) {
		return fmt.Errorf("%w: transaction %s proof is for another commitment or nullifier", ErrInvalidProof, tx.ID)
	}
	if tx.RangeProof != "" && !l.prover.VerifyRangeProof(tx.RangeProof) {
		return fmt.Errorf("%w: transaction %s range proof", ErrInvalidProof, tx.ID)
	}
	if l.nullifierUsedLocked(tx.Nullifier) {
		return fmt.Errorf("%w: nullifier %s already spent", ErrDoubleSpend, tx.Nullifier)
	}
	if l.mempool.HasNullifier(tx.Nullifier) {
		return fmt.Errorf("%w: nullifier %s already pending", ErrDoubleSpend, tx.Nullifier)
	}
	if l.shieldedPool.HasCommitment(tx.Commitment) {
		return fmt.Errorf("%w: commitment %s already in the shielded pool", ErrDoubleSpend, tx.Commitment)
	}
	return nil
}

func (l *Ledger) nullifierUsedLocked(nf string) bool {
	if _, used := l.usedNullifiers[nf]; used {
		return true
	}
	return l.shieldedPool.HasNullifier(nf)
}

func (l *Ledger) checkTransparentLocked(tx chain.Transaction) error {
	if tx.IsCoinbase() {
		return fmt.Errorf("%w: coinbase transactions are minted by the ledger", ErrMalformedTransaction)
	}
	var inputs chain.Amount
	for _, in := range tx.Inputs {
		out, ok := l.utxos.Get(in.TxID, in.OutputIndex)
		if !ok || out.Spent {
			return fmt.Errorf("%w: %s:%d", ErrUnspentInputMissing, in.TxID, in.OutputIndex)
		}
		if out.Address != tx.From {
			return fmt.Errorf("%w: input %s:%d is not owned by %s", ErrMalformedTransaction, in.TxID, in.OutputIndex, tx.From)
		}
		if l.mempool.Reserves(in.TxID, in.OutputIndex) {
			return fmt.Errorf("%w: %s:%d already spent by a pending transaction", ErrDoubleSpend, in.TxID, in.OutputIndex)
		}
		if !l.verifier.VerifySignature(out.Address, InputPayload(tx.ID, out), in.Signature) {
			return fmt.Errorf("%w: %s:%d is not signed by %s", ErrInvalidSignature, in.TxID, in.OutputIndex, out.Address)
		}
		var err error
		if inputs, err = inputs.Add(out.Amount); err != nil {
			return err
		}
	}
	outputs, err := tx.OutputTotal()
	if err != nil {
		return err
	}
	need, err := outputs.Add(tx.Fee)
	if err != nil {
		return err
	}
	if inputs < need {
		return fmt.Errorf("%w: inputs %s do not cover outputs plus fee %s", ErrInsufficientFunds, inputs, need)
	}
	return nil
}
