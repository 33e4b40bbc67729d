// transaction.go - Transparent and shielded transaction shapes.
//
// A Transaction is a value type. The mempool and blocks store their own copies,
// so a caller holding a Transaction can never change one that was admitted.

package chain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NetworkAddress is the sender of coinbase (reward) transactions.
const NetworkAddress = "network"

// ErrMalformedTransaction is returned for transactions whose fields mix the
// transparent and shielded shapes or are otherwise inconsistent.
var ErrMalformedTransaction = errors.New("malformed transaction")

// TxInput references a previous output by transaction id and position.
type TxInput struct {
	TxID        string `json:"txId"`
	OutputIndex int    `json:"outputIndex"`
	Signature   string `json:"signature"`
}

// TxOutput assigns value to an address.
type TxOutput struct {
	Address  string `json:"address"`
	Amount   Amount `json:"amount"`
	Shielded bool   `json:"shielded,omitempty"`
}

// Transaction is either fully transparent (Inputs/Outputs) or fully shielded
// (proof fields populated, Amount zero).
type Transaction struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    Amount `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Fee       Amount `json:"fee,omitempty"`
	Shielded  bool   `json:"shielded"`

	Inputs  []TxInput  `json:"inputs,omitempty"`
	Outputs []TxOutput `json:"outputs,omitempty"`

	ZKProof       string `json:"zkProof,omitempty"`
	Nullifier     string `json:"nullifier,omitempty"`
	Commitment    string `json:"commitment,omitempty"`
	RangeProof    string `json:"rangeProof,omitempty"`
	EncryptedNote string `json:"encryptedNote,omitempty"`
}

// NewTransactionID returns a fresh unique transaction id.
func NewTransactionID() string {
	return uuid.NewString()
}

// NewCoinbase builds the reward transaction paying amount to miner.
func NewCoinbase(miner string, amount Amount, timestamp int64) Transaction {
	return Transaction{
		ID:        NewTransactionID(),
		From:      NetworkAddress,
		To:        miner,
		Amount:    amount,
		Timestamp: timestamp,
		Outputs:   []TxOutput{{Address: miner, Amount: amount}},
	}
}

// IsCoinbase reports whether tx mints new value.
func (tx Transaction) IsCoinbase() bool {
	return !tx.Shielded && tx.From == NetworkAddress && len(tx.Inputs) == 0
}

// OutputTotal sums the declared outputs.
func (tx Transaction) OutputTotal() (Amount, error) {
	amounts := make([]Amount, len(tx.Outputs))
	for i, out := range tx.Outputs {
		amounts[i] = out.Amount
	}
	return Sum(amounts...)
}

// Validate checks the structural shape of the transaction. It does not look at
// any ledger state.
func (tx Transaction) Validate() error {
	if tx.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedTransaction)
	}
	hasProofFields := tx.ZKProof != "" || tx.Nullifier != "" || tx.Commitment != "" ||
		tx.RangeProof != "" || tx.EncryptedNote != ""
	if tx.Shielded {
		if len(tx.Inputs) > 0 || len(tx.Outputs) > 0 {
			return fmt.Errorf("%w: shielded transaction %s carries transparent inputs or outputs", ErrMalformedTransaction, tx.ID)
		}
		if tx.Amount != 0 {
			return fmt.Errorf("%w: shielded transaction %s exposes an amount", ErrMalformedTransaction, tx.ID)
		}
		if tx.ZKProof == "" || tx.Nullifier == "" || tx.Commitment == "" {
			return fmt.Errorf("%w: shielded transaction %s missing proof, nullifier or commitment", ErrMalformedTransaction, tx.ID)
		}
		return nil
	}
	if hasProofFields {
		return fmt.Errorf("%w: transparent transaction %s carries proof fields", ErrMalformedTransaction, tx.ID)
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("%w: transparent transaction %s has no outputs", ErrMalformedTransaction, tx.ID)
	}
	if len(tx.Inputs) == 0 && !tx.IsCoinbase() {
		return fmt.Errorf("%w: transaction %s spends nothing", ErrMalformedTransaction, tx.ID)
	}
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("%w: transaction %s output %d is zero", ErrMalformedTransaction, tx.ID, i)
		}
	}
	if _, err := tx.OutputTotal(); err != nil {
		return fmt.Errorf("%w: transaction %s: %v", ErrMalformedTransaction, tx.ID, err)
	}
	seen := make(map[TxInput]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		key := TxInput{TxID: in.TxID, OutputIndex: in.OutputIndex}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: transaction %s spends %s:%d twice", ErrMalformedTransaction, tx.ID, in.TxID, in.OutputIndex)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (tx Transaction) Clone() Transaction {
	c := tx
	if tx.Inputs != nil {
		c.Inputs = append([]TxInput(nil), tx.Inputs...)
	}
	if tx.Outputs != nil {
		c.Outputs = append([]TxOutput(nil), tx.Outputs...)
	}
	return c
}

// CloneTransactions deep-copies a slice of transactions.
func CloneTransactions(txs []Transaction) []Transaction {
	if txs == nil {
		return nil
	}
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.Clone()
	}
	return out
}
