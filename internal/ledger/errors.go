package ledger

import (
	"errors"
	"fmt"

	"zolana/internal/chain"
	"zolana/internal/consensus"
	"zolana/internal/mempool"
	"zolana/internal/shielded"
)

// Admission and block production errors. All of them are recoverable.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidProof         = errors.New("invalid proof")
	ErrDoubleSpend          = errors.New("double spend")
	ErrUnspentInputMissing  = errors.New("unspent input missing")
	ErrInvalidSignature     = errors.New("invalid input signature")
	ErrValidatorMismatch    = errors.New("validator does not match selection")
	ErrStaleBlock           = errors.New("chain tip moved while the block was being produced")
	ErrDuplicateTransaction = mempool.ErrDuplicate
	ErrMempoolFull          = mempool.ErrFull
	ErrValidatorIneligible  = consensus.ErrValidatorIneligible
	ErrStaleNullifier       = shielded.ErrStaleNullifier
	ErrMalformedTransaction = chain.ErrMalformedTransaction
)

// ChainIntegrityError reports a broken block in an existing chain. It is never
// returned by admission; only VerifyChain produces it.
type ChainIntegrityError struct {
	Index  uint64
	Reason string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violated at block %d: %s", e.Index, e.Reason)
}

// rejectReason maps an admission error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, ErrUnspentInputMissing):
		return "input_missing"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, ErrMempoolFull):
		return "mempool_full"
	case errors.Is(err, ErrMalformedTransaction):
		return "malformed"
	default:
		return "other"
	}
}
