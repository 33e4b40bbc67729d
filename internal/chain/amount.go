package chain

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Amount is a quantity of value in atomic units.
type Amount uint64

// Coin is the number of atomic units in one whole coin.
const Coin Amount = 100_000_000

const coinDecimals = 8

// ErrAmountOverflow is returned when a sum does not fit in an Amount.
var ErrAmountOverflow = errors.New("amount overflow")

// Coins converts whole coins to an Amount.
func Coins(n uint64) Amount {
	return Amount(n) * Coin
}

// Add returns a+b, or ErrAmountOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

// Sum adds all amounts, failing on overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// String renders the amount in coins, e.g. "100.001".
func (a Amount) String() string {
	whole := uint64(a / Coin)
	frac := uint64(a % Coin)
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	s := fmt.Sprintf("%d.%08d", whole, frac)
	return strings.TrimRight(s, "0")
}

// ParseAmount parses a decimal coin string such as "0.001" into atomic units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse amount: empty string")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > coinDecimals {
		return 0, fmt.Errorf("parse amount %q: more than %d decimals", s, coinDecimals)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var f uint64
	if frac != "" {
		frac += strings.Repeat("0", coinDecimals-len(frac))
		if f, err = strconv.ParseUint(frac, 10, 64); err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
	}
	hi, lo := bits.Mul64(w, uint64(Coin))
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(lo).Add(Amount(f))
}
