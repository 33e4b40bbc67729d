package chain

import (
	"github.com/fxamacker/cbor/v2"
)

// canonical is a deterministic CBOR encoder: identical values always produce
// identical bytes, which is what Merkle leaves and block sizes are computed from.
var canonical cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("chain: building canonical cbor encoder: " + err.Error())
	}
	canonical = em
}

// Encode returns the canonical encoding of v.
func Encode(v any) ([]byte, error) {
	return canonical.Marshal(v)
}
