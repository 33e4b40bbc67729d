// crypto.go - MiMC primitives for commitments, nullifiers and key derivation.
//
// Every input is reduced into a BW6-761 scalar field element before it is
// absorbed, so arbitrary byte strings hash without the MiMC block-size checks
// failing.

package shielded

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"

	"zolana/internal/chain"
)

// Domain separation tags for the different MiMC uses.
var (
	tagCommitment = []byte("zolana/commitment")
	tagNullifier  = []byte("zolana/nullifier")
	tagKnowledge  = []byte("zolana/knowledge")
	tagRange      = []byte("zolana/range")
	tagViewing    = []byte("zolana/viewing")
	tagAddress    = []byte("zolana/address")
)

// ViewingKeySize is the length of keys returned by ViewingKey.
const ViewingKeySize = 32

// mimcHash absorbs each part as one field element and returns the digest.
func mimcHash(parts ...[]byte) []byte {
	h := mimcNative.NewMiMC()
	for _, p := range parts {
		var e fr.Element
		e.SetBytes(p)
		b := e.Bytes()
		h.Write(b[:])
	}
	return h.Sum(nil)
}

// prf is a keyed pseudo-random function built on MiMC.
func prf(key, data []byte) []byte {
	return mimcHash(tagKnowledge, key, data)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// RandomBytes returns n bytes from crypto/rand. Use it for note randomness.
func RandomBytes(n int) []byte {
	return randomBytes(n)
}

func amountBytes(v chain.Amount) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// decodeOrRaw returns the hex-decoded bytes of s, or s itself if it is not hex.
func decodeOrRaw(s string) []byte {
	if b, err := hex.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

// Commitment computes cm = MiMC(value, randomness).
func Commitment(value chain.Amount, randomness []byte) string {
	return hex.EncodeToString(mimcHash(tagCommitment, amountBytes(value), randomness))
}

// Nullifier computes nf = MiMC(cm, key).
func Nullifier(commitment string, key []byte) string {
	return hex.EncodeToString(mimcHash(tagNullifier, decodeOrRaw(commitment), key))
}

// ViewingKey derives the note-decryption key from a spending key.
func ViewingKey(privateKey []byte) []byte {
	return mimcHash(tagViewing, privateKey)[:ViewingKeySize]
}

// HideAddress replaces an address with an opaque tag so shielded transactions
// do not reveal their parties.
func HideAddress(address string) string {
	return hex.EncodeToString(mimcHash(tagAddress, []byte(address)))[:40]
}
