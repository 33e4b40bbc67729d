// Package wallet holds a secp256k1 spending key and derives the addresses,
// viewing key and input signatures the ledger needs from it.
package wallet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"zolana/internal/shielded"
)

const (
	// KeySize is the length of a spending key in bytes.
	KeySize = 32

	AddressPrefix         = "zol"
	ShieldedAddressPrefix = "zs"

	exportVersion = 1
)

var (
	ErrInvalidKey      = errors.New("invalid spending key")
	ErrAddressMismatch = errors.New("exported address does not match key")
)

// Wallet is immutable after construction and safe for concurrent use.
type Wallet struct {
	key             *ecdsa.PrivateKey
	address         string
	shieldedAddress string
	viewingKey      []byte
}

// New returns a wallet with a fresh random key.
func New() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromECDSA(key), nil
}

// FromSeed derives the key deterministically from seed.
func FromSeed(seed string) *Wallet {
	return fromECDSA(keyFromHash(crypto.Keccak256([]byte(seed))))
}

// FromKey wraps an existing 32-byte secp256k1 private key.
func FromKey(key []byte) (*Wallet, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	k, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return fromECDSA(k), nil
}

// keyFromHash rehashes h until it is a valid scalar. A 32-byte hash is out of
// range with negligible probability, so this almost never loops.
func keyFromHash(h []byte) *ecdsa.PrivateKey {
	for {
		if k, err := crypto.ToECDSA(h); err == nil {
			return k
		}
		h = crypto.Keccak256(h)
	}
}

func fromECDSA(k *ecdsa.PrivateKey) *Wallet {
	raw := crypto.FromECDSA(k)
	return &Wallet{
		key:             k,
		address:         addressOf(&k.PublicKey),
		shieldedAddress: ShieldedAddressPrefix + base58.Encode(crypto.Keccak256(raw, []byte("shielded"))),
		viewingKey:      shielded.ViewingKey(raw),
	}
}

func addressOf(pub *ecdsa.PublicKey) string {
	return AddressPrefix + base58.Encode(crypto.PubkeyToAddress(*pub).Bytes())
}

// Address is the transparent address outputs are paid to. It is derived from
// the public key, so signatures recover to it.
func (w *Wallet) Address() string { return w.address }

// ShieldedAddress is the address shared with senders of shielded transfers.
func (w *Wallet) ShieldedAddress() string { return w.shieldedAddress }

// ViewingKey opens notes this wallet encrypted. The caller gets a copy.
func (w *Wallet) ViewingKey() []byte { return append([]byte(nil), w.viewingKey...) }

// SpendingKey returns a copy of the private key, used to derive nullifiers.
func (w *Wallet) SpendingKey() []byte { return crypto.FromECDSA(w.key) }

// Sign returns the hex encoded 65-byte recoverable signature over
// keccak256(data).
func (w *Wallet) Sign(data []byte) string {
	sig, err := crypto.Sign(crypto.Keccak256(data), w.key)
	if err != nil {
		// Only a hash of the wrong length fails, and Keccak256 is always 32 bytes.
		panic(err)
	}
	return hexutil.Encode(sig)
}

// Verify checks that signature over data was made by this wallet.
func (w *Wallet) Verify(data []byte, signature string) bool {
	return VerifySignature(w.address, data, signature)
}

// VerifySignature reports whether signature over data recovers to address.
// Malleable (high S) signatures are rejected.
func VerifySignature(address string, data []byte, signature string) bool {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	hash := crypto.Keccak256(data)
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), hash, sig[:crypto.RecoveryIDOffset]) {
		return false
	}
	return addressOf(pub) == address
}

// Verifier checks input signatures for the ledger without holding any key.
type Verifier struct{}

// VerifySignature implements the ledger's signature check.
func (Verifier) VerifySignature(address string, data []byte, signature string) bool {
	return VerifySignature(address, data, signature)
}

// DeriveChild returns the index-th child wallet. Children are deterministic:
// the same parent and index always give the same key.
func (w *Wallet) DeriveChild(index uint32) *Wallet {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	return fromECDSA(keyFromHash(crypto.Keccak256(crypto.FromECDSA(w.key), []byte("child"), idx[:])))
}

type exported struct {
	Version         int           `json:"version"`
	Address         string        `json:"address"`
	ShieldedAddress string        `json:"shieldedAddress"`
	SpendingKey     hexutil.Bytes `json:"spendingKey"`
	ViewingKey      hexutil.Bytes `json:"viewingKey"`
}

// Export serialises the wallet, private key included, as JSON.
func (w *Wallet) Export() ([]byte, error) {
	return json.Marshal(exported{
		Version:         exportVersion,
		Address:         w.address,
		ShieldedAddress: w.shieldedAddress,
		SpendingKey:     crypto.FromECDSA(w.key),
		ViewingKey:      w.viewingKey,
	})
}

// Import restores a wallet written by Export. The stored address must match
// the one derived from the key.
func Import(data []byte) (*Wallet, error) {
	var e exported
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	if e.Version != exportVersion {
		return nil, fmt.Errorf("unsupported wallet version %d", e.Version)
	}
	w, err := FromKey(e.SpendingKey)
	if err != nil {
		return nil, err
	}
	if e.Address != "" && e.Address != w.address {
		return nil, fmt.Errorf("%w: %s", ErrAddressMismatch, e.Address)
	}
	return w, nil
}
