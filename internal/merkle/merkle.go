// merkle.go - Binary Merkle tree over ordered leaves with inclusion proofs.
//
// Leaves are hashed individually with SHA-256. Each layer pairs adjacent hashes
// left-to-right and hashes the concatenation of their hex forms; a layer of odd
// length duplicates its last element. The tree of zero leaves has the fixed root
// EmptyRoot so that empty blocks still carry a deterministic commitment.

package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// EmptyRoot is the root of a tree with no leaves: hex(sha256("empty")).
var EmptyRoot = hashString("empty")

// ErrIndexOutOfRange is returned when a proof is requested for a missing leaf.
var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// ProofStep is one level of an inclusion proof.
// Left reports whether Hash sits to the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// Tree holds every layer, leaves first, root last.
type Tree struct {
	layers [][]string
	leaves int
}

// New builds a tree over the given leaves.
func New(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{layers: [][]string{{EmptyRoot}}}
	}
	layer := make([]string, len(leaves))
	for i, leaf := range leaves {
		layer[i] = HashLeaf(leaf)
	}
	layers := [][]string{layer}
	for len(layer) > 1 {
		layer = nextLayer(layer)
		layers = append(layers, layer)
	}
	return &Tree{layers: layers, leaves: len(leaves)}
}

// Root returns the Merkle root over leaves without keeping the tree around.
func Root(leaves [][]byte) string {
	return New(leaves).Root()
}

// Root returns the hex-encoded root hash.
func (t *Tree) Root() string {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int {
	return t.leaves
}

// Proof returns the sibling path from leaf index to the root.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= t.LeafCount() {
		return nil, ErrIndexOutOfRange
	}
	proof := make([]ProofStep, 0, len(t.layers)-1)
	for _, layer := range t.layers[:len(t.layers)-1] {
		var sibling int
		if index%2 == 0 {
			sibling = index + 1
			if sibling >= len(layer) {
				sibling = index
			}
		} else {
			sibling = index - 1
		}
		proof = append(proof, ProofStep{Hash: layer[sibling], Left: index%2 == 1})
		index /= 2
	}
	return proof, nil
}

// Verify re-derives the root from leaf and proof and compares it to root.
func Verify(leaf []byte, proof []ProofStep, root string) bool {
	h := HashLeaf(leaf)
	for _, step := range proof {
		if step.Left {
			h = hashString(step.Hash + h)
		} else {
			h = hashString(h + step.Hash)
		}
	}
	return h == root
}

// HashLeaf returns the hex SHA-256 of a raw leaf.
func HashLeaf(leaf []byte) string {
	sum := sha256.Sum256(leaf)
	return hex.EncodeToString(sum[:])
}

func nextLayer(layer []string) []string {
	next := make([]string, 0, (len(layer)+1)/2)
	for i := 0; i < len(layer); i += 2 {
		left := layer[i]
		right := left
		if i+1 < len(layer) {
			right = layer[i+1]
		}
		next = append(next, hashString(left+right))
	}
	return next
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
