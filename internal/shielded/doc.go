// Package shielded implements the confidential side of the ledger: the note
// pool keyed by commitment, the nullifier set that guards against shielded
// double-spends, and a MiMC-based privacy collaborator.
//
// Overview:
//   - A note is committed with GenerateCommitment(value, randomness)
//   - Spending a note publishes GenerateNullifier(commitment, key); a nullifier may
//     enter the pool exactly once
//   - Proofs are opaque base64 strings; verification checks they decode to a
//     well-formed statement, it does not check a zero-knowledge argument
//   - Note plaintexts are encrypted with XChaCha20-Poly1305 under a viewing key
//
// Security Model:
//   - MiMC over the BW6-761 scalar field for commitments, nullifiers and PRFs
//   - All randomness comes from crypto/rand
//   - No elliptic-curve cryptography and no SNARK proving system
package shielded
