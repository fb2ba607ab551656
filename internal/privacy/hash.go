// Package privacy provides the one-way patient identifier transform used by
// the vector index. Raw patient identifiers must never be stored in vector
// payloads; only the salted hash is.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
)

// PatientHasher computes salted one-way hashes of patient identifiers.
// The salt is a deployment secret; recovering a raw identifier requires it.
type PatientHasher struct {
	salt string
}

// NewPatientHasher creates a hasher with the given secret salt.
func NewPatientHasher(salt string) *PatientHasher {
	return &PatientHasher{salt: salt}
}

// Hash returns the hex sha256 digest of salt+patientID.
func (h *PatientHasher) Hash(patientID string) string {
	sum := sha256.Sum256([]byte(h.salt + patientID))
	return hex.EncodeToString(sum[:])
}

// HashAll returns the hash of every identifier, preserving order.
func (h *PatientHasher) HashAll(patientIDs []string) []string {
	out := make([]string, len(patientIDs))
	for i, pid := range patientIDs {
		out[i] = h.Hash(pid)
	}
	return out
}
