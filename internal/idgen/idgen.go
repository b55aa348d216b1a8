// Package idgen generates the random per-process identifiers used for
// generation detection (instance_id) and log correlation.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewInstanceID returns a random 64-bit instance_id for a new
// controller generation (§3, §9 glossary). It is derived by hashing
// fresh OS entropy through blake2b rather than returning the entropy
// directly, so a short read from a degraded entropy source doesn't
// leak directly into a value workers compare for equality across the
// network.
func NewInstanceID() (int64, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return 0, fmt.Errorf("idgen: reading entropy: %w", err)
	}
	sum := blake2b.Sum256(seed[:])
	return int64(binary.LittleEndian.Uint64(sum[:8])), nil
}

// CorrelationID returns a fresh identifier for tagging one worker
// session's log lines, grounded on the teacher's per-query
// uuid.New() correlation ID.
func CorrelationID() string {
	return uuid.New().String()
}
