// Package keys implements the data-key half of envelope encryption: random
// 256-bit data keys, wrapped under a process-wide master key with the owning
// organization bound as associated data, persisted only in wrapped form.
package keys

import (
	"errors"
	"time"
)

var (
	// ErrKeyUnwrap reports a cryptographic integrity failure while unwrapping:
	// AAD mismatch, tag mismatch, or a corrupt blob. Never retried, never
	// silently ignored.
	ErrKeyUnwrap = errors.New("keys: unwrap failed")

	ErrNotFound     = errors.New("keys: not found")
	ErrInvalidInput = errors.New("keys: invalid input")
)

// AlgorithmAESGCM tags keys wrapped with AES-256-GCM.
const AlgorithmAESGCM = "aes-256-gcm"

// DataKeySize is the data key length in bytes (256 bits).
const DataKeySize = 32

// DataKey is a per-organization data-encryption key record. The raw key never
// appears here; only the wrapped form is persisted.
type DataKey struct {
	ID             string
	OrganizationID string
	Algorithm      string
	WrappedKey     []byte
	Nonce          []byte
	Active         bool
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}
