// Package envelope encrypts payload bytes with a fresh data key per call and
// returns self-describing envelopes: ciphertext, IV, authentication tag, and
// the identifier of the wrapped key that produced them.
package envelope

import (
	"errors"
)

// ErrDecryption reports any failed decrypt: tag mismatch, unknown key,
// organization mismatch, or scope mismatch. The specific cause stays internal
// so the error cannot be used as an oracle.
var ErrDecryption = errors.New("envelope: decryption failed")

// ErrInvalidInput reports malformed arguments.
var ErrInvalidInput = errors.New("envelope: invalid input")

// Scope domain-separates envelopes so one produced for file bytes cannot be
// replayed as field data and vice versa.
type Scope string

const (
	ScopeField Scope = "field"
	ScopeFile  Scope = "file"
)

func (s Scope) valid() bool { return s == ScopeField || s == ScopeFile }

// Envelope is the immutable output of an encrypt operation. It never contains
// the raw data key; KeyID references the wrapped key record.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Scope      Scope  `json:"scope"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}
