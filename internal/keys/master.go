package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const masterKeyEnvVariable = "MAESTRO_MASTER_KEY"

// ErrMasterKeyMissing is fatal at startup: without the configured master key
// every previously wrapped data key would be unrecoverable. There is no
// fallback generator on purpose.
var ErrMasterKeyMissing = errors.New("keys: master key is not configured")

// MasterKey is the process-wide wrapping key. It is read-only after
// initialization and must never be logged, serialized, or transmitted.
type MasterKey struct {
	key []byte
}

// LoadMasterKey reads the master key from the environment. The value must be
// standard base64 of exactly 32 bytes.
func LoadMasterKey() (MasterKey, error) {
	raw := strings.TrimSpace(os.Getenv(masterKeyEnvVariable))
	if raw == "" {
		return MasterKey{}, ErrMasterKeyMissing
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return MasterKey{}, fmt.Errorf("keys: master key is not valid base64: %w", err)
	}
	return NewMasterKey(decoded)
}

// NewMasterKey wraps raw key bytes after validating the length.
func NewMasterKey(raw []byte) (MasterKey, error) {
	if len(raw) != DataKeySize {
		return MasterKey{}, fmt.Errorf("keys: master key must be %d bytes, got %d", DataKeySize, len(raw))
	}
	key := make([]byte, DataKeySize)
	copy(key, raw)
	return MasterKey{key: key}, nil
}

func (m MasterKey) bytes() []byte { return m.key }

// String hides the key material from accidental formatting.
func (m MasterKey) String() string { return "MasterKey(redacted)" }

// GoString hides the key material from %#v formatting.
func (m MasterKey) GoString() string { return "MasterKey(redacted)" }
