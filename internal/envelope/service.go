package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"maestro.org/internal/keys"
	"maestro.org/internal/obs"
)

const (
	ivSize  = 12
	tagSize = 16

	aadPrefix = "maestro.envelope.v1:"
)

// Service performs envelope encryption over the key manager. Two concurrent
// calls for the same organization are fully independent: each encrypt mints
// its own data key.
type Service struct {
	keys *keys.Manager
}

// NewService constructs a Service.
func NewService(km *keys.Manager) (*Service, error) {
	if km == nil {
		return nil, errors.New("envelope: key manager is required")
	}
	return &Service{keys: km}, nil
}

// Encrypt protects field-scoped payload bytes for the organization.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte, organizationID string) (*Envelope, error) {
	return s.encrypt(ctx, plaintext, organizationID, ScopeField)
}

// Decrypt reveals field-scoped payload bytes. Fails closed on any
// verification failure.
func (s *Service) Decrypt(ctx context.Context, env *Envelope, organizationID string) ([]byte, error) {
	return s.decrypt(ctx, env, organizationID, ScopeField)
}

// EncryptFile protects raw file buffers under the file scope.
func (s *Service) EncryptFile(ctx context.Context, data []byte, organizationID string) (*Envelope, error) {
	return s.encrypt(ctx, data, organizationID, ScopeFile)
}

// DecryptFile reveals file buffers encrypted with EncryptFile.
func (s *Service) DecryptFile(ctx context.Context, env *Envelope, organizationID string) ([]byte, error) {
	return s.decrypt(ctx, env, organizationID, ScopeFile)
}

func (s *Service) encrypt(ctx context.Context, plaintext []byte, organizationID string, scope Scope) (env *Envelope, err error) {
	defer func() { obs.ObserveCryptoOp("encrypt", err) }()
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if !scope.valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
	}

	record, rawKey, err := s.keys.Mint(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}

	// Fresh random IV on every call. GCM is unsafe under IV reuse, and a
	// per-call data key plus a random 96-bit IV keeps repeats out of reach.
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("envelope: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad(scope, organizationID))
	split := len(sealed) - tagSize

	return &Envelope{
		KeyID:      record.ID,
		Scope:      scope,
		IV:         iv,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

func (s *Service) decrypt(ctx context.Context, env *Envelope, organizationID string, scope Scope) (plaintext []byte, err error) {
	defer func() { obs.ObserveCryptoOp("decrypt", err) }()
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if env == nil || env.KeyID == "" {
		return nil, ErrDecryption
	}
	if env.Scope != scope {
		return nil, ErrDecryption
	}
	if len(env.IV) != ivSize || len(env.Tag) != tagSize {
		return nil, ErrDecryption
	}

	rawKey, err := s.keys.Resolve(ctx, organizationID, env.KeyID)
	if err != nil {
		// Unknown key, foreign organization, and unwrap failures all collapse
		// into the same coarse error.
		return nil, ErrDecryption
	}
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, ErrDecryption
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err = gcm.Open(nil, env.IV, sealed, aad(scope, organizationID))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func aad(scope Scope, organizationID string) []byte {
	return []byte(aadPrefix + string(scope) + ":" + organizationID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
