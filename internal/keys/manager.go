package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"maestro.org/internal/audit"
	"maestro.org/internal/ids"
	"maestro.org/internal/obs"
)

// wrapAADPrefix domain-separates wrapped data keys from any other AES-GCM use
// of the master key and binds the owning organization into the tag.
const wrapAADPrefix = "maestro.dek.v1:"

// Manager generates, wraps, unwraps, and persists data keys.
type Manager struct {
	store  Store
	master MasterKey
	aud    *audit.Logger
	now    func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithAuditLogger mirrors key lifecycle events into the audit log. Rotation
// is log-then-act: it aborts when the audit write cannot be confirmed.
func WithAuditLogger(l *audit.Logger) ManagerOption {
	return func(m *Manager) { m.aud = l }
}

// NewManager constructs a Manager.
func NewManager(store Store, master MasterKey, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("keys: store is required")
	}
	if len(master.bytes()) != DataKeySize {
		return nil, errors.New("keys: master key is not initialized")
	}
	m := &Manager{store: store, master: master, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GenerateDataKey produces a cryptographically random 256-bit key.
func GenerateDataKey() ([]byte, error) {
	key := make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keys: generate data key: %w", err)
	}
	return key, nil
}

// Wrap encrypts a raw data key under the master key with the organization
// identifier as AAD, so a blob from one organization cannot be unwrapped
// while claiming to belong to another.
func (m *Manager) Wrap(rawKey []byte, organizationID string) (wrapped, nonce []byte, err error) {
	defer func() { obs.ObserveCryptoOp("wrap", err) }()
	if len(rawKey) != DataKeySize {
		return nil, nil, fmt.Errorf("%w: data key must be %d bytes", ErrInvalidInput, DataKeySize)
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	gcm, err := newGCM(m.master.bytes())
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("keys: generate nonce: %w", err)
	}
	wrapped = gcm.Seal(nil, nonce, rawKey, wrapAAD(organizationID))
	return wrapped, nonce, nil
}

// Unwrap reverses Wrap. Any AAD mismatch, tag mismatch, or corrupt blob is
// reported as ErrKeyUnwrap; the raw key is never partially returned.
func (m *Manager) Unwrap(wrapped, nonce []byte, organizationID string) (raw []byte, err error) {
	defer func() { obs.ObserveCryptoOp("unwrap", err) }()
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	gcm, err := newGCM(m.master.bytes())
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrKeyUnwrap
	}
	raw, err = gcm.Open(nil, nonce, wrapped, wrapAAD(organizationID))
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	if len(raw) != DataKeySize {
		return nil, ErrKeyUnwrap
	}
	return raw, nil
}

// Mint generates a fresh data key for the organization, wraps it, persists
// the wrapped record, and returns both the record and the raw key. The caller
// must not retain the raw key beyond the encryption call it was minted for.
func (m *Manager) Mint(ctx context.Context, organizationID string) (*DataKey, []byte, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	raw, err := GenerateDataKey()
	if err != nil {
		return nil, nil, err
	}
	wrapped, nonce, err := m.Wrap(raw, organizationID)
	if err != nil {
		return nil, nil, err
	}
	key := &DataKey{
		ID:             ids.New(),
		OrganizationID: organizationID,
		Algorithm:      AlgorithmAESGCM,
		WrappedKey:     wrapped,
		Nonce:          nonce,
		Active:         true,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, nil, err
	}
	return key, raw, nil
}

// Resolve loads the wrapped key by (organization, key id) and unwraps it.
// Inactive keys still resolve so old envelopes keep decrypting.
func (m *Manager) Resolve(ctx context.Context, organizationID, keyID string) ([]byte, error) {
	organizationID = strings.TrimSpace(organizationID)
	keyID = strings.TrimSpace(keyID)
	if organizationID == "" || keyID == "" {
		return nil, fmt.Errorf("%w: organization_id and key_id are required", ErrInvalidInput)
	}
	record, err := m.store.Find(ctx, organizationID, keyID)
	if err != nil {
		return nil, err
	}
	if record.ExpiresAt != nil && m.now().After(*record.ExpiresAt) {
		return nil, ErrKeyUnwrap
	}
	return m.Unwrap(record.WrappedKey, record.Nonce, organizationID)
}

// Rotate deactivates every key of the organization. Existing envelopes stay
// decryptable; new encryptions mint fresh keys anyway, so rotation is a
// bookkeeping event. Log-then-act: the rotation is aborted when the audit
// write cannot be confirmed.
func (m *Manager) Rotate(ctx context.Context, organizationID string) (int64, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return 0, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if m.aud != nil {
		err := m.aud.LogConfirmed(ctx, &audit.Entry{
			Action:         audit.ActionKeyRotation,
			ResourceType:   "data_key",
			OrganizationID: organizationID,
			Metadata:       audit.SecurityMetadata{Detail: "organization data keys deactivated"},
		})
		if err != nil {
			return 0, fmt.Errorf("keys: rotation audit not confirmed: %w", err)
		}
	}
	return m.store.DeactivateByOrg(ctx, organizationID)
}

func wrapAAD(organizationID string) []byte {
	return []byte(wrapAADPrefix + organizationID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keys: init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
