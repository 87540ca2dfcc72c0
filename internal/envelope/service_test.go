package envelope

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"maestro.org/internal/keys"
)

type memKeyStore struct {
	records map[string]*keys.DataKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{records: map[string]*keys.DataKey{}}
}

func (s *memKeyStore) Create(_ context.Context, key *keys.DataKey) error {
	cp := *key
	s.records[key.OrganizationID+"/"+key.ID] = &cp
	return nil
}

func (s *memKeyStore) Find(_ context.Context, organizationID, keyID string) (*keys.DataKey, error) {
	key, ok := s.records[organizationID+"/"+keyID]
	if !ok {
		return nil, keys.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *memKeyStore) ListByOrg(_ context.Context, organizationID string) ([]*keys.DataKey, error) {
	var res []*keys.DataKey
	for _, key := range s.records {
		if key.OrganizationID == organizationID {
			cp := *key
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *memKeyStore) DeactivateByOrg(_ context.Context, organizationID string) (int64, error) {
	var n int64
	for _, key := range s.records {
		if key.OrganizationID == organizationID && key.Active {
			key.Active = false
			n++
		}
	}
	return n, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	master, err := keys.NewMasterKey(bytes.Repeat([]byte{0x17}, keys.DataKeySize))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	km, err := keys.NewManager(newMemKeyStore(), master)
	if err != nil {
		t.Fatalf("keys.NewManager: %v", err)
	}
	svc, err := NewService(km)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	payloads := [][]byte{
		nil,
		[]byte("x"),
		[]byte("meeting notes: discuss Q3 budget"),
		bytes.Repeat([]byte{0x00}, 4096),
	}
	for _, plaintext := range payloads {
		env, err := svc.Encrypt(ctx, plaintext, "org-1")
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(plaintext), err)
		}
		got, err := svc.Decrypt(ctx, env, "org-1")
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(plaintext), err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch for %d byte payload", len(plaintext))
		}
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	env, err := svc.Encrypt(ctx, []byte("org-1 secret"), "org-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := svc.Decrypt(ctx, env, "org-2")
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for foreign tenant, got %v", err)
	}
	if got != nil {
		t.Fatal("plaintext leaked to foreign tenant")
	}
}

func TestTamperDetection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	env, err := svc.Encrypt(ctx, []byte("integrity matters"), "org-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for i := range env.Ciphertext {
		for bit := 0; bit < 8; bit++ {
			mutated := *env
			mutated.Ciphertext = append([]byte(nil), env.Ciphertext...)
			mutated.Ciphertext[i] ^= 1 << bit
			if _, err := svc.Decrypt(ctx, &mutated, "org-1"); !errors.Is(err, ErrDecryption) {
				t.Fatalf("ciphertext bit flip (byte %d bit %d) not detected", i, bit)
			}
		}
	}
	for i := range env.Tag {
		mutated := *env
		mutated.Tag = append([]byte(nil), env.Tag...)
		mutated.Tag[i] ^= 0x01
		if _, err := svc.Decrypt(ctx, &mutated, "org-1"); !errors.Is(err, ErrDecryption) {
			t.Fatalf("tag bit flip at byte %d not detected", i)
		}
	}
}

func TestScopeSeparation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	fieldEnv, err := svc.Encrypt(ctx, []byte("field payload"), "org-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := svc.DecryptFile(ctx, fieldEnv, "org-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("field envelope accepted by file decrypt: %v", err)
	}

	fileEnv, err := svc.EncryptFile(ctx, []byte("file payload"), "org-1")
	if err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if _, err := svc.Decrypt(ctx, fileEnv, "org-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("file envelope accepted by field decrypt: %v", err)
	}

	// Even with the scope label rewritten, the AAD still refuses the swap.
	forged := *fieldEnv
	forged.Scope = ScopeFile
	if _, err := svc.DecryptFile(ctx, &forged, "org-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("scope forgery not detected: %v", err)
	}
}

func TestIVUniqueness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping statistical IV test in short mode")
	}
	svc := newTestService(t)
	ctx := context.Background()

	plaintext := []byte("identical plaintext")
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		env, err := svc.Encrypt(ctx, plaintext, "org-1")
		if err != nil {
			t.Fatalf("Encrypt #%d: %v", i, err)
		}
		iv := string(env.IV)
		if _, dup := seen[iv]; dup {
			t.Fatalf("IV collision after %d encryptions", i)
		}
		seen[iv] = struct{}{}
	}
}

func TestUnknownKeyFailsClosed(t *testing.T) {
	svc := newTestService(t)
	env := &Envelope{
		KeyID:      "no-such-key",
		Scope:      ScopeField,
		IV:         make([]byte, 12),
		Ciphertext: []byte{0x01},
		Tag:        make([]byte, 16),
	}
	if _, err := svc.Decrypt(context.Background(), env, "org-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for unknown key, got %v", err)
	}
	if _, err := svc.Decrypt(context.Background(), nil, "org-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for nil envelope, got %v", err)
	}
}

func TestLargeFileScenario(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	data := make([]byte, 1_000_000)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	env, err := svc.EncryptFile(ctx, data, "org-a")
	if err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if env.KeyID == "" {
		t.Fatal("envelope missing key reference")
	}

	if _, err := svc.DecryptFile(ctx, env, "org-b"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("org-b decrypted org-a envelope: %v", err)
	}

	got, err := svc.DecryptFile(ctx, env, "org-a")
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decrypted file differs from original")
	}
}

func TestHashVerify(t *testing.T) {
	data := []byte("content addressable")
	digest := Hash(data)
	if len(digest) != 64 {
		t.Fatalf("digest length %d, want 64 hex chars", len(digest))
	}
	if !Verify(data, digest) {
		t.Fatal("verify failed for matching digest")
	}
	if Verify([]byte("other content"), digest) {
		t.Fatal("verify accepted wrong content")
	}
	altered := digest[:63] + "0"
	if altered == digest {
		altered = digest[:63] + "1"
	}
	if Verify(data, altered) {
		t.Fatal("verify accepted altered digest")
	}
	if Verify(data, "zz") {
		t.Fatal("verify accepted non-hex digest")
	}
}
