package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/envelope"
	"maestro.org/internal/keys"
)

type memStore struct {
	policies  map[string]*Policy
	deletions map[string]*ScheduledDeletion
	backups   []Backup
	leaseBusy bool
}

func newMemStore() *memStore {
	return &memStore{
		policies:  map[string]*Policy{},
		deletions: map[string]*ScheduledDeletion{},
	}
}

func policyKey(orgID, resourceType string) string { return orgID + "/" + resourceType }

func (s *memStore) UpsertPolicy(_ context.Context, policy *Policy) error {
	cp := *policy
	s.policies[policyKey(policy.OrganizationID, policy.ResourceType)] = &cp
	return nil
}

func (s *memStore) FindPolicy(_ context.Context, organizationID, resourceType string) (*Policy, error) {
	p, ok := s.policies[policyKey(organizationID, resourceType)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListPolicies(_ context.Context, organizationID string) ([]Policy, error) {
	var res []Policy
	for _, p := range s.policies {
		if p.OrganizationID == organizationID {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (s *memStore) CreateDeletion(_ context.Context, d *ScheduledDeletion) error {
	cp := *d
	s.deletions[d.ID] = &cp
	return nil
}

func (s *memStore) FindDeletion(_ context.Context, organizationID, deletionID string) (*ScheduledDeletion, error) {
	d, ok := s.deletions[deletionID]
	if !ok || d.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) Due(_ context.Context, now time.Time, limit int) ([]ScheduledDeletion, error) {
	var res []ScheduledDeletion
	for _, d := range s.deletions {
		if d.Status != DeletionStatusDeleted && !d.DeleteAfter.After(now) {
			res = append(res, *d)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *memStore) ExtendDeletion(_ context.Context, organizationID, deletionID string, deleteAfter time.Time) error {
	d, ok := s.deletions[deletionID]
	if !ok || d.OrganizationID != organizationID || d.Status == DeletionStatusDeleted {
		return ErrNotFound
	}
	d.DeleteAfter = deleteAfter
	return nil
}

func (s *memStore) MarkBackedUp(_ context.Context, deletionID string) error {
	d, ok := s.deletions[deletionID]
	if !ok || d.Status != DeletionStatusScheduled {
		return ErrNotFound
	}
	d.Status = DeletionStatusBackedUp
	return nil
}

func (s *memStore) MarkDeleted(_ context.Context, deletionID string, at time.Time) (bool, error) {
	d, ok := s.deletions[deletionID]
	if !ok {
		return false, ErrNotFound
	}
	if d.Status == DeletionStatusDeleted {
		return false, nil
	}
	d.Status = DeletionStatusDeleted
	d.DeletedAt = &at
	return true, nil
}

func (s *memStore) SaveBackup(_ context.Context, backup *Backup) error {
	s.backups = append(s.backups, *backup)
	return nil
}

func (s *memStore) AcquireSweepLease(context.Context) (func(), bool, error) {
	if s.leaseBusy {
		return nil, false, nil
	}
	s.leaseBusy = true
	return func() { s.leaseBusy = false }, true, nil
}

type memResources struct {
	data map[string][]byte // key: orgID/resourceType/resourceID
}

func resourceKey(orgID, resourceType, resourceID string) string {
	return orgID + "/" + resourceType + "/" + resourceID
}

func (r *memResources) Snapshot(_ context.Context, organizationID, resourceType, resourceID string) ([]byte, error) {
	payload, ok := r.data[resourceKey(organizationID, resourceType, resourceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (r *memResources) Delete(_ context.Context, organizationID, resourceType, resourceID string) error {
	key := resourceKey(organizationID, resourceType, resourceID)
	if _, ok := r.data[key]; !ok {
		return ErrNotFound
	}
	delete(r.data, key)
	return nil
}

type stubOrgs struct {
	mode auth.ComplianceMode
}

func (s *stubOrgs) GetOrganization(_ context.Context, id string) (*auth.Organization, error) {
	return &auth.Organization{ID: id, ComplianceMode: s.mode, Status: auth.OrgStatusActive}, nil
}

type memKeyStore struct {
	keys map[string]*keys.DataKey
}

func (s *memKeyStore) Create(_ context.Context, key *keys.DataKey) error {
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *memKeyStore) Find(_ context.Context, organizationID, keyID string) (*keys.DataKey, error) {
	k, ok := s.keys[keyID]
	if !ok || k.OrganizationID != organizationID {
		return nil, keys.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *memKeyStore) ListByOrg(_ context.Context, organizationID string) ([]*keys.DataKey, error) {
	var res []*keys.DataKey
	for _, k := range s.keys {
		if k.OrganizationID == organizationID {
			cp := *k
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *memKeyStore) DeactivateByOrg(_ context.Context, organizationID string) (int64, error) {
	var n int64
	for _, k := range s.keys {
		if k.OrganizationID == organizationID && k.Active {
			k.Active = false
			n++
		}
	}
	return n, nil
}

type memSink struct {
	entries []audit.Entry
}

func (s *memSink) Append(_ context.Context, entry *audit.Entry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memSink) Query(context.Context, string, audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}

func (s *memSink) count(action audit.Action) int {
	var n int
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type harness struct {
	svc       *Service
	store     *memStore
	resources *memResources
	sink      *memSink
	crypt     *envelope.Service
	now       *time.Time
}

func newHarness(t *testing.T, mode auth.ComplianceMode) *harness {
	t.Helper()
	master, err := keys.NewMasterKey(bytes.Repeat([]byte{7}, keys.DataKeySize))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	km, err := keys.NewManager(&memKeyStore{keys: map[string]*keys.DataKey{}}, master)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	crypt, err := envelope.NewService(km)
	if err != nil {
		t.Fatalf("envelope.NewService: %v", err)
	}
	sink := &memSink{}
	aud, err := audit.NewLogger(sink)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	store := newMemStore()
	resources := &memResources{data: map[string][]byte{}}
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	h := &harness{store: store, resources: resources, sink: sink, crypt: crypt, now: &now}
	svc, err := NewService(store, &stubOrgs{mode: mode}, resources, crypt, aud,
		WithClock(func() time.Time { return *h.now }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func TestGetPolicyDefaults(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)

	cases := []struct {
		resourceType string
		days         int
		autoDelete   bool
	}{
		{ResourceMeeting, 90, true},
		{ResourceAction, 180, true},
		{ResourceAnalytics, 365, false},
		{ResourceAuditLog, AuditLogRetentionDays, false},
	}
	for _, tc := range cases {
		p, err := h.svc.GetPolicy(context.Background(), "org-1", tc.resourceType)
		if err != nil {
			t.Fatalf("GetPolicy(%s): %v", tc.resourceType, err)
		}
		if p.RetentionDays != tc.days || p.AutoDelete != tc.autoDelete {
			t.Fatalf("%s: got days=%d auto=%v, want days=%d auto=%v",
				tc.resourceType, p.RetentionDays, p.AutoDelete, tc.days, tc.autoDelete)
		}
	}

	auditPolicy, err := h.svc.GetPolicy(context.Background(), "org-1", ResourceAuditLog)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if !auditPolicy.BackupRequired || !auditPolicy.EncryptionRequired {
		t.Fatal("audit_log default must require encryption and backup")
	}

	if _, err := h.svc.GetPolicy(context.Background(), "org-1", "invoice"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown resource type, got %v", err)
	}
}

func TestSetPolicyCeilings(t *testing.T) {
	standard := newHarness(t, auth.ComplianceStandard)
	_, err := standard.svc.SetPolicy(context.Background(), Policy{
		OrganizationID: "org-1",
		ResourceType:   ResourceMeeting,
		RetentionDays:  366,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ceiling violation, got %v", err)
	}

	gdprOrg := newHarness(t, auth.ComplianceGDPR)
	p, err := gdprOrg.svc.SetPolicy(context.Background(), Policy{
		OrganizationID: "org-1",
		ResourceType:   ResourceMeeting,
		RetentionDays:  366,
		AutoDelete:     true,
	})
	if err != nil {
		t.Fatalf("SetPolicy under gdpr mode: %v", err)
	}
	if p.RetentionDays != 366 {
		t.Fatalf("got %d days, want 366", p.RetentionDays)
	}

	got, err := gdprOrg.svc.GetPolicy(context.Background(), "org-1", ResourceMeeting)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if got.RetentionDays != 366 {
		t.Fatal("configured policy did not override default")
	}
}

func TestSetPolicyPinsAuditLogFlags(t *testing.T) {
	h := newHarness(t, auth.ComplianceGDPR)
	p, err := h.svc.SetPolicy(context.Background(), Policy{
		OrganizationID: "org-1",
		ResourceType:   ResourceAuditLog,
		RetentionDays:  2555,
		AutoDelete:     true, // must be overridden
	})
	if err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if p.AutoDelete || !p.BackupRequired || !p.EncryptionRequired {
		t.Fatalf("audit_log flags not pinned: %+v", p)
	}
}

func TestScheduleDeletionUsesPolicyDefault(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)
	d, err := h.svc.ScheduleDeletion(context.Background(), "org-1", ResourceMeeting, "m-1", 0)
	if err != nil {
		t.Fatalf("ScheduleDeletion: %v", err)
	}
	want := h.now.Add(90 * 24 * time.Hour)
	if !d.DeleteAfter.Equal(want) {
		t.Fatalf("delete_after=%v, want %v", d.DeleteAfter, want)
	}
	if h.sink.count(audit.ActionRetentionScheduled) != 1 {
		t.Fatal("schedule not audited")
	}
}

func TestExtendRetention(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)
	d, err := h.svc.ScheduleDeletion(context.Background(), "org-1", ResourceMeeting, "m-1", 30)
	if err != nil {
		t.Fatalf("ScheduleDeletion: %v", err)
	}
	extended, err := h.svc.ExtendRetention(context.Background(), "org-1", d.ID, 15)
	if err != nil {
		t.Fatalf("ExtendRetention: %v", err)
	}
	want := d.DeleteAfter.Add(15 * 24 * time.Hour)
	if !extended.DeleteAfter.Equal(want) {
		t.Fatalf("delete_after=%v, want %v", extended.DeleteAfter, want)
	}
	if h.sink.count(audit.ActionRetentionExtended) != 1 {
		t.Fatal("extension not audited")
	}

	// The pushed-out record must no longer be due at the original deadline.
	*h.now = d.DeleteAfter.Add(time.Hour)
	res, err := h.svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Deleted != 0 {
		t.Fatalf("extended record swept early: %+v", res)
	}
}

func TestSweepDeletesAndBacksUp(t *testing.T) {
	h := newHarness(t, auth.ComplianceGDPR)
	payload := []byte("company ledger snapshot")
	h.resources.data[resourceKey("org-1", ResourceCompany, "c-1")] = payload

	if _, err := h.svc.SetPolicy(context.Background(), Policy{
		OrganizationID: "org-1",
		ResourceType:   ResourceCompany,
		RetentionDays:  30,
		AutoDelete:     true,
		BackupRequired: true,
	}); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if _, err := h.svc.ScheduleDeletion(context.Background(), "org-1", ResourceCompany, "c-1", 0); err != nil {
		t.Fatalf("ScheduleDeletion: %v", err)
	}

	*h.now = h.now.Add(31 * 24 * time.Hour)
	res, err := h.svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Deleted != 1 || res.BackedUp != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if _, ok := h.resources.data[resourceKey("org-1", ResourceCompany, "c-1")]; ok {
		t.Fatal("resource not deleted")
	}
	if len(h.store.backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(h.store.backups))
	}

	// The backup must decrypt back to the original snapshot for the owning org.
	restored, err := h.crypt.DecryptFile(context.Background(), &h.store.backups[0].Envelope, "org-1")
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	if !bytes.Equal(restored, payload) {
		t.Fatal("backup does not round-trip to the original payload")
	}

	if h.sink.count(audit.ActionRetentionDeleted) != 1 || h.sink.count(audit.ActionRetentionBackedUp) != 1 {
		t.Fatal("sweep transitions not audited")
	}
}

func TestSweepIdempotent(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("m-%d", i)
		h.resources.data[resourceKey("org-1", ResourceMeeting, id)] = []byte("notes")
		if _, err := h.svc.ScheduleDeletion(context.Background(), "org-1", ResourceMeeting, id, 10); err != nil {
			t.Fatalf("ScheduleDeletion: %v", err)
		}
	}

	*h.now = h.now.Add(11 * 24 * time.Hour)
	first, err := h.svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if first.Deleted != 3 || first.Failed != 0 {
		t.Fatalf("first sweep: %+v", first)
	}
	deletedAudits := h.sink.count(audit.ActionRetentionDeleted)

	second, err := h.svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if second.Deleted != 0 || second.Failed != 0 {
		t.Fatalf("second sweep not a no-op: %+v", second)
	}
	if got := h.sink.count(audit.ActionRetentionDeleted); got != deletedAudits {
		t.Fatalf("second sweep produced %d extra deletion audits", got-deletedAudits)
	}
}

func TestSweepSkipsVanishedResource(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)
	// Scheduled, but the resource was removed out of band before the sweep.
	if _, err := h.svc.ScheduleDeletion(context.Background(), "org-1", ResourceMeeting, "m-gone", 10); err != nil {
		t.Fatalf("ScheduleDeletion: %v", err)
	}

	*h.now = h.now.Add(11 * 24 * time.Hour)
	res, err := h.svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if res.Deleted != 1 || res.Failed != 0 {
		t.Fatalf("vanished resource not finalized: %+v", res)
	}
}

func TestSweepLease(t *testing.T) {
	h := newHarness(t, auth.ComplianceStandard)
	h.store.leaseBusy = true
	if _, err := h.svc.RunSweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}
}
