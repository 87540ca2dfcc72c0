package gdpr

import (
	"context"
	"errors"
	"testing"
	"time"

	"maestro.org/internal/access"
	"maestro.org/internal/audit"
	"maestro.org/internal/retention"
)

type memStore struct {
	exports  []ExportRecord
	requests map[string]*DeletionRequest
}

func newMemStore() *memStore {
	return &memStore{requests: map[string]*DeletionRequest{}}
}

func (s *memStore) CreateExportRecord(_ context.Context, record *ExportRecord) error {
	s.exports = append(s.exports, *record)
	return nil
}

func (s *memStore) LastExport(_ context.Context, organizationID, userID string) (*ExportRecord, error) {
	var last *ExportRecord
	for i := range s.exports {
		r := &s.exports[i]
		if r.OrganizationID != organizationID || r.UserID != userID {
			continue
		}
		if last == nil || r.CreatedAt.After(last.CreatedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (s *memStore) ListExports(_ context.Context, organizationID, userID string) ([]ExportRecord, error) {
	var res []ExportRecord
	for _, r := range s.exports {
		if r.OrganizationID == organizationID && r.UserID == userID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *memStore) CreateDeletionRequest(_ context.Context, req *DeletionRequest) error {
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) FindDeletionRequest(_ context.Context, organizationID, requestID string) (*DeletionRequest, error) {
	req, ok := s.requests[requestID]
	if !ok || req.OrganizationID != organizationID {
		return nil, ErrNotFound
	}
	cp := *req
	cp.CompletedSteps = append([]string(nil), req.CompletedSteps...)
	return &cp, nil
}

func (s *memStore) UpdateDeletionRequest(_ context.Context, req *DeletionRequest) error {
	if _, ok := s.requests[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	cp.CompletedSteps = append([]string(nil), req.CompletedSteps...)
	s.requests[req.ID] = &cp
	return nil
}

type stubVault struct {
	personalDeletes int
	orgDeletes      int
	failOrgDelete   error
}

func (v *stubVault) PersonalData(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"email": "kim@example.org"}, nil
}

func (v *stubVault) OrganizationData(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"name": "Example Org"}, nil
}

func (v *stubVault) DeletePersonalData(context.Context, string, string) error {
	v.personalDeletes++
	return nil
}

func (v *stubVault) DeleteOrganizationData(context.Context, string, string) error {
	if v.failOrgDelete != nil {
		return v.failOrgDelete
	}
	v.orgDeletes++
	return nil
}

type stubChecker struct {
	deny error
}

func (c *stubChecker) Require(_ context.Context, _, _ string, _ access.ResourceType, _ access.Permission, _ string) error {
	return c.deny
}

type stubScheduler struct {
	calls []struct {
		resourceType string
		resourceID   string
		days         int
	}
}

func (s *stubScheduler) ScheduleDeletion(_ context.Context, _, resourceType, resourceID string, retentionDays int) (*retention.ScheduledDeletion, error) {
	s.calls = append(s.calls, struct {
		resourceType string
		resourceID   string
		days         int
	}{resourceType, resourceID, retentionDays})
	return &retention.ScheduledDeletion{ID: "d-1"}, nil
}

type memSink struct {
	entries []audit.Entry
	fail    error
}

func (s *memSink) Append(_ context.Context, entry *audit.Entry) error {
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memSink) Query(context.Context, string, audit.Filter) ([]audit.Entry, error) {
	return []audit.Entry{{Action: audit.ActionDataRead, OrganizationID: "org-1"}}, nil
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
	vault     *stubVault
	checker   *stubChecker
	scheduler *stubScheduler
	sink      *memSink
	now       *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sink := &memSink{}
	aud, err := audit.NewLogger(sink)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	h := &harness{
		store:     newMemStore(),
		vault:     &stubVault{},
		checker:   &stubChecker{},
		scheduler: &stubScheduler{},
		sink:      sink,
		now:       &now,
	}
	svc, err := NewService(h.store, h.vault, h.checker, h.scheduler, aud,
		WithClock(func() time.Time { return *h.now }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	export, err := h.svc.Export(context.Background(), "u-1", "u-1", "org-1", FormatJSON)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if export.PersonalData == nil || export.OrganizationData == nil || export.AuditTrail == nil {
		t.Fatalf("export has empty sections: %+v", export)
	}
	if len(export.CompletedSteps) != 3 {
		t.Fatalf("completed steps = %v, want 3", export.CompletedSteps)
	}
	if len(h.store.exports) != 1 {
		t.Fatal("export record not persisted")
	}
	if h.sink.count(audit.ActionDataExport) != 1 {
		t.Fatal("export not audited")
	}
}

func TestExportRateLimit(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Export(context.Background(), "u-1", "u-1", "org-1", FormatJSON); err != nil {
		t.Fatalf("first export: %v", err)
	}

	*h.now = h.now.Add(time.Hour)
	_, err := h.svc.Export(context.Background(), "u-1", "u-1", "org-1", FormatCSV)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter <= 0 || rle.RetryAfter > 23*time.Hour {
		t.Fatalf("bad retry-after hint: %v", err)
	}

	// A different user in the same organization is not throttled.
	if _, err := h.svc.Export(context.Background(), "u-2", "u-2", "org-1", FormatJSON); err != nil {
		t.Fatalf("export for second user: %v", err)
	}

	*h.now = h.now.Add(24 * time.Hour)
	if _, err := h.svc.Export(context.Background(), "u-1", "u-1", "org-1", FormatJSON); err != nil {
		t.Fatalf("export after window: %v", err)
	}
}

func TestExportRequiresPermission(t *testing.T) {
	h := newHarness(t)
	h.checker.deny = access.ErrPermissionDenied
	if _, err := h.svc.Export(context.Background(), "u-2", "u-1", "org-1", FormatJSON); !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if len(h.store.exports) != 0 {
		t.Fatal("denied export persisted a record")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Export(context.Background(), "u-1", "u-1", "org-1", "xml"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestDeletion(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.RequestDeletion(context.Background(), "admin-1", "u-1", "org-1", "account closure")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}
	if req.Status != RequestStatusPending {
		t.Fatalf("status=%s, want pending", req.Status)
	}
	if req.ConfirmationCode == "" {
		t.Fatal("no confirmation code generated")
	}
	if h.vault.personalDeletes != 0 {
		t.Fatal("request creation must not delete anything")
	}
	if h.sink.count(audit.ActionDeletionRequested) != 1 {
		t.Fatal("deletion request not audited")
	}
}

func TestConfirmDeletionCodeMismatch(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.RequestDeletion(context.Background(), "admin-1", "u-1", "org-1", "closure")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	_, err = h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, "wrong-code")
	if !errors.Is(err, ErrInvalidConfirmationCode) {
		t.Fatalf("expected ErrInvalidConfirmationCode, got %v", err)
	}

	// Nothing may have been mutated.
	stored := h.store.requests[req.ID]
	if stored.Status != RequestStatusPending || len(stored.CompletedSteps) != 0 {
		t.Fatalf("mismatched code mutated the request: %+v", stored)
	}
	if h.vault.personalDeletes != 0 || h.vault.orgDeletes != 0 || len(h.scheduler.calls) != 0 {
		t.Fatal("mismatched code triggered the cascade")
	}
	if h.sink.count(audit.ActionDeletionConfirmFailed) != 1 {
		t.Fatal("confirmation failure not audited")
	}
}

func TestConfirmDeletionCascades(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.RequestDeletion(context.Background(), "admin-1", "u-1", "org-1", "closure")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	done, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode)
	if err != nil {
		t.Fatalf("ConfirmDeletion: %v", err)
	}
	if done.Status != RequestStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("request not completed: %+v", done)
	}
	if h.vault.personalDeletes != 1 || h.vault.orgDeletes != 1 {
		t.Fatalf("cascade counts: personal=%d org=%d", h.vault.personalDeletes, h.vault.orgDeletes)
	}
	if len(h.scheduler.calls) != 1 {
		t.Fatalf("audit trail not scheduled: %+v", h.scheduler.calls)
	}
	call := h.scheduler.calls[0]
	if call.resourceType != retention.ResourceAuditLog || call.days != retention.AuditLogRetentionDays || call.resourceID != "u-1" {
		t.Fatalf("bad schedule call: %+v", call)
	}
	if h.sink.count(audit.ActionDeletionCompleted) != 1 {
		t.Fatal("completion not audited")
	}
	// One confirmed entry per destructive step.
	if h.sink.count(audit.ActionDataDelete) != 3 {
		t.Fatalf("step entries = %d, want 3", h.sink.count(audit.ActionDataDelete))
	}

	// A completed request cannot be confirmed again.
	if _, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestConfirmDeletionAbortsWhenAuditUnconfirmed(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.RequestDeletion(context.Background(), "admin-1", "u-1", "org-1", "closure")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	h.sink.fail = errors.New("sink down")
	if _, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode); err == nil {
		t.Fatal("expected ConfirmDeletion to abort on unconfirmed audit write")
	}

	// Log-then-act: nothing may have been erased or advanced.
	if h.vault.personalDeletes != 0 || h.vault.orgDeletes != 0 || len(h.scheduler.calls) != 0 {
		t.Fatal("cascade ran without a confirmed audit write")
	}
	stored := h.store.requests[req.ID]
	if stored.Status != RequestStatusPending || len(stored.CompletedSteps) != 0 {
		t.Fatalf("request mutated without a confirmed audit write: %+v", stored)
	}

	// Once the sink recovers, the same confirmation succeeds.
	h.sink.fail = nil
	done, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode)
	if err != nil {
		t.Fatalf("ConfirmDeletion after sink recovery: %v", err)
	}
	if done.Status != RequestStatusCompleted {
		t.Fatalf("request not completed: %+v", done)
	}
}

func TestConfirmDeletionResumesAfterFailedStep(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.RequestDeletion(context.Background(), "admin-1", "u-1", "org-1", "closure")
	if err != nil {
		t.Fatalf("RequestDeletion: %v", err)
	}

	h.vault.failOrgDelete = errors.New("collaborator down")
	if _, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode); err == nil {
		t.Fatal("expected cascade failure")
	}
	stored := h.store.requests[req.ID]
	if len(stored.CompletedSteps) != 1 || stored.CompletedSteps[0] != StepPersonalData {
		t.Fatalf("progress not persisted: %+v", stored.CompletedSteps)
	}

	h.vault.failOrgDelete = nil
	done, err := h.svc.ConfirmDeletion(context.Background(), "org-1", req.ID, req.ConfirmationCode)
	if err != nil {
		t.Fatalf("resumed ConfirmDeletion: %v", err)
	}
	if done.Status != RequestStatusCompleted {
		t.Fatalf("resumed request not completed: %+v", done)
	}
	// The already-completed step is not repeated on resume.
	if h.vault.personalDeletes != 1 {
		t.Fatalf("personal data deleted %d times", h.vault.personalDeletes)
	}
}
