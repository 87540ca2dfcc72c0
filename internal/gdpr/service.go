package gdpr

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maestro.org/internal/access"
	"maestro.org/internal/audit"
	"maestro.org/internal/ids"
	"maestro.org/internal/retention"
)

// exportRateWindow is the minimum spacing between two exports for one user.
const exportRateWindow = 24 * time.Hour

// auditTrailQueryLimit bounds the audit section of an export.
const auditTrailQueryLimit = 1000

// AccessChecker gates workflow entry points. Satisfied by access.Service.
type AccessChecker interface {
	Require(ctx context.Context, userID, organizationID string, resource access.ResourceType, perm access.Permission, resourceID string) error
}

// DeletionScheduler queues the audit trail for long-retention deletion.
// Satisfied by retention.Service.
type DeletionScheduler interface {
	ScheduleDeletion(ctx context.Context, organizationID, resourceType, resourceID string, retentionDays int) (*retention.ScheduledDeletion, error)
}

// Service runs the export and erasure workflows.
type Service struct {
	store     Store
	vault     Vault
	checker   AccessChecker
	scheduler DeletionScheduler
	aud       *audit.Logger
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, vault Vault, checker AccessChecker, scheduler DeletionScheduler, aud *audit.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("gdpr: store is required")
	}
	if vault == nil {
		return nil, errors.New("gdpr: vault is required")
	}
	if checker == nil {
		return nil, errors.New("gdpr: access checker is required")
	}
	if scheduler == nil {
		return nil, errors.New("gdpr: deletion scheduler is required")
	}
	if aud == nil {
		return nil, errors.New("gdpr: audit logger is required")
	}
	s := &Service{store: store, vault: vault, checker: checker, scheduler: scheduler, aud: aud, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Export assembles the user's personal data, organization-scoped data, and
// audit trail into one structure. A second export for the same user within
// 24 hours fails with ErrRateLimited; each section is recorded as it completes
// so a mid-export failure reports how far it got.
func (s *Service) Export(ctx context.Context, requestedBy, userID, organizationID string, format ExportFormat) (*Export, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if requestedBy == "" || userID == "" || organizationID == "" {
		return nil, fmt.Errorf("%w: requested_by, user_id and organization_id are required", ErrInvalidInput)
	}
	format, err := ParseExportFormat(string(format))
	if err != nil {
		return nil, err
	}
	if err := s.checker.Require(ctx, requestedBy, organizationID, access.ResourceUser, access.PermissionRead, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	last, err := s.store.LastExport(ctx, organizationID, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if elapsed := now.Sub(last.CreatedAt); elapsed < exportRateWindow {
			return nil, &RateLimitError{RetryAfter: exportRateWindow - elapsed}
		}
	}

	export := &Export{
		UserID:         userID,
		OrganizationID: organizationID,
		Format:         format,
		ExportedAt:     now,
	}
	if export.PersonalData, err = s.vault.PersonalData(ctx, organizationID, userID); err != nil {
		return nil, s.exportFailed(ctx, export, err)
	}
	export.CompletedSteps = append(export.CompletedSteps, StepPersonalData)

	if export.OrganizationData, err = s.vault.OrganizationData(ctx, organizationID, userID); err != nil {
		return nil, s.exportFailed(ctx, export, err)
	}
	export.CompletedSteps = append(export.CompletedSteps, StepOrganizationData)

	trail, err := s.aud.Query(ctx, organizationID, audit.Filter{UserID: userID, Limit: auditTrailQueryLimit})
	if err != nil {
		return nil, s.exportFailed(ctx, export, err)
	}
	export.AuditTrail = trail
	export.CompletedSteps = append(export.CompletedSteps, StepAuditTrail)

	record := &ExportRecord{
		ID:             ids.New(),
		OrganizationID: organizationID,
		UserID:         userID,
		RequestedBy:    requestedBy,
		Format:         format,
		CreatedAt:      now,
	}
	if err := s.store.CreateExportRecord(ctx, record); err != nil {
		return nil, err
	}
	s.aud.Log(ctx, &audit.Entry{
		Action:         audit.ActionDataExport,
		ResourceType:   "user",
		ResourceID:     userID,
		OrganizationID: organizationID,
		UserID:         requestedBy,
		Metadata: audit.GDPRMetadata{
			RequestID:      record.ID,
			Format:         string(format),
			CompletedSteps: export.CompletedSteps,
		},
	})
	return export, nil
}

func (s *Service) exportFailed(ctx context.Context, export *Export, cause error) error {
	s.aud.Log(ctx, &audit.Entry{
		Action:         audit.ActionDataExport,
		ResourceType:   "user",
		ResourceID:     export.UserID,
		OrganizationID: export.OrganizationID,
		Metadata: audit.GDPRMetadata{
			Format:         string(export.Format),
			CompletedSteps: export.CompletedSteps,
			Reason:         cause.Error(),
		},
	})
	return fmt.Errorf("gdpr: export failed after %d steps: %w", len(export.CompletedSteps), cause)
}

// ListExports returns the user's export history.
func (s *Service) ListExports(ctx context.Context, requestedBy, userID, organizationID string) ([]ExportRecord, error) {
	if err := s.checker.Require(ctx, strings.TrimSpace(requestedBy), organizationID, access.ResourceUser, access.PermissionRead, userID); err != nil {
		return nil, err
	}
	return s.store.ListExports(ctx, organizationID, userID)
}

// RequestDeletion creates a pending erasure request with a server-generated
// confirmation code. Nothing is deleted until the code is confirmed.
// requestedBy may be an admin acting on the user's behalf.
func (s *Service) RequestDeletion(ctx context.Context, requestedBy, userID, organizationID, reason string) (*DeletionRequest, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if requestedBy == "" || userID == "" || organizationID == "" {
		return nil, fmt.Errorf("%w: requested_by, user_id and organization_id are required", ErrInvalidInput)
	}
	if err := s.checker.Require(ctx, requestedBy, organizationID, access.ResourceUser, access.PermissionDelete, userID); err != nil {
		return nil, err
	}

	req := &DeletionRequest{
		ID:               ids.New(),
		OrganizationID:   organizationID,
		UserID:           userID,
		Reason:           strings.TrimSpace(reason),
		ConfirmationCode: uuid.NewString(),
		RequestedBy:      requestedBy,
		RequestedAt:      s.now().UTC(),
		Status:           RequestStatusPending,
	}
	if err := s.store.CreateDeletionRequest(ctx, req); err != nil {
		return nil, err
	}
	s.aud.Log(ctx, &audit.Entry{
		Action:         audit.ActionDeletionRequested,
		ResourceType:   "user",
		ResourceID:     userID,
		OrganizationID: organizationID,
		UserID:         requestedBy,
		Metadata: audit.GDPRMetadata{
			RequestID: req.ID,
			Reason:    req.Reason,
		},
	})
	return req, nil
}

// ConfirmDeletion verifies the confirmation code and runs the erasure cascade:
// personal data, organization data, then scheduling the audit trail for
// deletion at the compliance retention horizon. Each completed step is
// persisted before the next starts, so a failed cascade resumes where it
// stopped. A code mismatch mutates nothing and is audited as a security event.
func (s *Service) ConfirmDeletion(ctx context.Context, organizationID, requestID, confirmationCode string) (*DeletionRequest, error) {
	organizationID = strings.TrimSpace(organizationID)
	requestID = strings.TrimSpace(requestID)
	if organizationID == "" || requestID == "" {
		return nil, fmt.Errorf("%w: organization_id and request_id are required", ErrInvalidInput)
	}
	req, err := s.store.FindDeletionRequest(ctx, organizationID, requestID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(req.ConfirmationCode), []byte(confirmationCode)) != 1 {
		s.aud.Log(ctx, &audit.Entry{
			Action:         audit.ActionDeletionConfirmFailed,
			ResourceType:   "user",
			ResourceID:     req.UserID,
			OrganizationID: organizationID,
			Metadata:       audit.GDPRMetadata{RequestID: req.ID},
		})
		return nil, ErrInvalidConfirmationCode
	}
	if req.Status != RequestStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, req.Status)
	}

	if err := s.cascadeStep(ctx, req, StepPersonalData, func() error {
		return s.vault.DeletePersonalData(ctx, organizationID, req.UserID)
	}); err != nil {
		return nil, err
	}
	if err := s.cascadeStep(ctx, req, StepOrganizationData, func() error {
		return s.vault.DeleteOrganizationData(ctx, organizationID, req.UserID)
	}); err != nil {
		return nil, err
	}
	if err := s.cascadeStep(ctx, req, StepAuditTrailSchedule, func() error {
		// The audit trail is never erased immediately; it is scheduled out at
		// the compliance retention horizon.
		_, err := s.scheduler.ScheduleDeletion(ctx, organizationID, retention.ResourceAuditLog,
			req.UserID, retention.AuditLogRetentionDays)
		return err
	}); err != nil {
		return nil, err
	}

	// Log-then-act, same as access.Grant: the request is marked completed
	// only after the completion entry is confirmed.
	err = s.aud.LogConfirmed(ctx, &audit.Entry{
		Action:         audit.ActionDeletionCompleted,
		ResourceType:   "user",
		ResourceID:     req.UserID,
		OrganizationID: organizationID,
		Metadata: audit.GDPRMetadata{
			RequestID:      req.ID,
			CompletedSteps: req.CompletedSteps,
			Reason:         req.Reason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gdpr: deletion audit not confirmed: %w", err)
	}

	now := s.now().UTC()
	req.Status = RequestStatusCompleted
	req.CompletedAt = &now
	if err := s.store.UpdateDeletionRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// cascadeStep runs one erasure step unless a prior attempt already completed
// it, and persists the progress marker before moving on. Each destructive step
// is log-then-act: it runs only after its audit entry is confirmed.
func (s *Service) cascadeStep(ctx context.Context, req *DeletionRequest, step string, fn func() error) error {
	if req.stepDone(step) {
		return nil
	}
	err := s.aud.LogConfirmed(ctx, &audit.Entry{
		Action:         audit.ActionDataDelete,
		ResourceType:   "user",
		ResourceID:     req.UserID,
		OrganizationID: req.OrganizationID,
		Metadata: audit.GDPRMetadata{
			RequestID: req.ID,
			Step:      step,
		},
	})
	if err != nil {
		return fmt.Errorf("gdpr: erasure step %s audit not confirmed: %w", step, err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("gdpr: erasure step %s failed: %w", step, err)
	}
	req.CompletedSteps = append(req.CompletedSteps, step)
	return s.store.UpdateDeletionRequest(ctx, req)
}
