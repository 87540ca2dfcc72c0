package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/envelope"
	"maestro.org/internal/ids"
	"maestro.org/internal/obs"
)

// sweepBatchSize bounds how many due records one sweep pass processes.
const sweepBatchSize = 500

// OrganizationDirectory resolves an organization's compliance settings.
// Satisfied by auth.Service.
type OrganizationDirectory interface {
	GetOrganization(ctx context.Context, id string) (*auth.Organization, error)
}

// Service owns retention policies and executes compliant deletion.
type Service struct {
	store     Store
	orgs      OrganizationDirectory
	resources Resources
	crypt     *envelope.Service
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
func NewService(store Store, orgs OrganizationDirectory, resources Resources, crypt *envelope.Service, aud *audit.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("retention: store is required")
	}
	if orgs == nil {
		return nil, errors.New("retention: organization directory is required")
	}
	if resources == nil {
		return nil, errors.New("retention: resources are required")
	}
	if crypt == nil {
		return nil, errors.New("retention: envelope service is required")
	}
	if aud == nil {
		return nil, errors.New("retention: audit logger is required")
	}
	s := &Service{store: store, orgs: orgs, resources: resources, crypt: crypt, aud: aud, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetPolicy returns the organization's policy for the resource type, falling
// back to the built-in default when none is configured.
func (s *Service) GetPolicy(ctx context.Context, organizationID, resourceType string) (*Policy, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	policy, err := s.store.FindPolicy(ctx, organizationID, strings.TrimSpace(resourceType))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DefaultPolicy(organizationID, resourceType)
		}
		return nil, err
	}
	return policy, nil
}

// ListPolicies returns the effective policy for every governed resource type,
// merging configured policies over the defaults.
func (s *Service) ListPolicies(ctx context.Context, organizationID string) ([]Policy, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	configured, err := s.store.ListPolicies(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]Policy, len(configured))
	for _, p := range configured {
		byType[p.ResourceType] = p
	}
	var res []Policy
	for _, resourceType := range []string{ResourceMeeting, ResourceAction, ResourceCompany, ResourceUser, ResourceAnalytics, ResourceFile, ResourceAuditLog} {
		if p, ok := byType[resourceType]; ok {
			res = append(res, p)
			continue
		}
		p, err := DefaultPolicy(organizationID, resourceType)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, nil
}

// SetPolicy stores an organization policy after validating it against the
// organization's compliance-mode ceiling. Audit-log retention is pinned: it
// always stays encrypted, backed up, and out of the auto-delete sweep.
func (s *Service) SetPolicy(ctx context.Context, policy Policy) (*Policy, error) {
	policy.OrganizationID = strings.TrimSpace(policy.OrganizationID)
	policy.ResourceType = strings.TrimSpace(policy.ResourceType)
	if policy.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if _, ok := validResources[policy.ResourceType]; !ok {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, policy.ResourceType)
	}
	if policy.RetentionDays < 1 {
		return nil, fmt.Errorf("%w: retention_days must be at least 1", ErrInvalidInput)
	}

	org, err := s.orgs.GetOrganization(ctx, policy.OrganizationID)
	if err != nil {
		return nil, err
	}
	if ceiling := org.ComplianceMode.MaxRetentionDays(); policy.RetentionDays > ceiling {
		return nil, fmt.Errorf("%w: retention_days %d exceeds %s ceiling of %d",
			ErrInvalidInput, policy.RetentionDays, org.ComplianceMode, ceiling)
	}

	if policy.ResourceType == ResourceAuditLog {
		policy.AutoDelete = false
		policy.EncryptionRequired = true
		policy.BackupRequired = true
	}
	policy.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertPolicy(ctx, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ScheduleDeletion queues a resource for deletion after the retention period.
// A zero retentionDays takes the policy's period.
func (s *Service) ScheduleDeletion(ctx context.Context, organizationID, resourceType, resourceID string, retentionDays int) (*ScheduledDeletion, error) {
	organizationID = strings.TrimSpace(organizationID)
	resourceID = strings.TrimSpace(resourceID)
	if organizationID == "" || resourceID == "" {
		return nil, fmt.Errorf("%w: organization_id and resource_id are required", ErrInvalidInput)
	}
	policy, err := s.GetPolicy(ctx, organizationID, resourceType)
	if err != nil {
		return nil, err
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: retention_days must not be negative", ErrInvalidInput)
	}
	if retentionDays == 0 {
		retentionDays = policy.RetentionDays
	}

	now := s.now().UTC()
	d := &ScheduledDeletion{
		ID:             ids.New(),
		OrganizationID: organizationID,
		ResourceType:   policy.ResourceType,
		ResourceID:     resourceID,
		ScheduledAt:    now,
		DeleteAfter:    now.Add(time.Duration(retentionDays) * 24 * time.Hour),
		Status:         DeletionStatusScheduled,
	}
	if err := s.store.CreateDeletion(ctx, d); err != nil {
		return nil, err
	}
	s.aud.Retention(ctx, audit.ActionRetentionScheduled, organizationID, audit.RetentionMetadata{
		ResourceType:  d.ResourceType,
		ResourceID:    d.ResourceID,
		RetentionDays: retentionDays,
		DeleteAfter:   d.DeleteAfter.Format(time.RFC3339),
	})
	return d, nil
}

// ExtendRetention pushes a pending deletion further out.
func (s *Service) ExtendRetention(ctx context.Context, organizationID, deletionID string, additionalDays int) (*ScheduledDeletion, error) {
	organizationID = strings.TrimSpace(organizationID)
	deletionID = strings.TrimSpace(deletionID)
	if organizationID == "" || deletionID == "" {
		return nil, fmt.Errorf("%w: organization_id and deletion_id are required", ErrInvalidInput)
	}
	if additionalDays < 1 {
		return nil, fmt.Errorf("%w: additional_days must be at least 1", ErrInvalidInput)
	}
	d, err := s.store.FindDeletion(ctx, organizationID, deletionID)
	if err != nil {
		return nil, err
	}
	if d.Status == DeletionStatusDeleted {
		return nil, fmt.Errorf("%w: resource already deleted", ErrInvalidInput)
	}

	d.DeleteAfter = d.DeleteAfter.Add(time.Duration(additionalDays) * 24 * time.Hour)
	if err := s.store.ExtendDeletion(ctx, organizationID, deletionID, d.DeleteAfter); err != nil {
		return nil, err
	}
	s.aud.Retention(ctx, audit.ActionRetentionExtended, organizationID, audit.RetentionMetadata{
		ResourceType:  d.ResourceType,
		ResourceID:    d.ResourceID,
		RetentionDays: additionalDays,
		DeleteAfter:   d.DeleteAfter.Format(time.RFC3339),
	})
	return d, nil
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Deleted  int
	BackedUp int
	Failed   int
}

// RunSweep processes all due deletions: backup first when the policy requires
// it, then delete, then audit. A second sweeper finding the lease taken
// returns ErrSweepInProgress. Running the sweep twice over the same dataset is
// a no-op the second time.
func (s *Service) RunSweep(ctx context.Context) (SweepResult, error) {
	release, acquired, err := s.store.AcquireSweepLease(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if !acquired {
		return SweepResult{}, ErrSweepInProgress
	}
	defer release()

	var res SweepResult
	due, err := s.store.Due(ctx, s.now().UTC(), sweepBatchSize)
	if err != nil {
		return res, err
	}
	for _, d := range due {
		if err := s.sweepOne(ctx, &d, &res); err != nil {
			res.Failed++
			obs.Logger().Printf(`{"type":"retention_sweep_error","deletion_id":%q,"error":%q}`, d.ID, err.Error())
		}
	}
	return res, nil
}

func (s *Service) sweepOne(ctx context.Context, d *ScheduledDeletion, res *SweepResult) error {
	policy, err := s.GetPolicy(ctx, d.OrganizationID, d.ResourceType)
	if err != nil {
		return err
	}

	backedUp := d.Status == DeletionStatusBackedUp
	if policy.BackupRequired && !backedUp {
		switch payload, err := s.resources.Snapshot(ctx, d.OrganizationID, d.ResourceType, d.ResourceID); {
		case errors.Is(err, ErrNotFound):
			// Resource vanished out of band; nothing left to back up.
		case err != nil:
			return err
		default:
			env, err := s.crypt.EncryptFile(ctx, payload, d.OrganizationID)
			if err != nil {
				return err
			}
			backup := &Backup{
				ID:             ids.New(),
				OrganizationID: d.OrganizationID,
				ResourceType:   d.ResourceType,
				ResourceID:     d.ResourceID,
				Envelope:       *env,
				CreatedAt:      s.now().UTC(),
			}
			if err := s.store.SaveBackup(ctx, backup); err != nil {
				return err
			}
			if err := s.store.MarkBackedUp(ctx, d.ID); err != nil {
				return err
			}
			backedUp = true
			res.BackedUp++
			s.aud.Retention(ctx, audit.ActionRetentionBackedUp, d.OrganizationID, audit.RetentionMetadata{
				ResourceType: d.ResourceType,
				ResourceID:   d.ResourceID,
				BackedUp:     true,
			})
		}
	}

	if err := s.resources.Delete(ctx, d.OrganizationID, d.ResourceType, d.ResourceID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	transitioned, err := s.store.MarkDeleted(ctx, d.ID, s.now().UTC())
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	res.Deleted++
	obs.ObserveRetentionDeletion()
	s.aud.Retention(ctx, audit.ActionRetentionDeleted, d.OrganizationID, audit.RetentionMetadata{
		ResourceType: d.ResourceType,
		ResourceID:   d.ResourceID,
		BackedUp:     backedUp,
	})
	return nil
}
