package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/ids"
	"maestro.org/internal/obs"
)

// sensitiveResources are the types whose denials are mirrored into the audit
// log as security events.
var sensitiveResources = map[ResourceType]struct{}{
	ResourceCompany: {},
	ResourceUser:    {},
	ResourceFile:    {},
}

// Service evaluates permissions and maintains the grant ledger.
type Service struct {
	members MemberDirectory
	store   Store
	aud     *audit.Logger
	now     func() time.Time
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
func NewService(members MemberDirectory, store Store, aud *audit.Logger, opts ...ServiceOption) (*Service, error) {
	if members == nil {
		return nil, errors.New("access: member directory is required")
	}
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if aud == nil {
		return nil, errors.New("access: audit logger is required")
	}
	s := &Service{members: members, store: store, aud: aud, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Check decides whether the user may perform the permission on the resource.
// Evaluation order: membership (fail closed), static role matrix, then the
// grant ledger. Grants only ever widen access.
func (s *Service) Check(ctx context.Context, userID, organizationID string, resource ResourceType, perm Permission, resourceID string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	organizationID = strings.TrimSpace(organizationID)
	if userID == "" || organizationID == "" {
		return Decision{}, fmt.Errorf("%w: user_id and organization_id are required", ErrInvalidInput)
	}

	decision, err := s.check(ctx, userID, organizationID, resource, perm, resourceID)
	if err != nil {
		return Decision{}, err
	}
	obs.ObservePermissionCheck(decision.Allowed)
	if !decision.Allowed {
		if _, sensitive := sensitiveResources[resource]; sensitive {
			s.aud.Security(ctx, audit.ActionUnauthorizedAccess, organizationID, string(resource), resourceID,
				fmt.Sprintf("user %s denied %s on %s: %s", userID, perm, resource, decision.Reason))
		}
	}
	return decision, nil
}

func (s *Service) check(ctx context.Context, userID, organizationID string, resource ResourceType, perm Permission, resourceID string) (Decision, error) {
	member, err := s.members.Member(ctx, organizationID, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Decision{Allowed: false, Reason: "user is not a member of the organization"}, nil
		}
		return Decision{}, err
	}
	if member.Status != auth.UserStatusActive {
		return Decision{Allowed: false, Reason: "user is disabled"}, nil
	}

	if roleAllows(member.Role, resource, perm) {
		return Decision{Allowed: true, Reason: "role " + string(member.Role)}, nil
	}

	grants, err := s.store.ActiveGrants(ctx, organizationID, userID, resource)
	if err != nil {
		return Decision{}, err
	}
	now := s.now()
	for _, g := range grants {
		if g.Matches(userID, organizationID, resource, resourceID, perm, now) {
			return Decision{Allowed: true, Reason: "explicit grant " + g.ID}, nil
		}
	}
	return Decision{Allowed: false, Reason: "no role permission or matching grant"}, nil
}

// Require is a convenience wrapper that converts a denial into
// ErrPermissionDenied.
func (s *Service) Require(ctx context.Context, userID, organizationID string, resource ResourceType, perm Permission, resourceID string) error {
	decision, err := s.Check(ctx, userID, organizationID, resource, perm, resourceID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Reason)
	}
	return nil
}

// Grant issues an explicit permission. Log-then-act: the grant is aborted if
// the audit write cannot be confirmed.
func (s *Service) Grant(ctx context.Context, grant Grant) (*Grant, error) {
	grant.UserID = strings.TrimSpace(grant.UserID)
	grant.OrganizationID = strings.TrimSpace(grant.OrganizationID)
	grant.GrantedBy = strings.TrimSpace(grant.GrantedBy)
	if grant.UserID == "" || grant.OrganizationID == "" || grant.GrantedBy == "" {
		return nil, fmt.Errorf("%w: user_id, organization_id and granted_by are required", ErrInvalidInput)
	}
	if _, err := ParseResourceType(string(grant.ResourceType)); err != nil {
		return nil, err
	}
	if _, err := ParsePermission(string(grant.Permission)); err != nil {
		return nil, err
	}
	if _, err := s.members.Member(ctx, grant.OrganizationID, grant.UserID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: grantee is not a member of the organization", ErrInvalidInput)
		}
		return nil, err
	}
	if grant.ExpiresAt != nil && !grant.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	grant.ID = ids.New()
	grant.GrantedAt = s.now().UTC()
	grant.Active = true

	meta := audit.GrantChangeMetadata{
		GrantID:      grant.ID,
		TargetUserID: grant.UserID,
		ResourceType: string(grant.ResourceType),
		ResourceID:   grant.ResourceID,
		Permission:   string(grant.Permission),
		OldState:     "absent",
		NewState:     grantStateActive,
	}
	if grant.ExpiresAt != nil {
		meta.ExpiresAt = grant.ExpiresAt.UTC().Format(time.RFC3339)
	}
	err := s.aud.LogConfirmed(ctx, &audit.Entry{
		Action:         audit.ActionGrantCreated,
		ResourceType:   string(grant.ResourceType),
		ResourceID:     grant.ResourceID,
		OrganizationID: grant.OrganizationID,
		UserID:         grant.GrantedBy,
		Metadata:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("access: grant audit not confirmed: %w", err)
	}

	if err := s.store.Create(ctx, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Revoke deactivates a grant. Log-then-act, same as Grant.
func (s *Service) Revoke(ctx context.Context, organizationID, grantID, revokedBy string) error {
	organizationID = strings.TrimSpace(organizationID)
	grantID = strings.TrimSpace(grantID)
	if organizationID == "" || grantID == "" {
		return fmt.Errorf("%w: organization_id and grant_id are required", ErrInvalidInput)
	}
	grant, err := s.store.Find(ctx, organizationID, grantID)
	if err != nil {
		return err
	}
	if !grant.Active {
		return fmt.Errorf("%w: grant already revoked", ErrInvalidInput)
	}

	err = s.aud.LogConfirmed(ctx, &audit.Entry{
		Action:         audit.ActionGrantRevoked,
		ResourceType:   string(grant.ResourceType),
		ResourceID:     grant.ResourceID,
		OrganizationID: organizationID,
		UserID:         strings.TrimSpace(revokedBy),
		Metadata: audit.GrantChangeMetadata{
			GrantID:      grant.ID,
			TargetUserID: grant.UserID,
			ResourceType: string(grant.ResourceType),
			ResourceID:   grant.ResourceID,
			Permission:   string(grant.Permission),
			OldState:     grantStateActive,
			NewState:     grantStateRevoked,
		},
	})
	if err != nil {
		return fmt.Errorf("access: revoke audit not confirmed: %w", err)
	}

	return s.store.Revoke(ctx, organizationID, grantID)
}
