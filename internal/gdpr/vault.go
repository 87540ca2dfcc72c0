package gdpr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maestro.org/internal/auth"
)

var _ Vault = (*DirectoryVault)(nil)

// DirectoryVault is a Vault over the identity store. Domain collaborators
// (meetings, files, analytics) hold their records outside this module; they
// plug in their own Vault that composes this one.
type DirectoryVault struct {
	store auth.Store
}

func NewDirectoryVault(store auth.Store) *DirectoryVault {
	return &DirectoryVault{store: store}
}

func (v *DirectoryVault) PersonalData(ctx context.Context, organizationID, userID string) (map[string]any, error) {
	u, err := v.store.Users().FindMember(ctx, organizationID, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, err
	}
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"role":       string(u.Role),
		"status":     u.Status,
		"verified":   u.Verified,
		"created_at": u.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (v *DirectoryVault) OrganizationData(ctx context.Context, organizationID, _ string) (map[string]any, error) {
	org, err := v.store.Organizations().Find(ctx, organizationID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: organization %s", ErrNotFound, organizationID)
		}
		return nil, err
	}
	return map[string]any{
		"id":                  org.ID,
		"name":                org.Name,
		"compliance_mode":     string(org.ComplianceMode),
		"encryption_required": org.EncryptionRequired,
	}, nil
}

func (v *DirectoryVault) DeletePersonalData(ctx context.Context, organizationID, userID string) error {
	if _, err := v.store.Users().FindMember(ctx, organizationID, userID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// Already gone; the cascade stays resumable.
			return nil
		}
		return err
	}
	return v.store.Users().Delete(ctx, userID)
}

func (v *DirectoryVault) DeleteOrganizationData(context.Context, string, string) error {
	// Organization-scoped records live with the external collaborators that
	// created them; the identity store keeps the organization row itself so
	// remaining members and audit references stay resolvable.
	return nil
}
