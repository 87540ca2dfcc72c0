package access

import (
	"context"

	"maestro.org/internal/auth"
)

// MemberDirectory resolves a user's membership within an organization.
// Satisfied by auth.Service.
type MemberDirectory interface {
	Member(ctx context.Context, organizationID, userID string) (*auth.User, error)
}

// Store persists the grant ledger. Writes are single-row atomic so concurrent
// checks never observe a half-written grant.
type Store interface {
	Create(ctx context.Context, grant *Grant) error
	Find(ctx context.Context, organizationID, grantID string) (*Grant, error)
	// ActiveGrants returns the user's active grants for one resource type.
	// Expiry is evaluated by the caller against its own clock.
	ActiveGrants(ctx context.Context, organizationID, userID string, resource ResourceType) ([]Grant, error)
	Revoke(ctx context.Context, organizationID, grantID string) error
}
