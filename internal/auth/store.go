package auth

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
}

// OrganizationStore manages organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
	UpdateSecurityPolicy(ctx context.Context, id string, mode ComplianceMode, encryptionRequired bool) error
	Deactivate(ctx context.Context, id string) error
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindMember(ctx context.Context, organizationID, userID string) (*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
	UpdateStatus(ctx context.Context, userID, status string) error
	Delete(ctx context.Context, userID string) error
}
