package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultAccessTTL = 15 * time.Minute

// Service provides identity operations: organizations, users, and logins.
type Service struct {
	store     Store
	now       func() time.Time
	accessTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:     store,
		now:       time.Now,
		accessTTL: defaultAccessTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateOrganization registers a new tenant.
func (s *Service) CreateOrganization(ctx context.Context, name, complianceMode string, encryptionRequired bool) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	mode := ComplianceStandard
	if strings.TrimSpace(complianceMode) != "" {
		parsed, err := ParseComplianceMode(complianceMode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}
	org := &Organization{
		Name:               name,
		ComplianceMode:     mode,
		EncryptionRequired: encryptionRequired,
		Status:             orgStatusActive,
	}
	if err := s.store.Organizations().Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization loads one tenant.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.Organizations().Find(ctx, id)
}

// UpdateSecurityPolicy changes a tenant's compliance mode and encryption flag.
func (s *Service) UpdateSecurityPolicy(ctx context.Context, orgID, complianceMode string, encryptionRequired bool) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	mode, err := ParseComplianceMode(complianceMode)
	if err != nil {
		return err
	}
	return s.store.Organizations().UpdateSecurityPolicy(ctx, orgID, mode, encryptionRequired)
}

// DeactivateOrganization soft-disables a tenant. Referencing data is kept.
func (s *Service) DeactivateOrganization(ctx context.Context, orgID string) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.Organizations().Deactivate(ctx, orgID)
}

// CreateUser registers a member of an organization.
func (s *Service) CreateUser(ctx context.Context, organizationID, email, password, role string) (*User, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	parsedRole, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user := &User{
		OrganizationID: organizationID,
		Email:          email,
		PasswordHash:   hash,
		Role:           parsedRole,
		Status:         userStatusActive,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Member resolves a user within a specific organization. Fails closed when
// the user does not belong to the organization.
func (s *Service) Member(ctx context.Context, organizationID, userID string) (*User, error) {
	organizationID = strings.TrimSpace(organizationID)
	userID = strings.TrimSpace(userID)
	if organizationID == "" || userID == "" {
		return nil, fmt.Errorf("%w: organization_id and user_id are required", ErrInvalidInput)
	}
	return s.store.Users().FindMember(ctx, organizationID, userID)
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrUnauthorized
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrUnauthorized
	}
	if user.Status != userStatusActive {
		return "", nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrUnauthorized
	}
	token, err := GenerateToken(user.ID, user.OrganizationID, user.Role, s.accessTTL)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}
