package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of membership roles inside an organization.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleUser
}

// ComplianceMode caps how long an organization may retain data.
type ComplianceMode string

const (
	ComplianceStandard ComplianceMode = "standard"
	ComplianceGDPR     ComplianceMode = "gdpr"
	ComplianceHIPAA    ComplianceMode = "hipaa"
	ComplianceSOX      ComplianceMode = "sox"
)

// ParseComplianceMode normalizes and validates a compliance mode string.
func ParseComplianceMode(raw string) (ComplianceMode, error) {
	switch ComplianceMode(strings.TrimSpace(strings.ToLower(raw))) {
	case ComplianceStandard:
		return ComplianceStandard, nil
	case ComplianceGDPR:
		return ComplianceGDPR, nil
	case ComplianceHIPAA:
		return ComplianceHIPAA, nil
	case ComplianceSOX:
		return ComplianceSOX, nil
	default:
		return "", fmt.Errorf("%w: unknown compliance mode %q", ErrInvalidInput, raw)
	}
}

// MaxRetentionDays returns the retention ceiling imposed by the mode.
func (m ComplianceMode) MaxRetentionDays() int {
	switch m {
	case ComplianceGDPR, ComplianceHIPAA, ComplianceSOX:
		return 2555
	default:
		return 365
	}
}

const (
	userStatusActive   = "active"
	userStatusDisabled = "disabled"

	orgStatusActive      = "active"
	orgStatusDeactivated = "deactivated"
)

const (
	UserStatusActive   = userStatusActive
	UserStatusDisabled = userStatusDisabled

	OrgStatusActive      = orgStatusActive
	OrgStatusDeactivated = orgStatusDeactivated
)

// Organization is the tenant boundary. Organizations are soft-deactivated,
// never hard-deleted while referencing data exists.
type Organization struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	ComplianceMode     ComplianceMode `json:"compliance_mode"`
	EncryptionRequired bool           `json:"encryption_required"`
	Status             string         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// User belongs to exactly one organization; its role drives the default
// permission set.
type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	Status         string    `json:"status"`
	Verified       bool      `json:"verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
