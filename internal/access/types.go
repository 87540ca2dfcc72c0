package access

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType is the closed set of protected resource kinds.
type ResourceType string

const (
	ResourceMeeting   ResourceType = "meeting"
	ResourceAction    ResourceType = "action"
	ResourceCompany   ResourceType = "company"
	ResourceUser      ResourceType = "user"
	ResourceAnalytics ResourceType = "analytics"
	ResourceFile      ResourceType = "file"
)

// ResourceTypes lists every known resource type, in matrix order.
var ResourceTypes = []ResourceType{
	ResourceMeeting, ResourceAction, ResourceCompany,
	ResourceUser, ResourceAnalytics, ResourceFile,
}

// ParseResourceType normalizes and validates a resource type string.
func ParseResourceType(raw string) (ResourceType, error) {
	rt := ResourceType(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range ResourceTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, raw)
}

// Permission is the closed set of actions on a resource.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionAdmin  Permission = "admin"
)

// Permissions lists every known permission.
var Permissions = []Permission{PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin}

// ParsePermission normalizes and validates a permission string.
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Permissions {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, raw)
}

const (
	grantStateActive  = "active"
	grantStateRevoked = "revoked"
)

// Grant is an explicit, resource-scoped permission beyond the role default.
// An empty ResourceID applies to every resource of the type. Grants only add
// permission; they never revoke what the role matrix already allows.
type Grant struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id"`
	ResourceType   ResourceType `json:"resource_type"`
	ResourceID     string       `json:"resource_id,omitempty"`
	Permission     Permission   `json:"permission"`
	GrantedBy      string       `json:"granted_by"`
	GrantedAt      time.Time    `json:"granted_at"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Active         bool         `json:"active"`
}

// Matches reports whether the grant satisfies the lookup tuple at the given
// instant. An expired or inactive grant never matches.
func (g Grant) Matches(userID, organizationID string, resource ResourceType, resourceID string, perm Permission, now time.Time) bool {
	if !g.Active {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	if g.UserID != userID || g.OrganizationID != organizationID {
		return false
	}
	if g.ResourceType != resource || g.Permission != perm {
		return false
	}
	if g.ResourceID != "" && g.ResourceID != resourceID {
		return false
	}
	return true
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
