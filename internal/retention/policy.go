package retention

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("retention: not found")
	ErrInvalidInput    = errors.New("retention: invalid input")
	ErrSweepInProgress = errors.New("retention: sweep already running")
)

// Resource types governed by retention policies. audit_log is the retention
// subsystem's own long-retention class; the rest mirror the protected resource
// types of the access layer.
const (
	ResourceMeeting   = "meeting"
	ResourceAction    = "action"
	ResourceCompany   = "company"
	ResourceUser      = "user"
	ResourceAnalytics = "analytics"
	ResourceFile      = "file"
	ResourceAuditLog  = "audit_log"
)

var validResources = map[string]struct{}{
	ResourceMeeting:   {},
	ResourceAction:    {},
	ResourceCompany:   {},
	ResourceUser:      {},
	ResourceAnalytics: {},
	ResourceFile:      {},
	ResourceAuditLog:  {},
}

// AuditLogRetentionDays is the compliance retention period for audit trails.
const AuditLogRetentionDays = 2555

// Policy governs how long one resource type is kept within an organization.
type Policy struct {
	OrganizationID     string    `json:"organization_id"`
	ResourceType       string    `json:"resource_type"`
	RetentionDays      int       `json:"retention_days"`
	AutoDelete         bool      `json:"auto_delete"`
	EncryptionRequired bool      `json:"encryption_required"`
	BackupRequired     bool      `json:"backup_required"`
	UpdatedAt          time.Time `json:"updated_at"`
}

var defaultPolicies = map[string]Policy{
	ResourceMeeting:   {ResourceType: ResourceMeeting, RetentionDays: 90, AutoDelete: true},
	ResourceAction:    {ResourceType: ResourceAction, RetentionDays: 180, AutoDelete: true},
	ResourceAnalytics: {ResourceType: ResourceAnalytics, RetentionDays: 365, AutoDelete: false},
	ResourceAuditLog: {
		ResourceType:       ResourceAuditLog,
		RetentionDays:      AuditLogRetentionDays,
		AutoDelete:         false,
		EncryptionRequired: true,
		BackupRequired:     true,
	},
}

// DefaultPolicy returns the built-in policy applied when an organization has
// not configured one for the resource type.
func DefaultPolicy(organizationID, resourceType string) (*Policy, error) {
	resourceType = strings.TrimSpace(resourceType)
	if _, ok := validResources[resourceType]; !ok {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, resourceType)
	}
	p, ok := defaultPolicies[resourceType]
	if !ok {
		p = Policy{ResourceType: resourceType, RetentionDays: 365, AutoDelete: false}
	}
	p.OrganizationID = organizationID
	return &p, nil
}

// Deletion lifecycle states. Due records move scheduled -> backed_up (when the
// policy requires a backup) -> deleted; a deleted record never reenters the
// sweep.
const (
	DeletionStatusScheduled = "scheduled"
	DeletionStatusBackedUp  = "backed_up"
	DeletionStatusDeleted   = "deleted"
)

// ScheduledDeletion is one resource queued for compliant deletion.
type ScheduledDeletion struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ResourceType   string     `json:"resource_type"`
	ResourceID     string     `json:"resource_id"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	DeleteAfter    time.Time  `json:"delete_after"`
	Status         string     `json:"status"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}
