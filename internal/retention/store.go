package retention

import (
	"context"
	"time"

	"maestro.org/internal/envelope"
)

// Backup is the encrypted snapshot of a resource taken before deletion.
type Backup struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	Envelope       envelope.Envelope `json:"envelope"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Store persists policies, the deletion queue, and backups. Policy writes are
// single-row atomic so concurrent reads never observe a half-written policy.
type Store interface {
	UpsertPolicy(ctx context.Context, policy *Policy) error
	FindPolicy(ctx context.Context, organizationID, resourceType string) (*Policy, error)
	ListPolicies(ctx context.Context, organizationID string) ([]Policy, error)

	CreateDeletion(ctx context.Context, d *ScheduledDeletion) error
	FindDeletion(ctx context.Context, organizationID, deletionID string) (*ScheduledDeletion, error)
	// Due returns records past their delete-after timestamp that are not yet
	// deleted, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]ScheduledDeletion, error)
	ExtendDeletion(ctx context.Context, organizationID, deletionID string, deleteAfter time.Time) error
	MarkBackedUp(ctx context.Context, deletionID string) error
	// MarkDeleted transitions a record to deleted and reports whether this call
	// performed the transition. A record already deleted returns false, which
	// is what makes the sweep idempotent.
	MarkDeleted(ctx context.Context, deletionID string, at time.Time) (bool, error)

	SaveBackup(ctx context.Context, backup *Backup) error

	// AcquireSweepLease takes the cluster-wide sweep lock. When acquired it
	// returns a release func; when another sweeper holds the lock it returns
	// acquired=false with no error.
	AcquireSweepLease(ctx context.Context) (release func(), acquired bool, err error)
}

// Resources is the external collaborator that owns the actual resource
// records. Snapshot returns the bytes to back up; Delete removes the record.
// Both return ErrNotFound when the resource is already gone, which the sweep
// treats as success.
type Resources interface {
	Snapshot(ctx context.Context, organizationID, resourceType, resourceID string) ([]byte, error)
	Delete(ctx context.Context, organizationID, resourceType, resourceID string) error
}
