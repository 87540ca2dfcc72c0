package audit

import (
	"context"
	"time"
)

// Sink persists append-only audit entries.
type Sink interface {
	Append(ctx context.Context, entry *Entry) error
	// Query returns entries for exactly one organization. Cross-organization
	// queries are not representable.
	Query(ctx context.Context, organizationID string, f Filter) ([]Entry, error)
}

// Filter narrows an organization-scoped query.
type Filter struct {
	Action       Action
	ResourceType string
	UserID       string
	Since        time.Time
	Until        time.Time
	Limit        int
}
