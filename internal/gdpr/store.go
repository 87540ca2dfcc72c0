package gdpr

import "context"

// Store persists export records and deletion requests.
type Store interface {
	CreateExportRecord(ctx context.Context, record *ExportRecord) error
	// LastExport returns the most recent export record for the user, or
	// ErrNotFound when the user has never exported.
	LastExport(ctx context.Context, organizationID, userID string) (*ExportRecord, error)
	ListExports(ctx context.Context, organizationID, userID string) ([]ExportRecord, error)

	CreateDeletionRequest(ctx context.Context, req *DeletionRequest) error
	FindDeletionRequest(ctx context.Context, organizationID, requestID string) (*DeletionRequest, error)
	// UpdateDeletionRequest persists status, completed steps, and completion
	// time in one write so a crashed cascade resumes from the recorded steps.
	UpdateDeletionRequest(ctx context.Context, req *DeletionRequest) error
}

// Vault is the external collaborator holding the user's actual data. Export
// reads through it; confirmed deletion cascades through it.
type Vault interface {
	PersonalData(ctx context.Context, organizationID, userID string) (map[string]any, error)
	OrganizationData(ctx context.Context, organizationID, userID string) (map[string]any, error)
	DeletePersonalData(ctx context.Context, organizationID, userID string) error
	DeleteOrganizationData(ctx context.Context, organizationID, userID string) error
}
