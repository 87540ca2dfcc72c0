// Package gdpr orchestrates data export and right-to-erasure workflows on top
// of the access, audit, and retention layers. It owns no domain data of its
// own beyond export records and deletion requests.
package gdpr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                = errors.New("gdpr: not found")
	ErrInvalidInput            = errors.New("gdpr: invalid input")
	ErrRateLimited             = errors.New("gdpr: export rate limit exceeded")
	ErrInvalidConfirmationCode = errors.New("gdpr: invalid confirmation code")
	ErrInvalidState            = errors.New("gdpr: deletion request is not pending")
)

// RateLimitError carries the retry-after hint for the boundary.
// errors.Is(err, ErrRateLimited) holds for it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gdpr: export rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ExportFormat is the closed set of export output formats.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatPDF  ExportFormat = "pdf"
)

// ParseExportFormat normalizes and validates an export format string.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.TrimSpace(strings.ToLower(raw))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", ErrInvalidInput, raw)
	}
}

// Export workflow step names, recorded as each section completes so an
// interrupted run reports exactly how far it got.
const (
	StepPersonalData       = "personal_data"
	StepOrganizationData   = "organization_data"
	StepAuditTrail         = "audit_trail"
	StepAuditTrailSchedule = "audit_trail_scheduled"
)

// Export is the assembled result of one export request.
type Export struct {
	UserID           string         `json:"user_id"`
	OrganizationID   string         `json:"organization_id"`
	Format           ExportFormat   `json:"format"`
	ExportedAt       time.Time      `json:"exported_at"`
	PersonalData     map[string]any `json:"personal_data"`
	OrganizationData map[string]any `json:"organization_data"`
	AuditTrail       any            `json:"audit_trail"`
	CompletedSteps   []string       `json:"completed_steps"`
}

// ExportRecord is the persisted trace of an export, used for history listings
// and the per-user rate limit.
type ExportRecord struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	UserID         string       `json:"user_id"`
	RequestedBy    string       `json:"requested_by"`
	Format         ExportFormat `json:"format"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Deletion request states.
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCompleted = "completed"
)

// DeletionRequest tracks one right-to-erasure request from creation through
// confirmed cascade.
type DeletionRequest struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	UserID           string     `json:"user_id"`
	Reason           string     `json:"reason"`
	ConfirmationCode string     `json:"-"`
	RequestedBy      string     `json:"requested_by"`
	RequestedAt      time.Time  `json:"requested_at"`
	Status           string     `json:"status"`
	CompletedSteps   []string   `json:"completed_steps,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (r *DeletionRequest) stepDone(step string) bool {
	for _, s := range r.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}
