package audit

import (
	"encoding/json"
	"time"
)

// Action identifies what happened. The set is closed so sinks and queries can
// rely on it.
type Action string

const (
	// Authentication events.
	ActionLogin       Action = "auth.login"
	ActionLoginFailed Action = "auth.login_failed"
	ActionLogout      Action = "auth.logout"

	// Data access events.
	ActionDataRead   Action = "data.read"
	ActionDataWrite  Action = "data.write"
	ActionDataDelete Action = "data.delete"
	ActionDataExport Action = "data.export"

	// File events.
	ActionFileEncrypt Action = "file.encrypt"
	ActionFileDecrypt Action = "file.decrypt"
	ActionFileDelete  Action = "file.delete"

	// Security events.
	ActionUnauthorizedAccess Action = "security.unauthorized_access"
	ActionBreachAttempt      Action = "security.breach_attempt"
	ActionSuspiciousActivity Action = "security.suspicious_activity"
	ActionKeyRotation        Action = "security.key_rotation"

	// Access grant ledger events.
	ActionGrantCreated Action = "access.grant_created"
	ActionGrantRevoked Action = "access.grant_revoked"

	// Retention events.
	ActionRetentionScheduled Action = "retention.scheduled"
	ActionRetentionExtended  Action = "retention.extended"
	ActionRetentionDeleted   Action = "retention.deleted"
	ActionRetentionBackedUp  Action = "retention.backed_up"

	// GDPR workflow events.
	ActionDeletionRequested     Action = "gdpr.deletion_requested"
	ActionDeletionConfirmFailed Action = "gdpr.deletion_confirm_failed"
	ActionDeletionCompleted     Action = "gdpr.deletion_completed"

	// API access.
	ActionAPIAccess Action = "api.access"
)

// Severity ranks how urgently an event needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classify maps an action to its severity.
func Classify(action Action) Severity {
	switch action {
	case ActionUnauthorizedAccess, ActionBreachAttempt, ActionDeletionConfirmFailed:
		return SeverityCritical
	case ActionSuspiciousActivity:
		return SeverityHigh
	case ActionKeyRotation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Metadata is the closed union of per-action event payloads. Each variant
// carries exactly the fields its action needs, instead of an open-ended map.
type Metadata interface {
	Kind() string
}

// AuthMetadata describes login/logout outcomes.
type AuthMetadata struct {
	Email   string `json:"email,omitempty"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func (AuthMetadata) Kind() string { return "auth" }

// DataAccessMetadata describes reads and writes of protected records.
type DataAccessMetadata struct {
	Operation string   `json:"operation"`
	Fields    []string `json:"fields,omitempty"`
}

func (DataAccessMetadata) Kind() string { return "data_access" }

// FileMetadata describes encrypted file operations.
type FileMetadata struct {
	FileName    string `json:"file_name,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	KeyID       string `json:"key_id,omitempty"`
}

func (FileMetadata) Kind() string { return "file" }

// SecurityMetadata carries the internal detail of a security event. The
// detail stays in the log; callers only ever see coarse errors.
type SecurityMetadata struct {
	Detail string `json:"detail"`
}

func (SecurityMetadata) Kind() string { return "security" }

// GrantChangeMetadata records the old and new state of a grant mutation.
type GrantChangeMetadata struct {
	GrantID      string `json:"grant_id"`
	TargetUserID string `json:"target_user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Permission   string `json:"permission"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	OldState     string `json:"old_state"`
	NewState     string `json:"new_state"`
}

func (GrantChangeMetadata) Kind() string { return "grant_change" }

// RetentionMetadata records scheduling and execution of deletions.
type RetentionMetadata struct {
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
	DeleteAfter   string `json:"delete_after,omitempty"`
	BackedUp      bool   `json:"backed_up,omitempty"`
}

func (RetentionMetadata) Kind() string { return "retention" }

// GDPRMetadata records export and erasure workflow progress.
type GDPRMetadata struct {
	RequestID      string   `json:"request_id,omitempty"`
	Format         string   `json:"format,omitempty"`
	Step           string   `json:"step,omitempty"`
	CompletedSteps []string `json:"completed_steps,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

func (GDPRMetadata) Kind() string { return "gdpr" }

// APIAccessMetadata records boundary-level request info.
type APIAccessMetadata struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status"`
}

func (APIAccessMetadata) Kind() string { return "api_access" }

// Entry is one append-only audit record. Entries are never mutated; only the
// retention subsystem's own long-retention policy may remove them.
type Entry struct {
	ID             string          `json:"id"`
	Action         Action          `json:"action"`
	Severity       Severity        `json:"severity"`
	ResourceType   string          `json:"resource_type"`
	ResourceID     string          `json:"resource_id,omitempty"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id,omitempty"`
	IP             string          `json:"ip,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Metadata       Metadata        `json:"metadata,omitempty"`
	RawMetadata    json.RawMessage `json:"raw_metadata,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
