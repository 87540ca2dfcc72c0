package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"maestro.org/internal/alert"
	"maestro.org/internal/auth"
	"maestro.org/internal/ids"
	"maestro.org/internal/obs"
)

type ctxKey string

const requestMetaKey ctxKey = "audit_request_meta"

// RequestMeta carries boundary-supplied request attributes into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
	SessionID string
}

// WithRequestMeta attaches request attributes to the context for audit logging.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey, meta)
}

func requestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	if v, ok := ctx.Value(requestMetaKey).(RequestMeta); ok {
		return v
	}
	return RequestMeta{}
}

// Logger is the append-only event sink facade. An ordinary Log never aborts
// the triggering operation; security-critical call sites use LogConfirmed and
// abort when the write cannot be confirmed.
type Logger struct {
	sink   Sink
	alerts *alert.Hub
	now    func() time.Time
}

// NewLogger constructs a Logger over the given sink.
func NewLogger(sink Sink, opts ...LoggerOption) (*Logger, error) {
	if sink == nil {
		return nil, errors.New("audit: sink is required")
	}
	l := &Logger{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoggerOption configures Logger behavior.
type LoggerOption func(*Logger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) LoggerOption {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithAlertHub mirrors high-severity entries into the live alert hub after
// the sink confirms them.
func WithAlertHub(h *alert.Hub) LoggerOption {
	return func(l *Logger) {
		l.alerts = h
	}
}

func (l *Logger) prepare(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("audit: entry is required")
	}
	if strings.TrimSpace(string(entry.Action)) == "" {
		return errors.New("audit: action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = Classify(entry.Action)
	}
	meta := requestMetaFromContext(ctx)
	if entry.IP == "" {
		entry.IP = meta.IP
	}
	if entry.UserAgent == "" {
		entry.UserAgent = meta.UserAgent
	}
	if entry.SessionID == "" {
		entry.SessionID = meta.SessionID
	}
	if entry.UserID == "" {
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			entry.UserID = userID
		}
	}
	return nil
}

// Log appends an entry. A sink failure is escalated to the dead-letter log
// line but never propagated, so the primary action proceeds.
func (l *Logger) Log(ctx context.Context, entry *Entry) {
	if err := l.LogConfirmed(ctx, entry); err != nil {
		l.deadLetter(entry, err)
	}
}

// LogConfirmed appends an entry and reports whether the write was confirmed.
// Callers performing security-critical actions log first and abort on error.
func (l *Logger) LogConfirmed(ctx context.Context, entry *Entry) error {
	if err := l.prepare(ctx, entry); err != nil {
		return err
	}
	if err := l.sink.Append(ctx, entry); err != nil {
		return err
	}
	obs.ObserveAuditEvent(string(entry.Severity))
	if l.alerts != nil && (entry.Severity == SeverityHigh || entry.Severity == SeverityCritical) {
		l.alerts.Publish(alert.Event{
			ID:             entry.ID,
			Action:         string(entry.Action),
			Severity:       string(entry.Severity),
			OrganizationID: entry.OrganizationID,
			UserID:         entry.UserID,
			ResourceType:   entry.ResourceType,
			ResourceID:     entry.ResourceID,
			OccurredAt:     entry.OccurredAt,
		})
	}
	return nil
}

// deadLetter emits the entry as a JSON log line so it is not lost silently.
func (l *Logger) deadLetter(entry *Entry, cause error) {
	line := map[string]any{
		"ts":    l.now().UTC().Format(time.RFC3339Nano),
		"type":  "audit_dead_letter",
		"error": cause.Error(),
	}
	if entry != nil {
		line["action"] = string(entry.Action)
		line["organization_id"] = entry.OrganizationID
		line["user_id"] = entry.UserID
		line["resource_type"] = entry.ResourceType
		line["resource_id"] = entry.ResourceID
	}
	data, err := json.Marshal(line)
	if err != nil {
		obs.Logger().Println(`{"type":"audit_dead_letter","error":"marshal failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}

// Query returns entries scoped to one organization.
func (l *Logger) Query(ctx context.Context, organizationID string, f Filter) ([]Entry, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, errors.New("audit: organization_id is required")
	}
	return l.sink.Query(ctx, organizationID, f)
}

// Auth records an authentication event.
func (l *Logger) Auth(ctx context.Context, action Action, orgID, userID string, meta AuthMetadata) {
	l.Log(ctx, &Entry{
		Action:         action,
		ResourceType:   "user",
		ResourceID:     userID,
		OrganizationID: orgID,
		UserID:         userID,
		Metadata:       meta,
	})
}

// DataAccess records a read/write against a protected resource.
func (l *Logger) DataAccess(ctx context.Context, action Action, orgID, resourceType, resourceID string, meta DataAccessMetadata) {
	l.Log(ctx, &Entry{
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		OrganizationID: orgID,
		Metadata:       meta,
	})
}

// FileOp records an encrypted file operation.
func (l *Logger) FileOp(ctx context.Context, action Action, orgID, fileID string, meta FileMetadata) {
	l.Log(ctx, &Entry{
		Action:         action,
		ResourceType:   "file",
		ResourceID:     fileID,
		OrganizationID: orgID,
		Metadata:       meta,
	})
}

// Security records a security event; severity comes from the classifier.
func (l *Logger) Security(ctx context.Context, action Action, orgID, resourceType, resourceID, detail string) {
	l.Log(ctx, &Entry{
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		OrganizationID: orgID,
		Metadata:       SecurityMetadata{Detail: detail},
	})
}

// Retention records a retention lifecycle event.
func (l *Logger) Retention(ctx context.Context, action Action, orgID string, meta RetentionMetadata) {
	l.Log(ctx, &Entry{
		Action:         action,
		ResourceType:   meta.ResourceType,
		ResourceID:     meta.ResourceID,
		OrganizationID: orgID,
		Metadata:       meta,
	})
}

// APIAccess records one boundary request.
func (l *Logger) APIAccess(ctx context.Context, orgID string, meta APIAccessMetadata) {
	l.Log(ctx, &Entry{
		Action:         ActionAPIAccess,
		ResourceType:   "api",
		OrganizationID: orgID,
		Metadata:       meta,
	})
}
