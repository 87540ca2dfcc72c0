package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

var _ Sink = (*PGSink)(nil)

// PGSink persists audit entries in PostgreSQL. Rows are append-only; there is
// no update or delete path in this type.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Append(ctx context.Context, entry *Entry) error {
	kind := ""
	var meta []byte
	if entry.Metadata != nil {
		kind = entry.Metadata.Kind()
		var err error
		meta, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	} else {
		meta = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, action, severity, resource_type, resource_id,
			organization_id, user_id, client_ip, user_agent, session_id,
			metadata_kind, metadata, occurred_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		entry.ID, string(entry.Action), string(entry.Severity),
		entry.ResourceType, entry.ResourceID,
		entry.OrganizationID, entry.UserID,
		entry.IP, entry.UserAgent, entry.SessionID,
		kind, meta, entry.OccurredAt,
	)
	return err
}

func (s *PGSink) Query(ctx context.Context, organizationID string, f Filter) ([]Entry, error) {
	// Organization scoping is mandatory and always the first predicate.
	where := []string{"organization_id = $1"}
	args := []any{organizationID}

	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.ResourceType != "" {
		args = append(args, f.ResourceType)
		where = append(where, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		where = append(where, fmt.Sprintf("occurred_at < $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		select id, action, severity, resource_type, resource_id,
			organization_id, user_id, client_ip, user_agent, session_id,
			metadata, occurred_at
		from audit_log
		where %s
		order by occurred_at desc
		limit $%d`, strings.Join(where, " and "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var (
			e        Entry
			action   string
			severity string
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &action, &severity, &e.ResourceType, &e.ResourceID,
			&e.OrganizationID, &e.UserID, &e.IP, &e.UserAgent, &e.SessionID,
			&meta, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Severity = Severity(severity)
		e.RawMetadata = json.RawMessage(meta)
		res = append(res, e)
	}
	return res, rows.Err()
}
