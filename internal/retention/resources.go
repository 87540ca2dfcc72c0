package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

var _ Resources = (*AuditTrailResources)(nil)

// AuditTrailResources is the Resources implementation for the one resource
// class this module owns: the audit trail. Domain collaborators (meetings,
// files, analytics) own their records and plug in their own Resources;
// anything other than audit_log reports not-found here, which the sweep
// finalizes as already gone.
type AuditTrailResources struct {
	db *sql.DB
}

func NewAuditTrailResources(db *sql.DB) *AuditTrailResources {
	return &AuditTrailResources{db: db}
}

// Snapshot returns the user's audit entries as one JSON document. resourceID
// is the subject user.
func (r *AuditTrailResources) Snapshot(ctx context.Context, organizationID, resourceType, resourceID string) ([]byte, error) {
	if resourceType != ResourceAuditLog {
		return nil, fmt.Errorf("%w: resource type %s is externally owned", ErrNotFound, resourceType)
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, action, severity, resource_type, resource_id, metadata_kind,
			coalesce(metadata, 'null'::jsonb)::text, occurred_at
		from audit_log
		where organization_id=$1 and user_id=$2
		order by occurred_at asc`, organizationID, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct {
		ID           string          `json:"id"`
		Action       string          `json:"action"`
		Severity     string          `json:"severity"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		MetadataKind string          `json:"metadata_kind"`
		Metadata     json.RawMessage `json:"metadata"`
		OccurredAt   string          `json:"occurred_at"`
	}
	var entries []entry
	for rows.Next() {
		var (
			e    entry
			meta string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Severity, &e.ResourceType, &e.ResourceID,
			&e.MetadataKind, &meta, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Metadata = json.RawMessage(meta)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no audit entries for user %s", ErrNotFound, resourceID)
	}
	return json.Marshal(entries)
}

// Delete removes the user's audit entries. Only reached after the encrypted
// backup is stored, per the pinned audit_log policy.
func (r *AuditTrailResources) Delete(ctx context.Context, organizationID, resourceType, resourceID string) error {
	if resourceType != ResourceAuditLog {
		return fmt.Errorf("%w: resource type %s is externally owned", ErrNotFound, resourceType)
	}
	res, err := r.db.ExecContext(ctx, `
		delete from audit_log where organization_id=$1 and user_id=$2`,
		organizationID, resourceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no audit entries for user %s", ErrNotFound, resourceID)
	}
	return nil
}
