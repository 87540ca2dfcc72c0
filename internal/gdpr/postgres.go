package gdpr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore persists export records and deletion requests in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateExportRecord(ctx context.Context, record *ExportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into export_records(id, organization_id, user_id, requested_by, format, created_at)
		values($1,$2,$3,$4,$5,$6)`,
		record.ID, record.OrganizationID, record.UserID, record.RequestedBy,
		string(record.Format), record.CreatedAt,
	)
	return err
}

func (s *PGStore) LastExport(ctx context.Context, organizationID, userID string) (*ExportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, organization_id, user_id, requested_by, format, created_at
		from export_records
		where organization_id=$1 and user_id=$2
		order by created_at desc
		limit 1`, organizationID, userID)
	record, err := scanExportRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *PGStore) ListExports(ctx context.Context, organizationID, userID string) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, user_id, requested_by, format, created_at
		from export_records
		where organization_id=$1 and user_id=$2
		order by created_at desc`, organizationID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ExportRecord
	for rows.Next() {
		record, err := scanExportRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *record)
	}
	return res, rows.Err()
}

func scanExportRecord(scan func(...any) error) (*ExportRecord, error) {
	var (
		r      ExportRecord
		format string
	)
	if err := scan(&r.ID, &r.OrganizationID, &r.UserID, &r.RequestedBy, &format, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Format = ExportFormat(format)
	return &r, nil
}

func (s *PGStore) CreateDeletionRequest(ctx context.Context, req *DeletionRequest) error {
	steps, err := json.Marshal(req.CompletedSteps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into deletion_requests(id, organization_id, user_id, reason, confirmation_code,
			requested_by, requested_at, status, completed_steps, completed_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.OrganizationID, req.UserID, req.Reason, req.ConfirmationCode,
		req.RequestedBy, req.RequestedAt, req.Status, steps, req.CompletedAt,
	)
	return err
}

func (s *PGStore) FindDeletionRequest(ctx context.Context, organizationID, requestID string) (*DeletionRequest, error) {
	var (
		req   DeletionRequest
		steps []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, user_id, reason, confirmation_code,
			requested_by, requested_at, status, completed_steps, completed_at
		from deletion_requests
		where id=$1 and organization_id=$2`, requestID, organizationID).
		Scan(&req.ID, &req.OrganizationID, &req.UserID, &req.Reason, &req.ConfirmationCode,
			&req.RequestedBy, &req.RequestedAt, &req.Status, &steps, &req.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &req.CompletedSteps); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

func (s *PGStore) UpdateDeletionRequest(ctx context.Context, req *DeletionRequest) error {
	steps, err := json.Marshal(req.CompletedSteps)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update deletion_requests set status=$3, completed_steps=$4, completed_at=$5
		where id=$1 and organization_id=$2`,
		req.ID, req.OrganizationID, req.Status, steps, req.CompletedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
