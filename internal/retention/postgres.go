package retention

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// sweepLockID is the advisory-lock key shared by all sweeper processes.
const sweepLockID = int64(0x6d616573_72657431)

// PGStore persists retention state in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) UpsertPolicy(ctx context.Context, policy *Policy) error {
	_, err := s.db.ExecContext(ctx, `
		insert into retention_policies(organization_id, resource_type, retention_days,
			auto_delete, encryption_required, backup_required, updated_at)
		values($1,$2,$3,$4,$5,$6,$7)
		on conflict (organization_id, resource_type) do update set
			retention_days=excluded.retention_days,
			auto_delete=excluded.auto_delete,
			encryption_required=excluded.encryption_required,
			backup_required=excluded.backup_required,
			updated_at=excluded.updated_at`,
		policy.OrganizationID, policy.ResourceType, policy.RetentionDays,
		policy.AutoDelete, policy.EncryptionRequired, policy.BackupRequired, policy.UpdatedAt,
	)
	return err
}

func (s *PGStore) FindPolicy(ctx context.Context, organizationID, resourceType string) (*Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		select organization_id, resource_type, retention_days, auto_delete,
			encryption_required, backup_required, updated_at
		from retention_policies
		where organization_id=$1 and resource_type=$2`, organizationID, resourceType).
		Scan(&p.OrganizationID, &p.ResourceType, &p.RetentionDays, &p.AutoDelete,
			&p.EncryptionRequired, &p.BackupRequired, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) ListPolicies(ctx context.Context, organizationID string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select organization_id, resource_type, retention_days, auto_delete,
			encryption_required, backup_required, updated_at
		from retention_policies
		where organization_id=$1
		order by resource_type asc`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.OrganizationID, &p.ResourceType, &p.RetentionDays, &p.AutoDelete,
			&p.EncryptionRequired, &p.BackupRequired, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PGStore) CreateDeletion(ctx context.Context, d *ScheduledDeletion) error {
	_, err := s.db.ExecContext(ctx, `
		insert into scheduled_deletions(id, organization_id, resource_type, resource_id,
			scheduled_at, delete_after, status, deleted_at)
		values($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.OrganizationID, d.ResourceType, d.ResourceID,
		d.ScheduledAt, d.DeleteAfter, d.Status, d.DeletedAt,
	)
	return err
}

func (s *PGStore) FindDeletion(ctx context.Context, organizationID, deletionID string) (*ScheduledDeletion, error) {
	var d ScheduledDeletion
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, resource_type, resource_id, scheduled_at,
			delete_after, status, deleted_at
		from scheduled_deletions
		where id=$1 and organization_id=$2`, deletionID, organizationID).
		Scan(&d.ID, &d.OrganizationID, &d.ResourceType, &d.ResourceID, &d.ScheduledAt,
			&d.DeleteAfter, &d.Status, &d.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *PGStore) Due(ctx context.Context, now time.Time, limit int) ([]ScheduledDeletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, resource_type, resource_id, scheduled_at,
			delete_after, status, deleted_at
		from scheduled_deletions
		where status <> $1 and delete_after <= $2
		order by delete_after asc
		limit $3`, DeletionStatusDeleted, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ScheduledDeletion
	for rows.Next() {
		var d ScheduledDeletion
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.ResourceType, &d.ResourceID, &d.ScheduledAt,
			&d.DeleteAfter, &d.Status, &d.DeletedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *PGStore) ExtendDeletion(ctx context.Context, organizationID, deletionID string, deleteAfter time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update scheduled_deletions set delete_after=$3
		where id=$1 and organization_id=$2 and status <> $4`,
		deletionID, organizationID, deleteAfter, DeletionStatusDeleted)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *PGStore) MarkBackedUp(ctx context.Context, deletionID string) error {
	res, err := s.db.ExecContext(ctx, `
		update scheduled_deletions set status=$2
		where id=$1 and status=$3`,
		deletionID, DeletionStatusBackedUp, DeletionStatusScheduled)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *PGStore) MarkDeleted(ctx context.Context, deletionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update scheduled_deletions set status=$2, deleted_at=$3
		where id=$1 and status <> $2`,
		deletionID, DeletionStatusDeleted, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) SaveBackup(ctx context.Context, backup *Backup) error {
	_, err := s.db.ExecContext(ctx, `
		insert into deletion_backups(id, organization_id, resource_type, resource_id,
			key_id, scope, iv, ciphertext, tag, created_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		backup.ID, backup.OrganizationID, backup.ResourceType, backup.ResourceID,
		backup.Envelope.KeyID, string(backup.Envelope.Scope), backup.Envelope.IV,
		backup.Envelope.Ciphertext, backup.Envelope.Tag, backup.CreatedAt,
	)
	return err
}

// AcquireSweepLease takes a session-scoped advisory lock on a dedicated
// connection, so the lease survives exactly as long as the connection does.
func (s *PGStore) AcquireSweepLease(ctx context.Context) (func(), bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `select pg_try_advisory_lock($1)`, sweepLockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, sweepLockID)
		conn.Close()
	}
	return release, true, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
