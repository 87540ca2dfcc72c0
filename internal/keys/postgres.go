package keys

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore persists wrapped data keys in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, key *DataKey) error {
	_, err := s.db.ExecContext(ctx, `
		insert into data_keys(id, organization_id, algorithm, wrapped_key, nonce, active, created_at, expires_at)
		values($1,$2,$3,$4,$5,$6,$7,$8)`,
		key.ID, key.OrganizationID, key.Algorithm, key.WrappedKey, key.Nonce,
		key.Active, key.CreatedAt, key.ExpiresAt,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, organizationID, keyID string) (*DataKey, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, organization_id, algorithm, wrapped_key, nonce, active, created_at, expires_at
		from data_keys where id=$1 and organization_id=$2`, keyID, organizationID)
	var key DataKey
	if err := row.Scan(&key.ID, &key.OrganizationID, &key.Algorithm, &key.WrappedKey,
		&key.Nonce, &key.Active, &key.CreatedAt, &key.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (s *PGStore) ListByOrg(ctx context.Context, organizationID string) ([]*DataKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, algorithm, wrapped_key, nonce, active, created_at, expires_at
		from data_keys where organization_id=$1 order by created_at asc`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*DataKey
	for rows.Next() {
		var key DataKey
		if err := rows.Scan(&key.ID, &key.OrganizationID, &key.Algorithm, &key.WrappedKey,
			&key.Nonce, &key.Active, &key.CreatedAt, &key.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, &key)
	}
	return res, rows.Err()
}

func (s *PGStore) DeactivateByOrg(ctx context.Context, organizationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update data_keys set active=false where organization_id=$1 and active`, organizationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
