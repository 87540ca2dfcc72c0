package access

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore persists the grant ledger in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const grantColumns = `id, user_id, organization_id, resource_type, resource_id,
	permission, granted_by, granted_at, expires_at, active`

func (s *PGStore) Create(ctx context.Context, grant *Grant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into access_grants(id, user_id, organization_id, resource_type, resource_id,
			permission, granted_by, granted_at, expires_at, active)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		grant.ID, grant.UserID, grant.OrganizationID, string(grant.ResourceType),
		grant.ResourceID, string(grant.Permission), grant.GrantedBy,
		grant.GrantedAt, grant.ExpiresAt, grant.Active,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, organizationID, grantID string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+grantColumns+`
		from access_grants where id=$1 and organization_id=$2`, grantID, organizationID)
	grant, err := scanGrant(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return grant, nil
}

func (s *PGStore) ActiveGrants(ctx context.Context, organizationID, userID string, resource ResourceType) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+grantColumns+`
		from access_grants
		where organization_id=$1 and user_id=$2 and resource_type=$3 and active
		order by granted_at asc`, organizationID, userID, string(resource))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Grant
	for rows.Next() {
		grant, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *grant)
	}
	return res, rows.Err()
}

func (s *PGStore) Revoke(ctx context.Context, organizationID, grantID string) error {
	res, err := s.db.ExecContext(ctx, `
		update access_grants set active=false
		where id=$1 and organization_id=$2 and active`, grantID, organizationID)
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

func scanGrant(scan func(...any) error) (*Grant, error) {
	var (
		g          Grant
		resource   string
		permission string
	)
	if err := scan(&g.ID, &g.UserID, &g.OrganizationID, &resource, &g.ResourceID,
		&permission, &g.GrantedBy, &g.GrantedAt, &g.ExpiresAt, &g.Active); err != nil {
		return nil, err
	}
	g.ResourceType = ResourceType(resource)
	g.Permission = Permission(permission)
	return &g, nil
}
