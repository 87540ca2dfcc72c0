package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"maestro.org/internal/ids"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Organizations() OrganizationStore { return &orgStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }

// Organization store -------------------------------------------------------
type orgStore struct{ db *sql.DB }

func (s *orgStore) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.ComplianceMode == "" {
		org.ComplianceMode = ComplianceStandard
	}
	if org.Status == "" {
		org.Status = orgStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, name, compliance_mode, encryption_required, status)
		 values($1,$2,$3,$4,$5)`,
		org.ID, org.Name, string(org.ComplianceMode), org.EncryptionRequired, org.Status,
	)
	return err
}

func (s *orgStore) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, compliance_mode, encryption_required, status, created_at, updated_at
		 from organizations where id=$1`, id)
	var (
		org  Organization
		mode string
	)
	if err := row.Scan(&org.ID, &org.Name, &mode, &org.EncryptionRequired, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	org.ComplianceMode = ComplianceMode(mode)
	return &org, nil
}

func (s *orgStore) List(ctx context.Context) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, compliance_mode, encryption_required, status, created_at, updated_at
		 from organizations order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Organization
	for rows.Next() {
		var (
			org  Organization
			mode string
		)
		if err := rows.Scan(&org.ID, &org.Name, &mode, &org.EncryptionRequired, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		org.ComplianceMode = ComplianceMode(mode)
		res = append(res, &org)
	}
	return res, rows.Err()
}

func (s *orgStore) UpdateSecurityPolicy(ctx context.Context, id string, mode ComplianceMode, encryptionRequired bool) error {
	res, err := s.db.ExecContext(ctx,
		`update organizations set compliance_mode=$2, encryption_required=$3, updated_at=now() where id=$1`,
		id, string(mode), encryptionRequired)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *orgStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update organizations set status=$2, updated_at=now() where id=$1`,
		id, orgStatusDeactivated)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = userStatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, password_hash, role, status, verified)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.OrganizationID, u.Email, u.PasswordHash, string(u.Role), u.Status, u.Verified,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: email is already registered", ErrAlreadyExists)
	}
	return err
}

const userColumns = `id, organization_id, email, password_hash, role, status, verified, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &role, &u.Status, &u.Verified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) FindMember(ctx context.Context, organizationID, userID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and organization_id=$2`, userID, organizationID))
}

func (s *userStore) ListByOrg(ctx context.Context, orgID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var (
			u    User
			role string
		)
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &role, &u.Status, &u.Verified, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *userStore) UpdateStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *userStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from users where id=$1`, userID)
	return err
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
