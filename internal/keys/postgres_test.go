package keys

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreFindScopesByOrganization(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "organization_id", "algorithm", "wrapped_key", "nonce", "active", "created_at", "expires_at"}).
		AddRow("key-1", "org-1", AlgorithmAESGCM, []byte{0x01}, []byte{0x02}, true, created, nil)
	mock.ExpectQuery("select id, organization_id, algorithm, wrapped_key, nonce, active, created_at, expires_at").
		WithArgs("key-1", "org-1").
		WillReturnRows(rows)

	store := NewPGStore(db)
	key, err := store.Find(context.Background(), "org-1", "key-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if key.ID != "key-1" || key.OrganizationID != "org-1" || !key.Active {
		t.Fatalf("unexpected key: %+v", key)
	}

	mock.ExpectQuery("select id, organization_id, algorithm, wrapped_key, nonce, active, created_at, expires_at").
		WithArgs("key-1", "org-2").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Find(context.Background(), "org-2", "key-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreDeactivateByOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update data_keys set active=false").
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	n, err := store.DeactivateByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("DeactivateByOrg: %v", err)
	}
	if n != 3 {
		t.Fatalf("deactivated %d rows, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
