package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"vantadb.org/internal/access"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestPutGrantDetectsDuplicateID(t *testing.T) {
	store, mock := newMockStore(t)
	target := access.Target{Level: access.LevelRoot}
	grant := access.AccessGrant{
		ID:        "W4PLNrcQHpzX",
		Method:    "api",
		CreatedAt: time.Now().UTC(),
		Subject:   access.UserSubject("tobie"),
		Grant: access.Grant{
			Kind:   access.GrantBearer,
			Bearer: &access.GrantBearerData{ID: "W4PLNrcQHpzX", Key: "deadbeef"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into access_grants").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into access_grants").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.PutGrant(ctx, target, grant); err != nil {
		t.Fatalf("first PutGrant: %v", err)
	}
	err = tx.PutGrant(ctx, target, grant)
	if !errors.Is(err, access.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	target := access.Target{Level: access.LevelNamespace, Namespace: "acme"}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(24 * time.Hour)
	subject, _ := json.Marshal(access.UserSubject("tobie"))
	payload, _ := json.Marshal(access.Grant{
		Kind:   access.GrantBearer,
		Bearer: &access.GrantBearerData{ID: "W4PLNrcQHpzX", Key: "cafe"},
	})

	mock.ExpectBegin()
	mock.ExpectQuery("select id, ac, created_at, expires_at, revoked_at, subject, grant_payload.*from access_grants").
		WithArgs("namespace", "acme", "", "api", "W4PLNrcQHpzX").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ac", "created_at", "expires_at", "revoked_at", "subject", "grant_payload"}).
			AddRow("W4PLNrcQHpzX", "api", created, expires, nil, subject, payload))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	g, err := tx.Grant(ctx, target, "api", "W4PLNrcQHpzX")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if g.ID != "W4PLNrcQHpzX" || g.Method != "api" {
		t.Fatalf("unexpected grant identity: %+v", g)
	}
	if g.ExpiresAt == nil || !g.ExpiresAt.Equal(expires) {
		t.Fatalf("expiration not preserved: %v", g.ExpiresAt)
	}
	if g.RevokedAt != nil {
		t.Fatalf("expected no revocation, got %v", g.RevokedAt)
	}
	if g.Subject.User != "tobie" {
		t.Fatalf("subject not preserved: %+v", g.Subject)
	}
	if g.Grant.Bearer == nil || g.Grant.Bearer.Key != "cafe" {
		t.Fatalf("payload not preserved: %+v", g.Grant)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	target := access.Target{Level: access.LevelRoot}

	mock.ExpectBegin()
	mock.ExpectQuery("select id, ac, created_at, expires_at, revoked_at, subject, grant_payload.*from access_grants").
		WithArgs("root", "", "", "api", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ac", "created_at", "expires_at", "revoked_at", "subject", "grant_payload"}))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = tx.Grant(ctx, target, "api", "missing")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantsListsInKeyOrder(t *testing.T) {
	store, mock := newMockStore(t)
	target := access.Target{Level: access.LevelDatabase, Namespace: "acme", Database: "app"}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subject, _ := json.Marshal(access.UserSubject("tobie"))
	payload, _ := json.Marshal(access.Grant{
		Kind:   access.GrantBearer,
		Bearer: &access.GrantBearerData{ID: "a", Key: "cafe"},
	})

	mock.ExpectBegin()
	mock.ExpectQuery("select id, ac, created_at, expires_at, revoked_at, subject, grant_payload.*from access_grants.*order by id").
		WithArgs("database", "acme", "app", "api").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ac", "created_at", "expires_at", "revoked_at", "subject", "grant_payload"}).
			AddRow("aGrant", "api", created, nil, nil, subject, payload).
			AddRow("bGrant", "api", created, nil, nil, subject, payload))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	grants, err := tx.Grants(ctx, target, "api")
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(grants) != 2 || grants[0].ID != "aGrant" || grants[1].ID != "bGrant" {
		t.Fatalf("unexpected listing: %+v", grants)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureNamespaceStrict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = tx.EnsureNamespace(ctx, "ghost", true)
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccessMethodLookup(t *testing.T) {
	store, mock := newMockStore(t)
	target := access.Target{Level: access.LevelRoot}

	mock.ExpectBegin()
	mock.ExpectQuery("select name, kind, grant_duration_secs, bearer_kind, bearer_subject.*from access_methods").
		WithArgs("root", "", "", "api").
		WillReturnRows(sqlmock.NewRows([]string{"name", "kind", "grant_duration_secs", "bearer_kind", "bearer_subject"}).
			AddRow("api", "bearer", int64(3600), "bearer", "user"))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	am, err := tx.Access(ctx, target, "api")
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if am.Kind != access.MethodBearer || am.GrantDuration != time.Hour {
		t.Fatalf("unexpected method: %+v", am)
	}
	if am.Bearer == nil || am.Bearer.Subject != access.SubjectUser {
		t.Fatalf("bearer config not decoded: %+v", am.Bearer)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
