package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"vantadb.org/internal/access"
)

func testGrant(id string) access.AccessGrant {
	return access.AccessGrant{
		ID:        id,
		Method:    "api",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Subject:   access.UserSubject("tobie"),
		Grant: access.Grant{
			Kind:   access.GrantBearer,
			Bearer: &access.GrantBearerData{ID: id, Key: "hashed-" + id},
		},
	}
}

func TestPutGrantInsertIfAbsent(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelRoot}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.PutGrant(ctx, target, testGrant("aaa")); err != nil {
		t.Fatalf("PutGrant: %v", err)
	}
	// Duplicate within the same transaction.
	if err := tx.PutGrant(ctx, target, testGrant("aaa")); !errors.Is(err, access.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Duplicate against committed state.
	tx, _ = store.Begin(ctx)
	if err := tx.PutGrant(ctx, target, testGrant("aaa")); !errors.Is(err, access.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists after commit, got %v", err)
	}
}

func TestPutGrantRacingTransactions(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelRoot}

	first := testGrant("aaa")
	second := testGrant("aaa")
	second.Subject = access.UserSubject("jaime")

	// Both transactions stage the same key before either commits; the
	// PutGrant-time absence check cannot see the other's buffer.
	tx1, _ := store.Begin(ctx)
	tx2, _ := store.Begin(ctx)
	if err := tx1.PutGrant(ctx, target, first); err != nil {
		t.Fatalf("tx1 PutGrant: %v", err)
	}
	if err := tx2.PutGrant(ctx, target, second); err != nil {
		t.Fatalf("tx2 PutGrant: %v", err)
	}
	if err := tx1.Commit(ctx); err != nil {
		t.Fatalf("tx1 Commit: %v", err)
	}
	if err := tx2.Commit(ctx); !errors.Is(err, access.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists from second commit, got %v", err)
	}

	// The first writer's grant must survive untouched.
	tx, _ := store.Begin(ctx)
	got, err := tx.Grant(ctx, target, "api", "aaa")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if got.Subject.User != "tobie" {
		t.Fatalf("losing transaction overwrote the grant: %+v", got.Subject)
	}
}

func TestGrantsScanOrderAndIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelNamespace, Namespace: "acme"}

	tx, _ := store.Begin(ctx)
	for _, id := range []string{"ccc", "aaa", "bbb"} {
		if err := tx.PutGrant(ctx, target, testGrant(id)); err != nil {
			t.Fatalf("PutGrant %s: %v", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, _ = store.Begin(ctx)
	grants, err := tx.Grants(ctx, target, "api")
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(grants) != 3 {
		t.Fatalf("expected three grants, got %d", len(grants))
	}
	for i, want := range []string{"aaa", "bbb", "ccc"} {
		if grants[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, grants[i].ID)
		}
	}

	// A different tenancy scope sees nothing.
	other := access.Target{Level: access.LevelNamespace, Namespace: "umbrella"}
	grants, err = tx.Grants(ctx, other, "api")
	if err != nil {
		t.Fatalf("Grants other scope: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("scope leak: %+v", grants)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelRoot}

	tx, _ := store.Begin(ctx)
	if err := tx.PutGrant(ctx, target, testGrant("aaa")); err != nil {
		t.Fatalf("PutGrant: %v", err)
	}
	if err := tx.DefineUser(ctx, target, access.User{Name: "tobie", PasswordHash: "x"}); err != nil {
		t.Fatalf("DefineUser: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx, _ = store.Begin(ctx)
	if _, err := tx.Grant(ctx, target, "api", "aaa"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after rollback, got %v", err)
	}
	if _, err := tx.User(ctx, target, "tobie"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user after rollback, got %v", err)
	}
}

func TestDeleteGrantVisibleInTransaction(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelRoot}

	tx, _ := store.Begin(ctx)
	_ = tx.PutGrant(ctx, target, testGrant("aaa"))
	_ = tx.Commit(ctx)

	tx, _ = store.Begin(ctx)
	if err := tx.DeleteGrant(ctx, target, "api", "aaa"); err != nil {
		t.Fatalf("DeleteGrant: %v", err)
	}
	if _, err := tx.Grant(ctx, target, "api", "aaa"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected delete visible inside transaction, got %v", err)
	}
	grants, err := tx.Grants(ctx, target, "api")
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("deleted grant still scanned: %+v", grants)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, _ = store.Begin(ctx)
	if _, err := tx.Grant(ctx, target, "api", "aaa"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after committed delete, got %v", err)
	}
}

func TestCatalogCacheClearedPerTransaction(t *testing.T) {
	store := New()
	ctx := context.Background()
	target := access.Target{Level: access.LevelRoot}

	tx, _ := store.Begin(ctx)
	am := access.AccessMethod{
		Name:   "api",
		Kind:   access.MethodBearer,
		Bearer: &access.BearerConfig{Kind: access.BearerKindBearer, Subject: access.SubjectUser},
	}
	if err := tx.DefineAccess(ctx, target, am); err != nil {
		t.Fatalf("DefineAccess: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// First read populates the cache.
	tx, _ = store.Begin(ctx)
	tx.ClearCache()
	got, err := tx.Access(ctx, target, "api")
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if got.Kind != access.MethodBearer {
		t.Fatalf("unexpected method: %+v", got)
	}

	// Redefine with a different duration; a fresh transaction must see it.
	tx, _ = store.Begin(ctx)
	am.GrantDuration = time.Hour
	if err := tx.DefineAccess(ctx, target, am); err != nil {
		t.Fatalf("DefineAccess: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, _ = store.Begin(ctx)
	tx.ClearCache()
	got, err = tx.Access(ctx, target, "api")
	if err != nil {
		t.Fatalf("Access after redefine: %v", err)
	}
	if got.GrantDuration != time.Hour {
		t.Fatalf("stale catalog read: %+v", got)
	}
}
