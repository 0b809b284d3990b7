// Package pg provides the durable Postgres-backed grant store. Grants are
// keyed by (level, namespace, database, access method, id) with the
// subject and grant payloads stored as JSONB documents.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vantadb.org/internal/access"
)

// Store implements access.Store on top of PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// Open connects to Postgres with pool defaults tuned for the access API.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle (used by tests).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (access.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return &tx{tx: sqlTx}, nil
}

type tx struct {
	tx *sql.Tx
}

// ClearCache is a no-op: every transaction reads directly from the
// database, so there is no cross-transaction read cache to discard.
func (t *tx) ClearCache() {}

func scopeColumns(target access.Target) (level, ns, db string) {
	return string(target.Level), target.Namespace, target.Database
}

func (t *tx) Access(ctx context.Context, target access.Target, name string) (access.AccessMethod, error) {
	level, ns, db := scopeColumns(target)
	var (
		am            access.AccessMethod
		durationSecs  int64
		bearerKind    sql.NullString
		bearerSubject sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `
		select name, kind, grant_duration_secs, bearer_kind, bearer_subject
		from access_methods
		where level=$1 and namespace=$2 and database=$3 and name=$4
	`, level, ns, db, name).Scan(&am.Name, &am.Kind, &durationSecs, &bearerKind, &bearerSubject)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessMethod{}, fmt.Errorf("%w: access method %q", access.ErrNotFound, name)
	}
	if err != nil {
		return access.AccessMethod{}, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	am.GrantDuration = time.Duration(durationSecs) * time.Second
	if bearerKind.Valid {
		am.Bearer = &access.BearerConfig{
			Kind:    access.BearerKind(bearerKind.String),
			Subject: access.SubjectKind(bearerSubject.String),
		}
	}
	return am, nil
}

func (t *tx) DefineAccess(ctx context.Context, target access.Target, am access.AccessMethod) error {
	level, ns, db := scopeColumns(target)
	var bearerKind, bearerSubject sql.NullString
	if am.Bearer != nil {
		bearerKind = sql.NullString{String: string(am.Bearer.Kind), Valid: true}
		bearerSubject = sql.NullString{String: string(am.Bearer.Subject), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into access_methods(level, namespace, database, name, kind, grant_duration_secs, bearer_kind, bearer_subject)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (level, namespace, database, name) do update
		set kind=excluded.kind,
		    grant_duration_secs=excluded.grant_duration_secs,
		    bearer_kind=excluded.bearer_kind,
		    bearer_subject=excluded.bearer_subject
	`, level, ns, db, am.Name, string(am.Kind), int64(am.GrantDuration/time.Second), bearerKind, bearerSubject)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) User(ctx context.Context, target access.Target, name string) (access.User, error) {
	level, ns, db := scopeColumns(target)
	var u access.User
	err := t.tx.QueryRowContext(ctx, `
		select name, password_hash, created_at
		from users
		where level=$1 and namespace=$2 and database=$3 and name=$4
	`, level, ns, db, name).Scan(&u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, fmt.Errorf("%w: user %q", access.ErrNotFound, name)
	}
	if err != nil {
		return access.User{}, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return u, nil
}

func (t *tx) DefineUser(ctx context.Context, target access.Target, u access.User) error {
	level, ns, db := scopeColumns(target)
	_, err := t.tx.ExecContext(ctx, `
		insert into users(level, namespace, database, name, password_hash, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (level, namespace, database, name) do update
		set password_hash=excluded.password_hash
	`, level, ns, db, u.Name, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) EnsureNamespace(ctx context.Context, ns string, strict bool) error {
	if strict {
		var exists bool
		err := t.tx.QueryRowContext(ctx, `select exists(select 1 from namespaces where name=$1)`, ns).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: %v", access.ErrStore, err)
		}
		if !exists {
			return fmt.Errorf("%w: namespace %q", access.ErrNotFound, ns)
		}
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `
		insert into namespaces(name) values ($1) on conflict (name) do nothing
	`, ns); err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) EnsureDatabase(ctx context.Context, ns, db string, strict bool) error {
	if strict {
		var exists bool
		err := t.tx.QueryRowContext(ctx, `select exists(select 1 from databases where namespace=$1 and name=$2)`, ns, db).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: %v", access.ErrStore, err)
		}
		if !exists {
			return fmt.Errorf("%w: database %q", access.ErrNotFound, db)
		}
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `
		insert into databases(namespace, name) values ($1,$2) on conflict (namespace, name) do nothing
	`, ns, db); err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func scanGrant(scan func(dest ...any) error) (access.AccessGrant, error) {
	var (
		g          access.AccessGrant
		expires    sql.NullTime
		revoked    sql.NullTime
		subjectDoc []byte
		payloadDoc []byte
	)
	if err := scan(&g.ID, &g.Method, &g.CreatedAt, &expires, &revoked, &subjectDoc, &payloadDoc); err != nil {
		return access.AccessGrant{}, err
	}
	if expires.Valid {
		t := expires.Time.UTC()
		g.ExpiresAt = &t
	}
	if revoked.Valid {
		t := revoked.Time.UTC()
		g.RevokedAt = &t
	}
	if err := json.Unmarshal(subjectDoc, &g.Subject); err != nil {
		return access.AccessGrant{}, fmt.Errorf("decode subject: %w", err)
	}
	if err := json.Unmarshal(payloadDoc, &g.Grant); err != nil {
		return access.AccessGrant{}, fmt.Errorf("decode grant payload: %w", err)
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func (t *tx) Grant(ctx context.Context, target access.Target, method, id string) (access.AccessGrant, error) {
	level, ns, db := scopeColumns(target)
	row := t.tx.QueryRowContext(ctx, `
		select id, ac, created_at, expires_at, revoked_at, subject, grant_payload
		from access_grants
		where level=$1 and namespace=$2 and database=$3 and ac=$4 and id=$5
	`, level, ns, db, method, id)
	g, err := scanGrant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, fmt.Errorf("%w: grant %q", access.ErrNotFound, id)
	}
	if err != nil {
		return access.AccessGrant{}, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return g, nil
}

func (t *tx) encodeGrant(g access.AccessGrant) (subject, payload []byte, expires, revoked sql.NullTime, err error) {
	subject, err = json.Marshal(g.Subject)
	if err != nil {
		return nil, nil, sql.NullTime{}, sql.NullTime{}, err
	}
	payload, err = json.Marshal(g.Grant)
	if err != nil {
		return nil, nil, sql.NullTime{}, sql.NullTime{}, err
	}
	if g.ExpiresAt != nil {
		expires = sql.NullTime{Time: *g.ExpiresAt, Valid: true}
	}
	if g.RevokedAt != nil {
		revoked = sql.NullTime{Time: *g.RevokedAt, Valid: true}
	}
	return subject, payload, expires, revoked, nil
}

func (t *tx) PutGrant(ctx context.Context, target access.Target, g access.AccessGrant) error {
	level, ns, db := scopeColumns(target)
	subject, payload, expires, revoked, err := t.encodeGrant(g)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	res, err := t.tx.ExecContext(ctx, `
		insert into access_grants(level, namespace, database, ac, id, created_at, expires_at, revoked_at, subject, grant_payload)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (level, namespace, database, ac, id) do nothing
	`, level, ns, db, g.Method, g.ID, g.CreatedAt, expires, revoked, subject, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: grant %q", access.ErrAlreadyExists, g.ID)
	}
	return nil
}

func (t *tx) SetGrant(ctx context.Context, target access.Target, g access.AccessGrant) error {
	level, ns, db := scopeColumns(target)
	subject, payload, expires, revoked, err := t.encodeGrant(g)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into access_grants(level, namespace, database, ac, id, created_at, expires_at, revoked_at, subject, grant_payload)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (level, namespace, database, ac, id) do update
		set expires_at=excluded.expires_at,
		    revoked_at=excluded.revoked_at,
		    subject=excluded.subject,
		    grant_payload=excluded.grant_payload
	`, level, ns, db, g.Method, g.ID, g.CreatedAt, expires, revoked, subject, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) DeleteGrant(ctx context.Context, target access.Target, method, id string) error {
	level, ns, db := scopeColumns(target)
	if _, err := t.tx.ExecContext(ctx, `
		delete from access_grants
		where level=$1 and namespace=$2 and database=$3 and ac=$4 and id=$5
	`, level, ns, db, method, id); err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) Grants(ctx context.Context, target access.Target, method string) ([]access.AccessGrant, error) {
	level, ns, db := scopeColumns(target)
	rows, err := t.tx.QueryContext(ctx, `
		select id, ac, created_at, expires_at, revoked_at, subject, grant_payload
		from access_grants
		where level=$1 and namespace=$2 and database=$3 and ac=$4
		order by id
	`, level, ns, db, method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	defer rows.Close()

	var out []access.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", access.ErrStore, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", access.ErrStore, err)
	}
	return nil
}
