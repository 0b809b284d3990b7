package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"vantadb.org/internal/obs"
)

// Action is the authorization action required for an operation on
// access resources.
type Action string

const (
	ActionView Action = "view"
	ActionEdit Action = "edit"
)

// Actor is the authorization context of the caller.
type Actor interface {
	// ID identifies the acting party for operator log lines.
	ID() string
	// Allowed returns ErrDenied (possibly wrapped) when the actor may
	// not perform the action on access resources at the target level.
	Allowed(action Action, t Target) error
}

// Session carries the caller's authorization and tenancy selection into
// an operation.
type Session struct {
	Actor Actor
	// Selection is the current tenancy selection; statements without an
	// explicit level inherit it, and namespace/database names are always
	// taken from it.
	Selection Target
	// Strict disables implicit creation of ancestor containers.
	Strict bool
}

// Engine orchestrates the grant lifecycle: issuance, listing, revocation
// and purging against a transactional grant store.
type Engine struct {
	store Store
	now   func() time.Time
	rand  RandSource
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithRandSource overrides the random string source used for bearer key
// generation (useful for collision and distribution tests).
func WithRandSource(rnd RandSource) EngineOption {
	return func(e *Engine) error {
		if rnd != nil {
			e.rand = rnd
		}
		return nil
	}
}

// NewEngine constructs an Engine bound to a grant store.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	e := &Engine{
		store: store,
		now:   time.Now,
		rand:  CryptoRandString,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// resolveTarget combines the statement's optional level override with the
// session's current selection.
func (e *Engine) resolveTarget(level Level, sess Session) (Target, error) {
	if level == "" {
		level = sess.Selection.Level
	}
	t := Target{Level: level}
	switch level {
	case LevelNamespace:
		t.Namespace = sess.Selection.Namespace
	case LevelDatabase:
		t.Namespace = sess.Selection.Namespace
		t.Database = sess.Selection.Database
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// ensureAncestors idempotently creates the containers a write at the
// target level lives under, honoring strict mode.
func ensureAncestors(ctx context.Context, tx Tx, t Target, strict bool) error {
	switch t.Level {
	case LevelNamespace:
		return tx.EnsureNamespace(ctx, t.Namespace, strict)
	case LevelDatabase:
		if err := tx.EnsureNamespace(ctx, t.Namespace, strict); err != nil {
			return err
		}
		return tx.EnsureDatabase(ctx, t.Namespace, t.Database, strict)
	}
	return nil
}

// CreateGrant issues a new grant for the statement's subject. The
// returned grant carries the plaintext bearer key; this is the only
// moment the plaintext leaves the system.
func (e *Engine) CreateGrant(ctx context.Context, stmt GrantStatement, sess Session) (AccessGrant, error) {
	target, err := e.resolveTarget(stmt.Level, sess)
	if err != nil {
		return AccessGrant{}, err
	}
	if err := sess.Actor.Allowed(ActionEdit, target); err != nil {
		return AccessGrant{}, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	ac, err := tx.Access(ctx, target, stmt.Method)
	if err != nil {
		return AccessGrant{}, err
	}

	switch ac.Kind {
	case MethodJwt:
		return AccessGrant{}, fmt.Errorf("%w: grants for jwt access methods on %s", ErrUnimplemented, target.Level)
	case MethodRecord:
		if stmt.Subject.Kind != SubjectRecord {
			return AccessGrant{}, ErrInvalidSubject
		}
		// Record grants require a selected database.
		if target.Level != LevelDatabase {
			return AccessGrant{}, fmt.Errorf("%w: record grants require a database", ErrLevelMismatch)
		}
		// The record access method must itself allow issuing bearer grants.
		if ac.Bearer == nil {
			return AccessGrant{}, ErrMethodMismatch
		}
	case MethodBearer:
		if ac.Bearer == nil {
			return AccessGrant{}, ErrMethodMismatch
		}
		switch stmt.Subject.Kind {
		case SubjectUser:
			// Grant subject must match the access method subject.
			if ac.Bearer.Subject != SubjectUser {
				return AccessGrant{}, ErrInvalidSubject
			}
			// The user must exist at the target level.
			if _, err := tx.User(ctx, target, stmt.Subject.User); err != nil {
				return AccessGrant{}, err
			}
		case SubjectRecord:
			// Record subjects require a selected database.
			if target.Level != LevelDatabase {
				return AccessGrant{}, fmt.Errorf("%w: record grants require a database", ErrLevelMismatch)
			}
			if ac.Bearer.Subject != SubjectRecord {
				return AccessGrant{}, ErrInvalidSubject
			}
			// A grant can be created for a record that does not exist yet.
		default:
			return AccessGrant{}, ErrInvalidSubject
		}
	default:
		return AccessGrant{}, fmt.Errorf("%w: access method kind %q", ErrUnimplemented, ac.Kind)
	}

	bearer, err := NewGrantBearer(ac.Bearer.Kind.Prefix(), e.rand)
	if err != nil {
		return AccessGrant{}, err
	}
	now := e.now().UTC()
	gr := AccessGrant{
		// The key identifier doubles as the grant identifier.
		ID:        bearer.ID,
		Method:    ac.Name,
		CreatedAt: now,
		Subject:   stmt.Subject,
		Grant:     Grant{Kind: GrantBearer, Bearer: &bearer},
	}
	if ac.GrantDuration > 0 {
		exp := now.Add(ac.GrantDuration)
		gr.ExpiresAt = &exp
	}

	// Persist a hashed copy so the plaintext key is never written.
	hashed := bearer.Hashed()
	stored := gr
	stored.Grant = Grant{Kind: GrantBearer, Bearer: &hashed}

	if err := ensureAncestors(ctx, tx, target, sess.Strict); err != nil {
		return AccessGrant{}, err
	}
	if err := tx.PutGrant(ctx, target, stored); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// With a 62^12 id space a collision is overwhelmingly likely
			// to mean an accumulation of stale grants, not bad luck.
			obs.Logger().Printf("A collision was found when attempting to create a new grant. Purging inactive grants is advised")
			return AccessGrant{}, fmt.Errorf("%w: grant %q under access method %q", ErrCollision, gr.ID, gr.Method)
		}
		return AccessGrant{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AccessGrant{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	obs.Logger().Printf("Access method '%s' was used to create grant '%s' of type '%s' for '%s' by '%s'",
		gr.Method, gr.ID, gr.Grant.Variant(), gr.Subject.ID(), sess.Actor.ID())

	// Return the original version of the grant.
	return gr, nil
}

// ShowGrants returns the redacted grants selected by the statement: one
// grant when an id is given, otherwise all grants under the access method
// optionally filtered by the predicate. Order follows scan order.
func (e *Engine) ShowGrants(ctx context.Context, stmt ShowStatement, sess Session) ([]AccessGrant, error) {
	target, err := e.resolveTarget(stmt.Level, sess)
	if err != nil {
		return nil, err
	}
	if err := sess.Actor.Allowed(ActionView, target); err != nil {
		return nil, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	if _, err := tx.Access(ctx, target, stmt.Method); err != nil {
		return nil, err
	}

	if stmt.Grant != "" {
		gr, err := tx.Grant(ctx, target, stmt.Method, stmt.Grant)
		if err != nil {
			return nil, err
		}
		return []AccessGrant{gr.Redacted()}, nil
	}

	grants, err := tx.Grants(ctx, target, stmt.Method)
	if err != nil {
		return nil, err
	}
	show := make([]AccessGrant, 0, len(grants))
	for _, gr := range grants {
		redacted := gr.Redacted()
		if stmt.Cond != nil {
			// Conditions are evaluated against the redacted form only.
			ok, err := stmt.Cond(ctx, redacted.Document())
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		show = append(show, redacted)
	}
	return show, nil
}

// RevokeGrants sets the revocation time on the selected grants. The
// single-grant path fails with ErrAlreadyRevoked on a revoked grant; the
// bulk path silently skips revoked grants instead. Returns the redacted
// newly revoked grants.
func (e *Engine) RevokeGrants(ctx context.Context, stmt RevokeStatement, sess Session) ([]AccessGrant, error) {
	target, err := e.resolveTarget(stmt.Level, sess)
	if err != nil {
		return nil, err
	}
	if err := sess.Actor.Allowed(ActionEdit, target); err != nil {
		return nil, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	if _, err := tx.Access(ctx, target, stmt.Method); err != nil {
		return nil, err
	}

	var revoked []AccessGrant
	if stmt.Grant != "" {
		gr, err := tx.Grant(ctx, target, stmt.Method, stmt.Grant)
		if err != nil {
			return nil, err
		}
		// A revocation time is set at most once, ever.
		if gr.RevokedAt != nil {
			return nil, ErrAlreadyRevoked
		}
		now := e.now().UTC()
		gr.RevokedAt = &now
		if err := ensureAncestors(ctx, tx, target, sess.Strict); err != nil {
			return nil, err
		}
		if err := tx.SetGrant(ctx, target, gr); err != nil {
			return nil, err
		}
		e.logRevoked(gr, sess)
		revoked = append(revoked, gr.Redacted())
	} else {
		grants, err := tx.Grants(ctx, target, stmt.Method)
		if err != nil {
			return nil, err
		}
		for _, gr := range grants {
			// An already revoked grant cannot be revoked again.
			if gr.RevokedAt != nil {
				continue
			}
			if stmt.Cond != nil {
				ok, err := stmt.Cond(ctx, gr.Redacted().Document())
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			now := e.now().UTC()
			gr.RevokedAt = &now
			if err := ensureAncestors(ctx, tx, target, sess.Strict); err != nil {
				return nil, err
			}
			if err := tx.SetGrant(ctx, target, gr); err != nil {
				return nil, err
			}
			e.logRevoked(gr, sess)
			revoked = append(revoked, gr.Redacted())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return revoked, nil
}

func (e *Engine) logRevoked(gr AccessGrant, sess Session) {
	obs.Logger().Printf("Access method '%s' was used to revoke grant '%s' of type '%s' for '%s' by '%s'",
		gr.Method, gr.ID, gr.Grant.Variant(), gr.Subject.ID(), sess.Actor.ID())
}

// PurgeGrants permanently deletes grants that have been expired or
// revoked for strictly longer than the grace period. Returns the
// redacted purged grants in scan order.
func (e *Engine) PurgeGrants(ctx context.Context, stmt PurgeStatement, sess Session) ([]AccessGrant, error) {
	if !stmt.Expired && !stmt.Revoked {
		return nil, fmt.Errorf("%w: purge requires at least one of expired or revoked", ErrInvalidStatement)
	}
	if stmt.Grace < 0 {
		return nil, fmt.Errorf("%w: negative grace period", ErrInvalidStatement)
	}
	target, err := e.resolveTarget(stmt.Level, sess)
	if err != nil {
		return nil, err
	}
	if err := sess.Actor.Allowed(ActionEdit, target); err != nil {
		return nil, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	if _, err := tx.Access(ctx, target, stmt.Method); err != nil {
		return nil, err
	}
	grants, err := tx.Grants(ctx, target, stmt.Method)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	grace := int64(stmt.Grace / time.Second)
	purged := make([]AccessGrant, 0)
	for _, gr := range grants {
		// Grants expired or revoked at a future time are never purged,
		// and a grant aged exactly the grace period is not yet eligible.
		purgeExpired := stmt.Expired && gr.ExpiresAt != nil &&
			now.Unix() >= gr.ExpiresAt.Unix() &&
			saturatingSub(now.Unix(), gr.ExpiresAt.Unix()) > grace
		purgeRevoked := stmt.Revoked && gr.RevokedAt != nil &&
			now.Unix() >= gr.RevokedAt.Unix() &&
			saturatingSub(now.Unix(), gr.RevokedAt.Unix()) > grace
		if !purgeExpired && !purgeRevoked {
			continue
		}
		if err := tx.DeleteGrant(ctx, target, stmt.Method, gr.ID); err != nil {
			return nil, err
		}
		obs.Logger().Printf("Access method '%s' was used to purge grant '%s' of type '%s' for '%s' by '%s'",
			gr.Method, gr.ID, gr.Grant.Variant(), gr.Subject.ID(), sess.Actor.ID())
		purged = append(purged, gr.Redacted())
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return purged, nil
}

// saturatingSub subtracts b from a, clamping at zero instead of going
// negative. Revocation and expiration times should never exceed the
// current time when this is reached, but the arithmetic must not wrap
// even if that guard were bypassed.
func saturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Authenticate verifies a presented bearer token against the named
// access method: the grant is looked up by key identifier, the token
// hash compared in constant time, and expired or revoked grants are
// rejected. Returns the redacted grant on success.
func (e *Engine) Authenticate(ctx context.Context, method, token string, sess Session) (AccessGrant, error) {
	target, err := e.resolveTarget("", sess)
	if err != nil {
		return AccessGrant{}, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	ac, err := tx.Access(ctx, target, method)
	if err != nil {
		return AccessGrant{}, err
	}
	if ac.Bearer == nil {
		return AccessGrant{}, ErrMethodMismatch
	}
	prefix, id, _, err := ParseBearerToken(token)
	if err != nil {
		return AccessGrant{}, err
	}
	if prefix != ac.Bearer.Kind.Prefix() {
		return AccessGrant{}, ErrInvalidToken
	}
	gr, err := tx.Grant(ctx, target, method, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessGrant{}, ErrInvalidToken
		}
		return AccessGrant{}, err
	}
	if gr.Grant.Kind != GrantBearer || gr.Grant.Bearer == nil {
		return AccessGrant{}, ErrInvalidToken
	}
	presented := HashBearerToken(token)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(gr.Grant.Bearer.Key)) != 1 {
		return AccessGrant{}, ErrInvalidToken
	}
	if !gr.IsActive(e.now().UTC()) {
		return AccessGrant{}, fmt.Errorf("%w: grant is not active", ErrInvalidToken)
	}
	return gr.Redacted(), nil
}
