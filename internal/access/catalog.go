package access

import (
	"context"
	"fmt"
	"strings"
)

// DefineAccessMethod creates or replaces an access method definition at
// the given level.
func (e *Engine) DefineAccessMethod(ctx context.Context, level Level, ac AccessMethod, sess Session) error {
	if strings.TrimSpace(ac.Name) == "" {
		return fmt.Errorf("%w: access method name is required", ErrInvalidStatement)
	}
	switch ac.Kind {
	case MethodJwt, MethodRecord:
	case MethodBearer:
		if ac.Bearer == nil {
			return fmt.Errorf("%w: bearer access methods require a bearer configuration", ErrInvalidStatement)
		}
	default:
		return fmt.Errorf("%w: access method kind %q", ErrInvalidStatement, ac.Kind)
	}
	if ac.Bearer != nil {
		switch ac.Bearer.Kind {
		case BearerKindBearer, BearerKindRefresh:
		default:
			return fmt.Errorf("%w: bearer kind %q", ErrInvalidStatement, ac.Bearer.Kind)
		}
		switch ac.Bearer.Subject {
		case SubjectUser, SubjectRecord:
		default:
			return fmt.Errorf("%w: bearer subject %q", ErrInvalidStatement, ac.Bearer.Subject)
		}
	}
	if ac.GrantDuration < 0 {
		return fmt.Errorf("%w: negative grant duration", ErrInvalidStatement)
	}

	target, err := e.resolveTarget(level, sess)
	if err != nil {
		return err
	}
	if err := sess.Actor.Allowed(ActionEdit, target); err != nil {
		return err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	if err := ensureAncestors(ctx, tx, target, sess.Strict); err != nil {
		return err
	}
	if err := tx.DefineAccess(ctx, target, ac); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// DefineUser creates or replaces a user at the given level. The password
// hash must already be computed; the engine never sees plaintext
// passwords.
func (e *Engine) DefineUser(ctx context.Context, level Level, u User, sess Session) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidStatement)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidStatement)
	}
	target, err := e.resolveTarget(level, sess)
	if err != nil {
		return err
	}
	if err := sess.Actor.Allowed(ActionEdit, target); err != nil {
		return err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tx.ClearCache()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = e.now().UTC()
	}
	if err := ensureAncestors(ctx, tx, target, sess.Strict); err != nil {
		return err
	}
	if err := tx.DefineUser(ctx, target, u); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}
