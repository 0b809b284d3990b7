package access

import (
	"context"
	"time"
)

// User is a catalog user defined at one tenancy level. Generic-bearer
// grants for user subjects require the user to exist.
type User struct {
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store opens transactions against the grant store. Every lifecycle
// operation runs inside exactly one transaction.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the narrow transactional contract the engine requires from the
// underlying key-value store. Grants are keyed by (target, access-method
// name, grant id); scans return grants in stable key order.
type Tx interface {
	// ClearCache discards any read cache carried over from a previous
	// transaction generation so reads observe current data.
	ClearCache()

	// Access resolves an access method definition at the target level.
	// Returns ErrNotFound if absent.
	Access(ctx context.Context, t Target, name string) (AccessMethod, error)
	// DefineAccess creates or replaces an access method definition.
	DefineAccess(ctx context.Context, t Target, am AccessMethod) error
	// User resolves a catalog user at the target level. Returns
	// ErrNotFound if absent.
	User(ctx context.Context, t Target, name string) (User, error)
	// DefineUser creates or replaces a catalog user.
	DefineUser(ctx context.Context, t Target, u User) error

	// EnsureNamespace idempotently creates the namespace container. In
	// strict mode a missing namespace is an error instead.
	EnsureNamespace(ctx context.Context, ns string, strict bool) error
	// EnsureDatabase idempotently creates the database container. In
	// strict mode a missing database is an error instead.
	EnsureDatabase(ctx context.Context, ns, db string, strict bool) error

	// Grant fetches one grant. Returns ErrNotFound if absent.
	Grant(ctx context.Context, t Target, method, id string) (AccessGrant, error)
	// PutGrant inserts a grant, failing with ErrAlreadyExists when the
	// key is already present.
	PutGrant(ctx context.Context, t Target, g AccessGrant) error
	// SetGrant overwrites a grant regardless of existence.
	SetGrant(ctx context.Context, t Target, g AccessGrant) error
	// DeleteGrant removes a grant.
	DeleteGrant(ctx context.Context, t Target, method, id string) error
	// Grants scans all grants under an access method in key order.
	Grants(ctx context.Context, t Target, method string) ([]AccessGrant, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
