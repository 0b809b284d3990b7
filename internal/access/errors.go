package access

import "errors"

var (
	// ErrNotFound indicates the referenced access method, grant or user
	// does not exist at the given tenancy level.
	ErrNotFound = errors.New("access: not found")
	// ErrAlreadyExists is returned by stores when an insert-if-absent
	// write finds the key already present.
	ErrAlreadyExists = errors.New("access: already exists")
	// ErrUnimplemented covers operations outside the supported tenancy
	// levels and grant issuance for token-type access methods.
	ErrUnimplemented = errors.New("access: not implemented")
	// ErrInvalidSubject indicates the statement subject variant does not
	// match what the resolved access method permits.
	ErrInvalidSubject = errors.New("access: invalid subject for access method")
	// ErrLevelMismatch indicates the grant kind is not available at the
	// requested tenancy level.
	ErrLevelMismatch = errors.New("access: tenancy level mismatch")
	// ErrMethodMismatch indicates the access method lacks the nested
	// configuration required for the requested grant kind.
	ErrMethodMismatch = errors.New("access: access method configuration mismatch")
	// ErrAlreadyRevoked indicates a single-grant revoke targeted a grant
	// that already carries a revocation time.
	ErrAlreadyRevoked = errors.New("access: grant already revoked")
	// ErrCollision indicates a freshly generated key identifier collided
	// with an existing grant under the same access method.
	ErrCollision = errors.New("access: grant identifier collision")
	// ErrDenied indicates the caller lacks the required authorization
	// action at the given level.
	ErrDenied = errors.New("access: action not allowed")
	// ErrInvalidStatement indicates a statement that should not have been
	// constructed, such as a purge with neither flag set.
	ErrInvalidStatement = errors.New("access: invalid statement")
	// ErrInvalidToken indicates a presented bearer token failed
	// verification.
	ErrInvalidToken = errors.New("access: invalid bearer token")
	// ErrStore wraps transaction or storage failures not classified above.
	ErrStore = errors.New("access: store failure")
)
