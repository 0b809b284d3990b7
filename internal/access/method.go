package access

import "time"

// MethodKind is the authentication kind of an access method.
type MethodKind string

const (
	// MethodJwt access methods verify externally issued tokens; grant
	// issuance for them is not supported.
	MethodJwt MethodKind = "jwt"
	// MethodRecord access methods authenticate database records and may
	// carry a nested bearer configuration enabling bearer grants.
	MethodRecord MethodKind = "record"
	// MethodBearer access methods issue bearer grants directly.
	MethodBearer MethodKind = "bearer"
)

// BearerKind distinguishes the bearer token families so tokens are
// recognizable by prefix without decoding.
type BearerKind string

const (
	BearerKindBearer  BearerKind = "bearer"
	BearerKindRefresh BearerKind = "refresh"
)

// Prefix returns the token prefix for the bearer kind.
func (k BearerKind) Prefix() string {
	switch k {
	case BearerKindRefresh:
		return "vanta-refresh"
	default:
		return "vanta-bearer"
	}
}

// BearerConfig is the bearer sub-configuration of an access method: the
// token family to issue and the subject kind grants may be issued for.
type BearerConfig struct {
	Kind    BearerKind  `json:"kind"`
	Subject SubjectKind `json:"subject"`
}

// AccessMethod is a named access configuration at one tenancy level.
// For bearer methods the Bearer config is mandatory; for record methods
// it is optional and its absence makes bearer grant issuance a mismatch.
type AccessMethod struct {
	Name string     `json:"name"`
	Kind MethodKind `json:"kind"`
	// GrantDuration bounds the lifetime of issued grants. Zero means
	// grants never expire.
	GrantDuration time.Duration `json:"grant_duration,omitempty"`
	Bearer        *BearerConfig `json:"bearer,omitempty"`
}
