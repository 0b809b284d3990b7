package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RedactedKey replaces the bearer key field whenever a grant is shown to
// a caller after creation.
const RedactedKey = "[REDACTED]"

// Level is the tenancy level at which access methods and their grants live.
type Level string

const (
	LevelRoot      Level = "root"
	LevelNamespace Level = "namespace"
	LevelDatabase  Level = "database"
)

// Valid reports whether the level is one of the three supported levels.
func (l Level) Valid() bool {
	switch l {
	case LevelRoot, LevelNamespace, LevelDatabase:
		return true
	}
	return false
}

func (l Level) String() string {
	switch l {
	case LevelRoot:
		return "ROOT"
	case LevelNamespace:
		return "NAMESPACE"
	case LevelDatabase:
		return "DATABASE"
	}
	return string(l)
}

// Target identifies one concrete tenancy scope: the level plus the
// namespace and database names the level requires.
type Target struct {
	Level     Level  `json:"level"`
	Namespace string `json:"namespace,omitempty"`
	Database  string `json:"database,omitempty"`
}

// Validate checks that the target names every component its level requires.
func (t Target) Validate() error {
	if !t.Level.Valid() {
		return fmt.Errorf("%w: managing access methods outside of root, namespace and database levels", ErrUnimplemented)
	}
	if t.Level != LevelRoot && t.Namespace == "" {
		return fmt.Errorf("%w: no namespace selected", ErrLevelMismatch)
	}
	if t.Level == LevelDatabase && t.Database == "" {
		return fmt.Errorf("%w: no database selected", ErrLevelMismatch)
	}
	return nil
}

// SubjectKind discriminates the Subject union.
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectRecord SubjectKind = "record"
)

// Subject is the party a grant is issued for: either a named user that
// must exist at the target level, or a record reference that may not
// exist yet at grant-creation time.
type Subject struct {
	Kind   SubjectKind `json:"kind"`
	User   string      `json:"user,omitempty"`
	Record string      `json:"record,omitempty"`
}

// UserSubject builds a user subject.
func UserSubject(name string) Subject {
	return Subject{Kind: SubjectUser, User: name}
}

// RecordSubject builds a record subject from a record reference such as
// "user:tobie".
func RecordSubject(rid string) Subject {
	return Subject{Kind: SubjectRecord, Record: rid}
}

// ID returns the main identifier of the subject as a string.
func (s Subject) ID() string {
	switch s.Kind {
	case SubjectRecord:
		return s.Record
	case SubjectUser:
		return s.User
	}
	return ""
}

// GrantKind discriminates the Grant union.
type GrantKind string

const (
	GrantJwt    GrantKind = "jwt"
	GrantRecord GrantKind = "record"
	GrantBearer GrantKind = "bearer"
)

// GrantJwtData is the payload of a JWT grant. The token is only present
// transiently and is never persisted.
type GrantJwtData struct {
	JTI   uuid.UUID `json:"jti"`
	Token string    `json:"token,omitempty"`
}

// GrantRecordData is the payload of a record grant.
type GrantRecordData struct {
	RID   uuid.UUID `json:"rid"`
	JTI   uuid.UUID `json:"jti"`
	Token string    `json:"token,omitempty"`
}

// GrantBearerData is the payload of a bearer grant. Immediately after
// generation Key holds the plaintext bearer token; once persisted it
// holds the lowercase hex SHA-256 of that token instead.
type GrantBearerData struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Grant is the storage-agnostic secret payload of an access grant,
// a tagged union over the three grant kinds. Exactly one of the data
// fields is set, matching Kind.
type Grant struct {
	Kind   GrantKind        `json:"kind"`
	Jwt    *GrantJwtData    `json:"jwt,omitempty"`
	Record *GrantRecordData `json:"record,omitempty"`
	Bearer *GrantBearerData `json:"bearer,omitempty"`
}

// Variant returns the grant kind as a string for display and audit lines.
func (g Grant) Variant() string {
	return string(g.Kind)
}

// AccessGrant is the persisted and returned grant entity.
type AccessGrant struct {
	ID        string     `json:"id"`
	Method    string     `json:"ac"`
	CreatedAt time.Time  `json:"creation"`
	ExpiresAt *time.Time `json:"expiration,omitempty"`
	RevokedAt *time.Time `json:"revocation,omitempty"`
	Subject   Subject    `json:"subject"`
	Grant     Grant      `json:"grant"`
}

// IsExpired reports whether the grant expiration time, if any, lies
// strictly in the past relative to now.
func (g AccessGrant) IsExpired(now time.Time) bool {
	if g.ExpiresAt == nil {
		return false
	}
	return g.ExpiresAt.Before(now)
}

// IsRevoked reports whether a revocation time has been set.
func (g AccessGrant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// IsActive reports whether the grant is neither expired nor revoked.
func (g AccessGrant) IsActive(now time.Time) bool {
	return !(g.IsExpired(now) || g.IsRevoked())
}

// Redacted returns a copy of the grant with all secret material removed.
// JWT and record grants drop their transient token, which should not be
// stored in the first place; bearer grants have the key replaced with a
// fixed marker. The transform is lossy and idempotent. It must be applied
// before a grant is shown to any caller other than at creation.
func (g AccessGrant) Redacted() AccessGrant {
	out := g
	switch g.Grant.Kind {
	case GrantJwt:
		if g.Grant.Jwt != nil {
			jwt := *g.Grant.Jwt
			jwt.Token = ""
			out.Grant.Jwt = &jwt
		}
	case GrantRecord:
		if g.Grant.Record != nil {
			rec := *g.Grant.Record
			rec.Token = ""
			out.Grant.Record = &rec
		}
	case GrantBearer:
		if g.Grant.Bearer != nil {
			bearer := *g.Grant.Bearer
			bearer.Key = RedactedKey
			out.Grant.Bearer = &bearer
		}
	}
	return out
}

// Document renders the grant as a structured document for predicate
// evaluation and API responses. Callers must redact first; Document does
// not redact on its own.
func (g AccessGrant) Document() map[string]any {
	doc := map[string]any{
		"id":       g.ID,
		"ac":       g.Method,
		"type":     g.Grant.Variant(),
		"creation": g.CreatedAt,
	}
	if g.ExpiresAt != nil {
		doc["expiration"] = *g.ExpiresAt
	} else {
		doc["expiration"] = nil
	}
	if g.RevokedAt != nil {
		doc["revocation"] = *g.RevokedAt
	} else {
		doc["revocation"] = nil
	}
	subject := map[string]any{}
	switch g.Subject.Kind {
	case SubjectRecord:
		subject["record"] = g.Subject.Record
	case SubjectUser:
		subject["user"] = g.Subject.User
	}
	doc["subject"] = subject

	grant := map[string]any{}
	switch g.Grant.Kind {
	case GrantJwt:
		if g.Grant.Jwt != nil {
			grant["jti"] = g.Grant.Jwt.JTI.String()
			if g.Grant.Jwt.Token != "" {
				grant["token"] = g.Grant.Jwt.Token
			}
		}
	case GrantRecord:
		if g.Grant.Record != nil {
			grant["rid"] = g.Grant.Record.RID.String()
			grant["jti"] = g.Grant.Record.JTI.String()
			if g.Grant.Record.Token != "" {
				grant["token"] = g.Grant.Record.Token
			}
		}
	case GrantBearer:
		if g.Grant.Bearer != nil {
			grant["id"] = g.Grant.Bearer.ID
			grant["key"] = g.Grant.Bearer.Key
		}
	}
	doc["grant"] = grant
	return doc
}
