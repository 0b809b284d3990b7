package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Predicate filters grants during bulk show and revoke. It is evaluated
// against the redacted document form of each grant, never the raw form.
type Predicate func(ctx context.Context, doc map[string]any) (bool, error)

// GrantStatement requests issuance of a new grant.
type GrantStatement struct {
	Method  string
	Level   Level // empty means the session's current selection
	Subject Subject
}

// ShowStatement requests one grant by id, or all grants optionally
// filtered by a predicate.
type ShowStatement struct {
	Method string
	Level  Level
	Grant  string
	Cond   Predicate
}

// RevokeStatement revokes one grant by id, or all grants optionally
// filtered by a predicate.
type RevokeStatement struct {
	Method string
	Level  Level
	Grant  string
	Cond   Predicate
}

// PurgeStatement permanently deletes grants that have been expired or
// revoked for longer than the grace period. At least one of the two
// flags must be set.
type PurgeStatement struct {
	Method  string
	Level   Level
	Expired bool
	Revoked bool
	Grace   time.Duration
}

func (s GrantStatement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ACCESS %s", s.Method)
	if s.Level != "" {
		fmt.Fprintf(&b, " ON %s", s.Level)
	}
	b.WriteString(" GRANT")
	switch s.Subject.Kind {
	case SubjectUser:
		fmt.Fprintf(&b, " FOR USER %s", s.Subject.ID())
	case SubjectRecord:
		fmt.Fprintf(&b, " FOR RECORD %s", s.Subject.ID())
	}
	return b.String()
}

func (s ShowStatement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ACCESS %s", s.Method)
	if s.Level != "" {
		fmt.Fprintf(&b, " ON %s", s.Level)
	}
	b.WriteString(" SHOW")
	switch {
	case s.Grant != "":
		fmt.Fprintf(&b, " GRANT %s", s.Grant)
	case s.Cond != nil:
		b.WriteString(" WHERE ...")
	default:
		b.WriteString(" ALL")
	}
	return b.String()
}

func (s RevokeStatement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ACCESS %s", s.Method)
	if s.Level != "" {
		fmt.Fprintf(&b, " ON %s", s.Level)
	}
	b.WriteString(" REVOKE")
	switch {
	case s.Grant != "":
		fmt.Fprintf(&b, " GRANT %s", s.Grant)
	case s.Cond != nil:
		b.WriteString(" WHERE ...")
	default:
		b.WriteString(" ALL")
	}
	return b.String()
}

func (s PurgeStatement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ACCESS %s", s.Method)
	if s.Level != "" {
		fmt.Fprintf(&b, " ON %s", s.Level)
	}
	b.WriteString(" PURGE")
	switch {
	case s.Expired && s.Revoked:
		b.WriteString(" EXPIRED, REVOKED")
	case s.Expired:
		b.WriteString(" EXPIRED")
	case s.Revoked:
		b.WriteString(" REVOKED")
	default:
		// Rejected by the engine; rendered for diagnostics only.
		b.WriteString(" NONE")
	}
	if s.Grace != 0 {
		fmt.Fprintf(&b, " FOR %s", s.Grace)
	}
	return b.String()
}
