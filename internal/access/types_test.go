package access

import (
	"errors"
	"testing"
	"time"
)

func TestRedactedReplacesBearerKey(t *testing.T) {
	gr := AccessGrant{
		ID:        "W4PLNrcQHpzX",
		Method:    "api",
		CreatedAt: time.Now().UTC(),
		Subject:   UserSubject("tobie"),
		Grant: Grant{
			Kind:   GrantBearer,
			Bearer: &GrantBearerData{ID: "W4PLNrcQHpzX", Key: "vanta-bearer-W4PLNrcQHpzX-aBcDeFgHiJkLmNoPqRsTuVwX"},
		},
	}
	red := gr.Redacted()
	if red.Grant.Bearer.Key != RedactedKey {
		t.Fatalf("expected redaction marker, got %s", red.Grant.Bearer.Key)
	}
	// The original payload must not be touched.
	if gr.Grant.Bearer.Key == RedactedKey {
		t.Fatalf("redaction mutated the original grant")
	}
	// Redaction is idempotent.
	twice := red.Redacted()
	if twice.Grant.Bearer.Key != RedactedKey {
		t.Fatalf("double redaction changed the marker: %s", twice.Grant.Bearer.Key)
	}
	if red.Grant.Bearer.ID != gr.Grant.Bearer.ID {
		t.Fatalf("redaction must keep the key identifier")
	}
}

func TestRedactedDropsTransientTokens(t *testing.T) {
	jwtGrant := AccessGrant{
		Grant: Grant{Kind: GrantJwt, Jwt: &GrantJwtData{Token: "signed"}},
	}
	if got := jwtGrant.Redacted().Grant.Jwt.Token; got != "" {
		t.Fatalf("expected jwt token dropped, got %q", got)
	}
	recGrant := AccessGrant{
		Grant: Grant{Kind: GrantRecord, Record: &GrantRecordData{Token: "signed"}},
	}
	if got := recGrant.Redacted().Grant.Record.Token; got != "" {
		t.Fatalf("expected record token dropped, got %q", got)
	}
}

func TestGrantActivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	fresh := AccessGrant{ExpiresAt: &future}
	if !fresh.IsActive(now) {
		t.Fatalf("grant expiring in the future must be active")
	}
	expired := AccessGrant{ExpiresAt: &past}
	if expired.IsActive(now) || !expired.IsExpired(now) {
		t.Fatalf("grant expired in the past must be inactive")
	}
	revoked := AccessGrant{RevokedAt: &past}
	if revoked.IsActive(now) || !revoked.IsRevoked() {
		t.Fatalf("revoked grant must be inactive")
	}
	eternal := AccessGrant{}
	if !eternal.IsActive(now) {
		t.Fatalf("grant without expiration must be active")
	}
	// Expiration is strict: a grant is still active at its exact expiry instant.
	atBoundary := AccessGrant{ExpiresAt: &now}
	if atBoundary.IsExpired(now) {
		t.Fatalf("grant must not be expired at the exact expiry instant")
	}
}

func TestDocumentShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gr := AccessGrant{
		ID:        "W4PLNrcQHpzX",
		Method:    "api",
		CreatedAt: now,
		Subject:   RecordSubject("user:tobie"),
		Grant: Grant{
			Kind:   GrantBearer,
			Bearer: &GrantBearerData{ID: "W4PLNrcQHpzX", Key: RedactedKey},
		},
	}
	doc := gr.Document()
	if doc["id"] != "W4PLNrcQHpzX" || doc["ac"] != "api" || doc["type"] != "bearer" {
		t.Fatalf("unexpected identity fields: %+v", doc)
	}
	if doc["expiration"] != nil || doc["revocation"] != nil {
		t.Fatalf("expected nil lifecycle fields: %+v", doc)
	}
	subject, ok := doc["subject"].(map[string]any)
	if !ok || subject["record"] != "user:tobie" {
		t.Fatalf("unexpected subject: %+v", doc["subject"])
	}
	grant, ok := doc["grant"].(map[string]any)
	if !ok || grant["key"] != RedactedKey {
		t.Fatalf("unexpected grant payload: %+v", doc["grant"])
	}
}

func TestTargetValidate(t *testing.T) {
	cases := []struct {
		name    string
		target  Target
		wantErr error
	}{
		{name: "root", target: Target{Level: LevelRoot}},
		{name: "namespace", target: Target{Level: LevelNamespace, Namespace: "acme"}},
		{name: "database", target: Target{Level: LevelDatabase, Namespace: "acme", Database: "app"}},
		{name: "bad level", target: Target{Level: "cluster"}, wantErr: ErrUnimplemented},
		{name: "namespace missing", target: Target{Level: LevelNamespace}, wantErr: ErrLevelMismatch},
		{name: "database missing", target: Target{Level: LevelDatabase, Namespace: "acme"}, wantErr: ErrLevelMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.target.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
