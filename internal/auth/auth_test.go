package auth

import (
	"errors"
	"testing"
	"time"

	"vantadb.org/internal/access"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("VANTA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
}

func TestGenerateAndValidateToken(t *testing.T) {
	setSecret(t)

	actor := Actor{
		Name: "admin",
		Role: RoleOwner,
		Scope: access.Target{
			Level:     access.LevelNamespace,
			Namespace: "acme",
		},
	}
	token, err := GenerateToken(actor, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	got, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if got.Name != "admin" || got.Role != RoleOwner {
		t.Fatalf("identity not preserved: %+v", got)
	}
	if got.Scope.Level != access.LevelNamespace || got.Scope.Namespace != "acme" {
		t.Fatalf("scope not preserved: %+v", got.Scope)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	setSecret(t)

	base := Actor{Name: "admin", Role: RoleOwner, Scope: access.Target{Level: access.LevelRoot}}

	noName := base
	noName.Name = ""
	if _, err := GenerateToken(noName, time.Minute); err == nil {
		t.Fatal("expected error for missing name")
	}

	if _, err := GenerateToken(base, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}

	badRole := base
	badRole.Role = "superuser"
	if _, err := GenerateToken(badRole, time.Minute); err == nil {
		t.Fatal("expected error for unknown role")
	}

	badScope := base
	badScope.Scope = access.Target{Level: access.LevelNamespace}
	if _, err := GenerateToken(badScope, time.Minute); err == nil {
		t.Fatal("expected error for invalid scope")
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	setSecret(t)

	for _, token := range []string{"", "   ", "not-a-jwt", "aa.bb.cc"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

func TestParseAndValidateRejectsForeignSignature(t *testing.T) {
	setSecret(t)
	actor := Actor{Name: "admin", Role: RoleOwner, Scope: access.Target{Level: access.LevelRoot}}
	token, err := GenerateToken(actor, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	// Re-key the service; the previously issued token must fail.
	t.Setenv("VANTA_AUTH_SECRET", "rotated-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after rotation, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("VANTA_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	actor := Actor{Name: "admin", Role: RoleOwner, Scope: access.Target{Level: access.LevelRoot}}
	if _, err := GenerateToken(actor, time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong password"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}
