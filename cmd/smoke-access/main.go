package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"vantadb.org/internal/access"
	"vantadb.org/internal/auth"
	"vantadb.org/internal/store/mem"
)

// Exercises the full grant lifecycle against the in-memory store:
// define, create, show, authenticate, revoke, purge.
func main() {
	now := time.Now().UTC()
	clock := &now

	engine, err := access.NewEngine(mem.New(), access.WithClock(func() time.Time { return *clock }))
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	sess := access.Session{
		Actor:     auth.Actor{Name: "smoke", Role: auth.RoleOwner, Scope: access.Target{Level: access.LevelRoot}},
		Selection: access.Target{Level: access.LevelRoot},
	}
	ctx := context.Background()

	err = engine.DefineAccessMethod(ctx, access.LevelRoot, access.AccessMethod{
		Name:          "api",
		Kind:          access.MethodBearer,
		GrantDuration: time.Hour,
		Bearer:        &access.BearerConfig{Kind: access.BearerKindBearer, Subject: access.SubjectUser},
	}, sess)
	if err != nil {
		log.Fatalf("define access method: %v", err)
	}

	hash, err := auth.HashPassword("smoke-password")
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	if err := engine.DefineUser(ctx, access.LevelRoot, access.User{Name: "tobie", PasswordHash: hash}, sess); err != nil {
		log.Fatalf("define user: %v", err)
	}

	created, err := engine.CreateGrant(ctx, access.GrantStatement{
		Method:  "api",
		Subject: access.UserSubject("tobie"),
	}, sess)
	if err != nil {
		log.Fatalf("create grant: %v", err)
	}
	token := created.Grant.Bearer.Key
	if !strings.HasPrefix(token, "vanta-bearer-") {
		log.Fatalf("unexpected token prefix: %s", token)
	}

	shown, err := engine.ShowGrants(ctx, access.ShowStatement{Method: "api", Grant: created.ID}, sess)
	if err != nil {
		log.Fatalf("show grant: %v", err)
	}
	if len(shown) != 1 || shown[0].Grant.Bearer.Key != access.RedactedKey {
		log.Fatalf("shown grant not redacted: %+v", shown)
	}

	if _, err := engine.Authenticate(ctx, "api", token, sess); err != nil {
		log.Fatalf("authenticate: %v", err)
	}

	revoked, err := engine.RevokeGrants(ctx, access.RevokeStatement{Method: "api", Grant: created.ID}, sess)
	if err != nil {
		log.Fatalf("revoke grant: %v", err)
	}
	if len(revoked) != 1 || revoked[0].RevokedAt == nil {
		log.Fatalf("grant not revoked: %+v", revoked)
	}

	if _, err := engine.Authenticate(ctx, "api", token, sess); err == nil {
		log.Fatal("revoked grant still authenticates")
	}

	// Within the grace period nothing is purged.
	purged, err := engine.PurgeGrants(ctx, access.PurgeStatement{Method: "api", Revoked: true, Grace: time.Hour}, sess)
	if err != nil {
		log.Fatalf("purge (grace): %v", err)
	}
	if len(purged) != 0 {
		log.Fatalf("purged within grace period: %+v", purged)
	}

	// Past the grace period the revoked grant goes away.
	later := now.Add(2 * time.Hour)
	clock = &later
	purged, err = engine.PurgeGrants(ctx, access.PurgeStatement{Method: "api", Revoked: true, Grace: time.Hour}, sess)
	if err != nil {
		log.Fatalf("purge: %v", err)
	}
	if len(purged) != 1 {
		log.Fatalf("expected one purged grant, got %d", len(purged))
	}

	fmt.Printf("access smoke test passed: grant=%s\n", created.ID)
}
