package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flowpilot/internal/storage"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// nil cache exercises the database-only path.
	return NewService(db, nil, ttl), db
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID <= 0 {
		t.Fatalf("expected positive user id, got %d", user.ID)
	}
	if user.PasswordHash == "s3cret" {
		t.Fatalf("password stored unhashed")
	}

	logged, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID {
		t.Fatalf("login returned wrong user: %d vs %d", logged.ID, user.ID)
	}

	if _, err := svc.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatalf("wrong password must fail")
	}
	if _, err := svc.Login(ctx, "nobody", "s3cret"); err == nil {
		t.Fatalf("unknown user must fail")
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	if _, err := svc.RegisterUser(ctx, "alice", "one"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "alice", "two"); err == nil {
		t.Fatalf("duplicate username must fail")
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("token resolved to wrong user: %d vs %d", userID, user.ID)
	}

	if _, err := svc.ValidateToken(ctx, "deadbeef"); err == nil {
		t.Fatalf("unknown token must fail")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc, db := newTestService(t, time.Hour)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := db.Exec(
		`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"expiredtoken", user.ID, past.Add(-time.Hour), past,
	); err != nil {
		t.Fatalf("insert expired token: %v", err)
	}

	if _, err := svc.ValidateToken(ctx, "expiredtoken"); err == nil {
		t.Fatalf("expired token must fail")
	}
	// Expired tokens are deleted on validation.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, "expiredtoken").Scan(&count); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token should be removed, found %d rows", count)
	}
}

func TestRevokeToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("revoked token must fail")
	}
}

func TestRevokeUserTokens(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	second, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if err := svc.RevokeUserTokens(ctx, user.ID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, first); err == nil {
		t.Fatalf("first token must fail after revoke all")
	}
	if _, err := svc.ValidateToken(ctx, second); err == nil {
		t.Fatalf("second token must fail after revoke all")
	}
}
