package credentials

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flowpilot/internal/models"
	"flowpilot/internal/storage"
)

const testKey = "0123456789abcdef0123456789abcdef"

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	t.Setenv(credentialKeyEnv, testKey)
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, db
}

func insertTestUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, "hash", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return id
}

func TestCredentialDataEncryptedAtRest(t *testing.T) {
	store, db := openTestStore(t)
	userID := insertTestUser(t, db, "alice")

	cred, err := store.Create(context.Background(), userID, models.CredentialTypeAnthropic, "work key", map[string]string{"apiKey": "sk-ant-secret"}, false)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}

	var stored string
	if err := db.QueryRow(`SELECT data FROM credentials WHERE id = ?`, cred.ID).Scan(&stored); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if strings.Contains(stored, "sk-ant-secret") || strings.Contains(stored, "apiKey") {
		t.Fatalf("secret stored in plaintext: %q", stored)
	}

	data, err := store.GetDecrypted(context.Background(), cred.ID, userID)
	if err != nil {
		t.Fatalf("decrypt credential: %v", err)
	}
	if data["apiKey"] != "sk-ant-secret" {
		t.Fatalf("roundtrip mismatch: %v", data)
	}
}

func TestResolveHappyPath(t *testing.T) {
	store, db := openTestStore(t)
	userID := insertTestUser(t, db, "alice")
	if _, err := store.Create(context.Background(), userID, models.CredentialTypeAnthropic, "", map[string]string{"apiKey": "sk-ant-live"}, false); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	resolver := NewResolver(store, models.CredentialTypeAnthropic)
	key, err := resolver.Resolve(context.Background(), userID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-ant-live" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestResolveNotConfigured(t *testing.T) {
	store, db := openTestStore(t)
	userID := insertTestUser(t, db, "alice")
	// A credential of another type must not satisfy resolution.
	if _, err := store.Create(context.Background(), userID, "openAiApi", "", map[string]string{"apiKey": "sk-other"}, false); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	resolver := NewResolver(store, models.CredentialTypeAnthropic)
	if _, err := resolver.Resolve(context.Background(), userID); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestResolveForbiddenForSharedForeignCredential(t *testing.T) {
	store, db := openTestStore(t)
	alice := insertTestUser(t, db, "alice")
	bob := insertTestUser(t, db, "bob")
	if _, err := store.Create(context.Background(), bob, models.CredentialTypeAnthropic, "team key", map[string]string{"apiKey": "sk-ant-bob"}, true); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	resolver := NewResolver(store, models.CredentialTypeAnthropic)
	if _, err := resolver.Resolve(context.Background(), alice); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestResolveMalformedPayload(t *testing.T) {
	store, db := openTestStore(t)
	userID := insertTestUser(t, db, "alice")
	if _, err := store.Create(context.Background(), userID, models.CredentialTypeAnthropic, "", map[string]string{"token": "wrong-field"}, false); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	resolver := NewResolver(store, models.CredentialTypeAnthropic)
	if _, err := resolver.Resolve(context.Background(), userID); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestResolveCorruptCiphertext(t *testing.T) {
	store, db := openTestStore(t)
	userID := insertTestUser(t, db, "alice")
	cred, err := store.Create(context.Background(), userID, models.CredentialTypeAnthropic, "", map[string]string{"apiKey": "sk-ant-live"}, false)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if _, err := db.Exec(`UPDATE credentials SET data = ? WHERE id = ?`, "not-base64!!", cred.ID); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	resolver := NewResolver(store, models.CredentialTypeAnthropic)
	if _, err := resolver.Resolve(context.Background(), userID); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestListByTypeIncludesShared(t *testing.T) {
	store, db := openTestStore(t)
	alice := insertTestUser(t, db, "alice")
	bob := insertTestUser(t, db, "bob")
	if _, err := store.Create(context.Background(), alice, models.CredentialTypeAnthropic, "own", map[string]string{"apiKey": "a"}, false); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if _, err := store.Create(context.Background(), bob, models.CredentialTypeAnthropic, "shared", map[string]string{"apiKey": "b"}, true); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if _, err := store.Create(context.Background(), bob, models.CredentialTypeAnthropic, "private", map[string]string{"apiKey": "c"}, false); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	creds, err := store.ListByType(context.Background(), alice, models.CredentialTypeAnthropic)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected own+shared credentials, got %d", len(creds))
	}
}

func TestDeleteOnlyOwn(t *testing.T) {
	store, db := openTestStore(t)
	alice := insertTestUser(t, db, "alice")
	bob := insertTestUser(t, db, "bob")
	cred, err := store.Create(context.Background(), bob, models.CredentialTypeAnthropic, "", map[string]string{"apiKey": "b"}, false)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if err := store.Delete(context.Background(), cred.ID, alice); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("foreign delete should report no rows, got %v", err)
	}
	if err := store.Delete(context.Background(), cred.ID, bob); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
}
