package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowpilot/internal/models"
)

// Store persists third-party API credentials. Secret payloads are stored as
// AES-256-GCM encrypted JSON blobs keyed from the environment.
type Store struct {
	db     *sql.DB
	cipher *credentialCipher
}

// NewStore builds a credential store. The encryption key must be present in
// the environment.
func NewStore(db *sql.DB) (*Store, error) {
	cipher, err := newCipherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	return &Store{db: db, cipher: cipher}, nil
}

// Create encrypts the secret payload and inserts a credential row.
func (s *Store) Create(ctx context.Context, userID int64, credType, name string, data map[string]string, shared bool) (*models.Credential, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	credType = strings.TrimSpace(credType)
	if credType == "" {
		return nil, errors.New("credential type is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = credType
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode credential data: %w", err)
	}
	encrypted, err := s.cipher.Encrypt(string(payload))
	if err != nil {
		return nil, fmt.Errorf("encrypt credential data: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, type, name, data, shared, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, credType, name, encrypted, shared, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("credential id: %w", err)
	}
	return &models.Credential{
		ID:        id,
		UserID:    userID,
		Type:      credType,
		Name:      name,
		Shared:    shared,
		CreatedAt: now,
	}, nil
}

// ListByType returns credentials of the given type visible to the user: the
// user's own plus credentials shared by others. Secret payloads stay encrypted.
func (s *Store) ListByType(ctx context.Context, userID int64, credType string) ([]models.Credential, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, name, shared, created_at FROM credentials
		 WHERE type = ? AND (user_id = ? OR shared = 1)
		 ORDER BY created_at ASC`,
		credType, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Type, &c.Name, &c.Shared, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ListByUser returns all credentials owned by the user.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]models.Credential, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, name, shared, created_at FROM credentials WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Type, &c.Name, &c.Shared, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// GetDecrypted re-fetches a credential with decryption scope. Only the owner
// may decrypt; a visible but foreign credential yields ErrForbidden.
func (s *Store) GetDecrypted(ctx context.Context, credID, userID int64) (map[string]string, error) {
	var ownerID int64
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, data FROM credentials WHERE id = ?`, credID,
	).Scan(&ownerID, &encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if ownerID != userID {
		return nil, ErrForbidden
	}
	plain, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, ErrMalformed
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(plain), &data); err != nil {
		return nil, ErrMalformed
	}
	return data, nil
}

// Delete removes a credential owned by the user.
func (s *Store) Delete(ctx context.Context, credID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = ? AND user_id = ?`, credID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
