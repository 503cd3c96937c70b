package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoWorkflow is returned when the user has no current workflow document.
var ErrNoWorkflow = errors.New("no workflow document")

// Store persists each user's current workflow document.
type Store struct {
	db *sql.DB
}

// NewStore builds a workflow store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Current returns the user's active workflow document.
func (s *Store) Current(ctx context.Context, userID int64) (*Document, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	var name, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, data FROM workflows WHERE user_id = ?`, userID,
	).Scan(&name, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoWorkflow
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	doc.Name = name
	return &doc, nil
}

// Replace overwrites the user's active workflow with the supplied document,
// creating the row on first use.
func (s *Store) Replace(ctx context.Context, userID int64, doc *Document) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	if doc == nil {
		return errors.New("document is required")
	}
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	name := doc.Name
	if name == "" {
		name = "My workflow"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, data = ?, updated_at = ? WHERE user_id = ?`,
		name, data, now, userID,
	)
	if err != nil {
		return fmt.Errorf("replace workflow: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (user_id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, name, data, now, now,
	)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// Rename sets the title of the user's active workflow.
func (s *Store) Rename(ctx context.Context, userID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, updated_at = ? WHERE user_id = ?`,
		name, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("rename workflow: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoWorkflow
	}
	return nil
}
