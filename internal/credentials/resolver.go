package credentials

import (
	"context"
	"errors"
)

// Failure modes surfaced by Resolve. The HTTP layer maps these to distinct
// status codes before any stream is opened.
var (
	ErrNotConfigured = errors.New("credential not configured")
	ErrForbidden     = errors.New("credential access forbidden")
	ErrMalformed     = errors.New("credential data malformed")
)

// secretField is the key inside the decrypted payload holding the API key.
const secretField = "apiKey"

// Resolver locates, authorizes and decrypts a user's Anthropic API credential.
// Resolution happens on every chat turn; nothing is cached.
type Resolver struct {
	store    *Store
	credType string
}

// NewResolver builds a resolver bound to one credential type.
func NewResolver(store *Store, credType string) *Resolver {
	return &Resolver{store: store, credType: credType}
}

// Resolve returns the decrypted API key for the user, or one of
// ErrNotConfigured, ErrForbidden, ErrMalformed.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (string, error) {
	creds, err := r.store.ListByType(ctx, userID, r.credType)
	if err != nil {
		return "", err
	}
	if len(creds) == 0 {
		return "", ErrNotConfigured
	}
	data, err := r.store.GetDecrypted(ctx, creds[0].ID, userID)
	if err != nil {
		return "", err
	}
	secret, ok := data[secretField]
	if !ok || secret == "" {
		return "", ErrMalformed
	}
	return secret, nil
}
