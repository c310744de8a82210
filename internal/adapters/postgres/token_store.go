// Package postgres keeps the token record in a Postgres table (see internal/migrate).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/target/clinic-session/internal/errors"
	"github.com/target/clinic-session/internal/ports"
)

// DefaultKey is the row key used when none is configured.
const DefaultKey = "auth_token"

// TokenStore stores one token row keyed by name.
type TokenStore struct {
	db  *sql.DB
	key string
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a Postgres-backed token store. The session_tokens table must exist.
func NewTokenStore(db *sql.DB, key string) *TokenStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	return &TokenStore{db: db, key: key}
}

// Get reads the token row. A missing row is ports.ErrTokenNotFound.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM session_tokens WHERE key = $1`, s.key).Scan(&token)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", ports.ErrTokenNotFound
		}
		return "", fmt.Errorf("select token: %w", mapped)
	}
	return token, nil
}

// Set upserts the token row.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.ValidationField("token", "token cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tokens (key, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`,
		s.key, token,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Remove deletes the token row.
func (s *TokenStore) Remove(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE key = $1`, s.key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete token: %w", apperrors.MapDBError(err))
	}
	return nil
}
