package sealed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/clinic-session/internal/ports"
)

// TokenStore encrypts tokens before they reach the wrapped store.
type TokenStore struct {
	next   ports.TokenStore
	cipher *Cipher
	logger *slog.Logger
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore wraps next so the persisted record only ever holds ciphertext.
func NewTokenStore(next ports.TokenStore, c *Cipher, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{next: next, cipher: c, logger: logger.With("component", "sealed_token_store")}
}

// Get opens the stored record. A record written before encryption was enabled is
// returned as-is and re-sealed on the next Set.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	raw, err := s.next.Get(ctx)
	if err != nil {
		return "", err
	}
	token, err := s.cipher.Open(raw)
	if errors.Is(err, ErrNotSealed) {
		s.logger.WarnContext(ctx, "persisted token is not encrypted")
		return raw, nil
	}
	if err != nil {
		return "", fmt.Errorf("unseal token: %w", err)
	}
	return token, nil
}

// Set seals token and stores the result.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return s.next.Set(ctx, token)
	}
	sealed, err := s.cipher.Seal(token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	return s.next.Set(ctx, sealed)
}

// Remove deletes the record.
func (s *TokenStore) Remove(ctx context.Context) error {
	return s.next.Remove(ctx)
}
