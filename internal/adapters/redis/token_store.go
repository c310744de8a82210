package redis

// Package redis provides the Redis-backed token record for shared or server-side sessions.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/clinic-session/internal/ports"
)

// DefaultKey is the key the token is stored under when none is configured.
const DefaultKey = "auth_token"

// TokenStoreOptions configures a TokenStore.
type TokenStoreOptions struct {
	Prefix string        // prepended to Key, e.g. "clinic:"
	Key    string        // defaults to DefaultKey
	TTL    time.Duration // zero keeps the record until removed
}

// TokenStore keeps the single token record in Redis.
type TokenStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a Redis-based token store.
func NewTokenStore(client redis.UniversalClient, opts TokenStoreOptions) *TokenStore {
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		key = DefaultKey
	}
	return &TokenStore{
		client: client,
		key:    opts.Prefix + key,
		ttl:    opts.TTL,
	}
}

// Get reads the token key. A missing key is ports.ErrTokenNotFound.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ports.ErrTokenNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return token, nil
}

// Set stores the token, expiring it after the configured TTL when one is set.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := s.client.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove deletes the token key.
func (s *TokenStore) Remove(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Key returns the fully-qualified Redis key.
func (s *TokenStore) Key() string { return s.key }
