// Package filestore keeps the token record in a user-private file, surviving process restarts.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/target/clinic-session/internal/ports"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// TokenStore persists the token to a single file. It is safe for concurrent use.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// DefaultPath returns ~/.config/clinic-session/<key>, or a relative path when the
// user config directory cannot be determined.
func DefaultPath(key string) string {
	if key == "" {
		key = "auth_token"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".clinic-session", key)
	}
	return filepath.Join(dir, "clinic-session", key)
}

// Path returns the backing file path.
func (s *TokenStore) Path() string { return s.path }

// Get reads the token file. A missing or blank file is ports.ErrTokenNotFound.
func (s *TokenStore) Get(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ports.ErrTokenNotFound
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ports.ErrTokenNotFound
	}
	return token, nil
}

// Set writes the token atomically (temp file + rename) with owner-only permissions.
func (s *TokenStore) Set(_ context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Remove deletes the token file. A missing file is not an error.
func (s *TokenStore) Remove(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
