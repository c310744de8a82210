package ports

// Package ports defines interfaces (hexagonal ports) for session-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
)

// ErrTokenNotFound is returned by TokenStore.Get when no token is persisted.
var ErrTokenNotFound = errors.New("token not found")

// IdentityProvider authenticates users and resolves the identity behind a token.
// Failures caused by an invalid or expired credential must satisfy errors.IsUnauthorized.
type IdentityProvider interface {
	// Authenticate exchanges email/password for a token and the resolved identity.
	Authenticate(ctx context.Context, creds domainauth.Credentials) (domainauth.AuthResult, error)

	// Register creates an account and returns a token and identity for it.
	Register(ctx context.Context, reg domainauth.Registration) (domainauth.AuthResult, error)

	// Profile returns the identity for the currently attached bearer credential.
	Profile(ctx context.Context) (domainauth.Identity, error)

	// Logout notifies the backend that the current token is no longer in use.
	Logout(ctx context.Context) error
}

// TokenStore persists the single durable token record.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Remove(ctx context.Context) error
}

// TokenSource exposes the token currently held by a session.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func() string

// Token implements TokenSource.
func (f TokenSourceFunc) Token() string { return f() }

// RoleMapper maps provider groups to application roles.
type RoleMapper interface {
	Map(groups []string) domainauth.Roles
}
