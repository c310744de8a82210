package auth

// Package auth contains simple hand-written test doubles for session ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"sync"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	"github.com/target/clinic-session/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*FakeIdentityProvider)(nil)
	_ ports.TokenStore       = (*MemoryTokenStore)(nil)
	_ ports.RoleMapper       = (*StaticRoleMapper)(nil)
)

// FakeIdentityProvider simulates the identity API with deterministic tokens.
// Override individual operations with the *Func fields.
type FakeIdentityProvider struct {
	AuthenticateFunc func(ctx context.Context, creds domainauth.Credentials) (domainauth.AuthResult, error)
	RegisterFunc     func(ctx context.Context, reg domainauth.Registration) (domainauth.AuthResult, error)
	ProfileFunc      func(ctx context.Context) (domainauth.Identity, error)
	LogoutFunc       func(ctx context.Context) error

	// DefaultUser is returned by Authenticate and Profile when no func is set.
	DefaultUser domainauth.Identity

	mu    sync.Mutex
	calls map[string]int
	seq   int
}

// NewFakeIdentityProvider creates a FakeIdentityProvider returning a Patient user.
func NewFakeIdentityProvider() *FakeIdentityProvider {
	return &FakeIdentityProvider{
		DefaultUser: domainauth.Identity{
			ID:       "user-1",
			FullName: "Mock Patient",
			Email:    "patient@example.com",
			Roles:    domainauth.Roles{domainauth.RolePatient},
		},
	}
}

func (f *FakeIdentityProvider) record(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	f.seq++
	return f.seq
}

// Calls returns how many times op ("authenticate", "register", "profile", "logout") was invoked.
func (f *FakeIdentityProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeIdentityProvider) Authenticate(ctx context.Context, creds domainauth.Credentials) (domainauth.AuthResult, error) {
	n := f.record("authenticate")
	if f.AuthenticateFunc != nil {
		return f.AuthenticateFunc(ctx, creds)
	}
	user := f.DefaultUser.Clone()
	if creds.Email != "" {
		user.Email = creds.Email
	}
	return domainauth.AuthResult{Token: fmt.Sprintf("token-%d", n), User: user}, nil
}

func (f *FakeIdentityProvider) Register(ctx context.Context, reg domainauth.Registration) (domainauth.AuthResult, error) {
	n := f.record("register")
	if f.RegisterFunc != nil {
		return f.RegisterFunc(ctx, reg)
	}
	return domainauth.AuthResult{
		Token: fmt.Sprintf("token-%d", n),
		User: domainauth.Identity{
			ID:       fmt.Sprintf("user-%d", n),
			FullName: reg.FullName,
			Email:    reg.Email,
			Roles:    domainauth.Roles{domainauth.RolePatient},
		},
	}, nil
}

func (f *FakeIdentityProvider) Profile(ctx context.Context) (domainauth.Identity, error) {
	f.record("profile")
	if f.ProfileFunc != nil {
		return f.ProfileFunc(ctx)
	}
	return f.DefaultUser.Clone(), nil
}

func (f *FakeIdentityProvider) Logout(ctx context.Context) error {
	f.record("logout")
	if f.LogoutFunc != nil {
		return f.LogoutFunc(ctx)
	}
	return nil
}

// MemoryTokenStore is an in-memory token record for unit tests.
// Set*Err fields inject failures into the matching operation.
type MemoryTokenStore struct {
	mu      sync.Mutex
	token   string
	present bool

	GetErr    error
	SetErr    error
	RemoveErr error
}

// NewMemoryTokenStore creates a store, optionally pre-seeded with a token.
func NewMemoryTokenStore(initial string) *MemoryTokenStore {
	return &MemoryTokenStore{token: initial, present: initial != ""}
}

func (m *MemoryTokenStore) Get(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	if !m.present {
		return "", ports.ErrTokenNotFound
	}
	return m.token, nil
}

func (m *MemoryTokenStore) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if token == "" {
		return apperrors.ValidationField("token", "token cannot be empty")
	}
	m.token, m.present = token, true
	return nil
}

func (m *MemoryTokenStore) Remove(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.token, m.present = "", false
	return nil
}

// Stored returns the persisted token and whether one is present, bypassing injected errors.
func (m *MemoryTokenStore) Stored() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.present
}

// StaticRoleMapper maps groups by simple string membership rules.
type StaticRoleMapper struct {
	AdminGroup   string
	DoctorGroup  string
	PatientGroup string
}

func (m StaticRoleMapper) Map(groups []string) domainauth.Roles {
	var roles domainauth.Roles
	add := func(group string, role domainauth.Role) {
		if group == "" || roles.Contains(role) {
			return
		}
		for _, g := range groups {
			if g == group {
				roles = append(roles, role)
				return
			}
		}
	}
	add(m.AdminGroup, domainauth.RoleAdmin)
	add(m.DoctorGroup, domainauth.RoleDoctor)
	add(m.PatientGroup, domainauth.RolePatient)
	return roles
}
