package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	"github.com/target/clinic-session/internal/observability/metrics"
	"github.com/target/clinic-session/internal/observability/notify"
	"github.com/target/clinic-session/internal/observability/statsd"
	"github.com/target/clinic-session/internal/ports"
)

// profileFetchTimeout bounds a shared identity fetch once no caller can cancel it.
const profileFetchTimeout = 30 * time.Second

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider ports.IdentityProvider
	Tokens   ports.TokenStore
	Expiry   *notify.ExpiryBroadcaster // optional; HandleUnauthorized publishes here
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// AuthService owns one client session: the token, the identity it resolves to, and the
// persisted token record. Every failure path funnels through ClearAuth.
//
// Mutations are serialized by writeMu, which is held across token-record I/O so the record
// and the in-memory token never diverge. Readers only take mu and never wait on I/O.
type AuthService struct {
	provider ports.IdentityProvider
	tokens   ports.TokenStore
	expiry   *notify.ExpiryBroadcaster
	logger   *slog.Logger
	metrics  statsd.Sink

	writeMu sync.Mutex

	mu         sync.RWMutex
	token      string
	user       *domainauth.Identity
	pending    int
	generation uint64

	fetches singleflight.Group
}

var _ ports.TokenSource = (*AuthService)(nil)

// NewAuthService constructs an AuthService and restores the persisted token, if any.
// A token-store read failure is logged and the session starts empty.
func NewAuthService(ctx context.Context, opts AuthServiceOptions) (*AuthService, error) {
	if opts.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &AuthService{
		provider: opts.Provider,
		tokens:   opts.Tokens,
		expiry:   opts.Expiry,
		logger:   logger.With("component", "session"),
		metrics:  opts.Metrics,
	}

	token, err := opts.Tokens.Get(ctx)
	switch {
	case err == nil:
		s.token = strings.TrimSpace(token)
	case errors.Is(err, ports.ErrTokenNotFound):
	default:
		s.logger.WarnContext(ctx, "restore persisted token failed; starting signed out", "error", err)
	}
	return s, nil
}

// Login exchanges credentials for a token and identity. On success both are set and the token
// is persisted. On any failure the session is cleared and the error returned.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domainauth.AuthResult, error) {
	start := time.Now()
	done := s.beginLoading()
	defer done()

	creds := domainauth.Credentials{Email: strings.TrimSpace(email), Password: password}
	res, err := s.provider.Authenticate(ctx, creds)
	if err != nil {
		return nil, s.fail(ctx, "login", start, fmt.Errorf("authenticate: %w", err))
	}
	if err := s.establish(ctx, res); err != nil {
		return nil, s.fail(ctx, "login", start, err)
	}

	s.emit("login", metrics.ResultSuccess, start, nil)
	return &res, nil
}

// Register creates an account and signs in as it. Same all-or-nothing contract as Login.
func (s *AuthService) Register(ctx context.Context, reg domainauth.Registration) (*domainauth.AuthResult, error) {
	start := time.Now()
	done := s.beginLoading()
	defer done()

	if err := validateRegistration(reg); err != nil {
		return nil, s.fail(ctx, "register", start, err)
	}

	res, err := s.provider.Register(ctx, reg)
	if err != nil {
		return nil, s.fail(ctx, "register", start, fmt.Errorf("register: %w", err))
	}
	if err := s.establish(ctx, res); err != nil {
		return nil, s.fail(ctx, "register", start, err)
	}

	s.emit("register", metrics.ResultSuccess, start, nil)
	return &res, nil
}

// FetchUser resolves the identity behind the held token. It is a no-op without a token.
// A failed fetch is treated as an invalid token: the session is cleared and the error returned.
//
// Overlapping calls for the same session share one provider request. A result that arrives
// after the session was cleared or replaced is discarded. A caller whose ctx ends first gets
// ctx.Err() and leaves the session untouched; the shared request continues for the others.
func (s *AuthService) FetchUser(ctx context.Context) error {
	s.mu.RLock()
	token, gen := s.token, s.generation
	s.mu.RUnlock()
	if token == "" {
		return nil
	}

	start := time.Now()
	// The shared request outlives any single caller; each caller stops waiting on its own ctx.
	ch := s.fetches.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileFetchTimeout)
		defer cancel()
		return s.provider.Profile(fetchCtx)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		err := fmt.Errorf("fetch profile: %w", ctx.Err())
		s.emit("fetch_user", metrics.ResultError, start, err)
		return err
	}
	v, err := res.Val, res.Err
	user, ok := v.(domainauth.Identity)
	if err == nil && !ok {
		err = apperrors.Internalf("unexpected profile result %T", v)
	}
	if err != nil {
		err = fmt.Errorf("fetch profile: %w", err)
		if s.clearIfCurrent(ctx, gen) {
			s.logger.WarnContext(ctx, "fetch user failed; session cleared", "error", err)
		}
		s.emit("fetch_user", metrics.ResultError, start, err)
		return err
	}

	user = user.Clone()

	s.mu.Lock()
	applied := s.generation == gen
	if applied {
		s.user = &user
	}
	s.mu.Unlock()

	if !applied {
		s.logger.DebugContext(ctx, "discarding profile for a session that changed during fetch")
		s.emit("fetch_user", metrics.ResultNoop, start, nil)
		return nil
	}
	s.emit("fetch_user", metrics.ResultSuccess, start, nil)
	return nil
}

// Logout notifies the provider (best effort) and always clears the local session.
func (s *AuthService) Logout(ctx context.Context) {
	start := time.Now()
	if s.Token() != "" {
		if err := s.provider.Logout(ctx); err != nil {
			s.logger.WarnContext(ctx, "logout notification failed", "error", err)
		}
	}
	s.ClearAuth(ctx)
	s.emit("logout", metrics.ResultSuccess, start, nil)
}

// InitializeAuth upgrades a restored token into a full session by fetching the identity.
// Failures clear the session (via FetchUser) and are logged, never returned.
func (s *AuthService) InitializeAuth(ctx context.Context) {
	if s.Token() == "" {
		return
	}
	done := s.beginLoading()
	defer done()

	if err := s.FetchUser(ctx); err != nil {
		s.logger.WarnContext(ctx, "initialize session failed", "error", err)
	}
}

// ClearAuth drops the token and identity and removes the persisted record. It is idempotent.
func (s *AuthService) ClearAuth(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.clearLocked(ctx)
}

// HandleUnauthorized reacts to a rejected credential. sentToken is the session token the
// rejected request carried ("" when it carried none). The session is cleared and expiry
// listeners are notified once, but only while the session still holds sentToken: a late 401
// for a token that was since replaced by a new login, or for a signed-out request that
// finished after one, leaves the current session alone.
func (s *AuthService) HandleUnauthorized(ctx context.Context, sentToken string) {
	if !s.clearIfToken(ctx, sentToken) {
		s.logger.DebugContext(ctx, "ignoring 401 for a token the session no longer holds")
		return
	}
	s.logger.InfoContext(ctx, "session expired")
	metrics.EmitSessionExpired(s.metrics)
	s.expiry.Publish(ctx, notify.SessionExpired{})
}

// HasRole reports whether the current user holds role, ignoring case. False without a user.
func (s *AuthService) HasRole(role domainauth.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.Roles.Has(role)
}

// IsAdmin reports whether the current user holds the Admin role.
func (s *AuthService) IsAdmin() bool { return s.HasRole(domainauth.RoleAdmin) }

// IsDoctor reports whether the current user holds the Doctor role.
func (s *AuthService) IsDoctor() bool { return s.HasRole(domainauth.RoleDoctor) }

// IsPatient reports whether the current user holds the Patient role.
func (s *AuthService) IsPatient() bool { return s.HasRole(domainauth.RolePatient) }

// Token returns the token currently held, or "".
func (s *AuthService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the resolved identity, or nil.
func (s *AuthService) User() *domainauth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := s.user.Clone()
	return &u
}

// IsAuthenticated is true only when both a token and an identity are held.
func (s *AuthService) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// IsLoading reports whether a login, registration, or initialization is in progress.
func (s *AuthService) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// Snapshot returns a consistent copy of the session state.
func (s *AuthService) Snapshot() domainauth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := domainauth.Session{Token: s.token, IsLoading: s.pending > 0}
	if s.user != nil {
		u := s.user.Clone()
		sess.User = &u
	}
	return sess
}

func (s *AuthService) establish(ctx context.Context, res domainauth.AuthResult) error {
	token := strings.TrimSpace(res.Token)
	if token == "" {
		return apperrors.Internal("identity provider returned an empty token")
	}
	user := res.User.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.tokens.Set(ctx, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	s.generation++
	s.mu.Unlock()
	return nil
}

// clearLocked requires writeMu. The record is removed even if ctx is already canceled.
func (s *AuthService) clearLocked(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.generation++
	s.mu.Unlock()

	if err := s.tokens.Remove(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ports.ErrTokenNotFound) {
		s.logger.ErrorContext(ctx, "remove persisted token failed", "error", err)
	}
}

func (s *AuthService) clearIfCurrent(ctx context.Context, gen uint64) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.generation == gen
	s.mu.RUnlock()
	if !current {
		return false
	}
	s.clearLocked(ctx)
	return true
}

func (s *AuthService) clearIfToken(ctx context.Context, token string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.token == token
	s.mu.RUnlock()
	if !current {
		return false
	}
	s.clearLocked(ctx)
	return true
}

func (s *AuthService) fail(ctx context.Context, action string, start time.Time, err error) error {
	s.ClearAuth(ctx)
	s.logger.WarnContext(ctx, action+" failed", "error", err)
	s.emit(action, metrics.ResultError, start, err)
	return err
}

func (s *AuthService) beginLoading() func() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}
}

func (s *AuthService) emit(action, result string, start time.Time, err error) {
	metrics.EmitAuthAction(s.metrics, metrics.AuthMetric{
		Action:   action,
		Result:   result,
		Duration: time.Since(start),
		Err:      err,
	})
}

func validateRegistration(reg domainauth.Registration) error {
	email := strings.TrimSpace(reg.Email)
	if email == "" {
		return apperrors.ValidationField("email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.ValidationField("email", "email is not a valid address")
	}
	if reg.Password == "" {
		return apperrors.ValidationField("password", "password is required")
	}
	if strings.TrimSpace(reg.FullName) == "" {
		return apperrors.ValidationField("fullName", "full name is required")
	}
	return nil
}
