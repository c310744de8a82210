package devauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/target/clinic-session/internal/adapters/identityapi"
	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	httpx "github.com/target/clinic-session/internal/http"
)

const (
	defaultIssuer   = "clinic-session-dev"
	defaultTokenTTL = 8 * time.Hour
	minSecretLen    = 16
)

// Config controls the dev backend. Secret is required; everything else has a default.
// Seed users are created at start; BcryptCost defaults to bcrypt.DefaultCost.
type Config struct {
	Secret     string
	Issuer     string
	TokenTTL   time.Duration
	Seed       []SeedUser
	BcryptCost int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server is the development identity backend.
type Server struct {
	users  *directory
	tokens *issuer
	logger *slog.Logger
	router chi.Router
}

var _ httpx.TokenVerifier = (*Server)(nil)

// NewServer builds the backend and creates the seed users.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, errors.New("dev auth: secret must be at least 16 bytes")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	name := cfg.Issuer
	if name == "" {
		name = defaultIssuer
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		users:  newDirectory(cost, now),
		tokens: newIssuer([]byte(cfg.Secret), name, ttl, now),
		logger: logger.With("component", "devauth"),
	}
	for _, u := range cfg.Seed {
		id, err := s.users.create(ctx, seedID(u.Email), domainauth.Registration{
			Email:    u.Email,
			Password: u.Password,
			FullName: u.FullName,
		}, u.Roles)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.GetCode(err), "seed user %s", u.Email)
		}
		s.logger.InfoContext(ctx, "seeded user", "email", id.Email, "roles", id.Roles)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the REST contract.
func (s *Server) Handler() http.Handler { return s.router }

// Verify implements httpx.TokenVerifier.
func (s *Server) Verify(_ context.Context, token string) (domainauth.Identity, error) {
	c, err := s.tokens.parse(token)
	if err != nil {
		return domainauth.Identity{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid token")
	}
	id, ok := s.users.get(c.Subject)
	if !ok {
		return domainauth.Identity{}, apperrors.Unauthorized("token subject no longer exists")
	}
	return id, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httpx.Recover(s.logger))
	r.Use(httpx.Logging(s.logger))

	health := httpx.Health(map[string]httpx.HealthCheck{"tokens": s.tokens.selfCheck})
	r.Get("/healthz", health)
	r.Head("/healthz", health)

	r.Post(identityapi.AuthenticatePath, s.handleAuthenticate)
	r.Post(identityapi.RegisterPath, s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireBearer(s))
		r.Get(identityapi.ProfilePath, s.handleProfile)
		r.Post(identityapi.LogoutPath, s.handleLogout)

		r.With(httpx.RequireRole(domainauth.RoleAdmin)).Get("/api/v1/admin/users", s.handleListUsers)
	})
	return r
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var creds domainauth.Credentials
	if !httpx.DecodeJSON(w, r, &creds) {
		return
	}
	id, err := s.users.check(creds.Email, creds.Password)
	if err != nil {
		s.logger.InfoContext(r.Context(), "authentication rejected", "email", creds.Email)
		httpx.WriteAppError(w, err)
		return
	}
	s.writeAuthResult(w, r, http.StatusOK, id)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg domainauth.Registration
	if !httpx.DecodeJSON(w, r, &reg) {
		return
	}
	if strings.TrimSpace(reg.FullName) == "" {
		httpx.WriteAppError(w, apperrors.ValidationField("fullName", "full name is required"))
		return
	}
	id, err := s.users.create(r.Context(), "", reg, domainauth.Roles{domainauth.RolePatient})
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "registered patient", "user_id", id.ID)
	s.writeAuthResult(w, r, http.StatusCreated, id)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.GetIdentityFromContext(r.Context())
	if !ok {
		httpx.WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, id)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := httpx.BearerToken(r)
	if c, err := s.tokens.parse(token); err == nil {
		s.tokens.revoke(c)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.users.list())
}

func (s *Server) writeAuthResult(w http.ResponseWriter, r *http.Request, status int, id domainauth.Identity) {
	token, err := s.tokens.mint(id.ID, id.Email)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "mint token failed", "error", err)
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, status, domainauth.AuthResult{Token: token, User: id})
}
