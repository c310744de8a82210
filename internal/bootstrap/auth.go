package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/target/clinic-session/config"
	"github.com/target/clinic-session/internal/adapters/authroles"
	"github.com/target/clinic-session/internal/adapters/devauth"
	"github.com/target/clinic-session/internal/adapters/identityapi"
	"github.com/target/clinic-session/internal/adapters/oidc"
	domainauth "github.com/target/clinic-session/internal/domain/auth"
	httpx "github.com/target/clinic-session/internal/http"
	"github.com/target/clinic-session/internal/observability/notify"
	"github.com/target/clinic-session/internal/observability/statsd"
	"github.com/target/clinic-session/internal/ports"
	"github.com/target/clinic-session/internal/service"
)

// mockBaseURL addresses the in-process dev backend; no socket is opened.
const mockBaseURL = "http://devauth.local"

// SessionConfig contains configuration for BuildSession.
// Base overrides the network transport (tests, AUTH_MODE=mock uses the in-process backend).
type SessionConfig struct {
	App     config.AppConfig
	Tokens  ports.TokenStore
	Base    http.RoundTripper
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Session bundles the wired session components.
type Session struct {
	Auth   *service.AuthService
	Guard  *service.NavigationGuard
	Client *http.Client
	Expiry *notify.ExpiryBroadcaster
}

// BuildSession wires token store, identity provider, session, guard, and authenticated client.
// The client's transport reads the session token on every request and routes 401s back into
// the session.
func BuildSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var auth *service.AuthService
	tokens := ports.TokenSourceFunc(func() string {
		if auth == nil {
			return ""
		}
		return auth.Token()
	})
	onUnauthorized := httpx.UnauthorizedFunc(func(ctx context.Context, sentToken string) {
		if auth != nil {
			auth.HandleUnauthorized(ctx, sentToken)
		}
	})

	base := cfg.Base
	if base == nil && cfg.App.Auth.Mode == config.AuthModeMock {
		dev, err := BuildDevServer(ctx, cfg.App.Auth.DevAuth, logger)
		if err != nil {
			return nil, err
		}
		base = devauth.Transport{Handler: dev.Handler()}
	}

	transport, err := httpx.NewAuthTransport(httpx.AuthTransportOptions{
		Base:           base,
		Tokens:         tokens,
		OnUnauthorized: onUnauthorized,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("auth transport: %w", err)
	}
	client := transport.NewClient(&http.Client{Timeout: cfg.App.API.Timeout})

	provider, err := buildProvider(ctx, cfg.App, client, tokens, logger)
	if err != nil {
		return nil, err
	}

	expiry := notify.NewExpiryBroadcaster(logger)
	auth, err = service.NewAuthService(ctx, service.AuthServiceOptions{
		Provider: provider,
		Tokens:   cfg.Tokens,
		Expiry:   expiry,
		Logger:   logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	guard, err := service.NewNavigationGuard(service.NavigationGuardOptions{
		Session: auth,
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("navigation guard: %w", err)
	}

	logger.DebugContext(ctx, "session ready", "auth_mode", cfg.App.Auth.Mode, "restored", auth.Token() != "")
	return &Session{Auth: auth, Guard: guard, Client: client, Expiry: expiry}, nil
}

//nolint:ireturn // the provider is chosen at runtime from AUTH_MODE.
func buildProvider(
	ctx context.Context,
	app config.AppConfig,
	client *http.Client,
	tokens ports.TokenSource,
	logger *slog.Logger,
) (ports.IdentityProvider, error) {
	switch app.Auth.Mode {
	case config.AuthModeOIDC:
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     app.Auth.OAuth.ClientID,
			ClientSecret: app.Auth.OAuth.ClientSecret,
			Scope:        app.Auth.OAuth.Scope,
			DiscoveryURL: app.Auth.OAuth.DiscoveryURL,
			RevokeURL:    app.Auth.OAuth.RevokeURL,
			RolesClaim:   app.Auth.OAuth.RolesClaim,
			Roles:        RoleMapper(app.Auth),
			Tokens:       tokens,
			HTTPClient:   client,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		return prov, nil

	case config.AuthModeMock:
		return newAPIClient(mockBaseURL, client, logger)

	case config.AuthModeAPI, "":
		return newAPIClient(app.API.BaseURL, client, logger)

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", app.Auth.Mode)
	}
}

func newAPIClient(baseURL string, client *http.Client, logger *slog.Logger) (*identityapi.Client, error) {
	c, err := identityapi.NewClient(identityapi.ClientOptions{
		BaseURL:    baseURL,
		HTTPClient: client,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("identity api client: %w", err)
	}
	return c, nil
}

// RoleMapper returns the group mapper when any group is configured, otherwise claim values
// are read as role names.
//
//nolint:ireturn // two mapping strategies share the port.
func RoleMapper(cfg config.AuthConfig) ports.RoleMapper {
	if cfg.HasGroupMapping() {
		return authroles.StaticRoleMapper{
			AdminGroup:   cfg.AdminGroup,
			DoctorGroup:  cfg.DoctorGroup,
			PatientGroup: cfg.PatientGroup,
		}
	}
	return authroles.RoleNameMapper{}
}

// BuildDevServer creates the development identity backend, seeding the default admin unless
// disabled.
func BuildDevServer(ctx context.Context, cfg config.DevAuthConfig, logger *slog.Logger) (*devauth.Server, error) {
	var seed []devauth.SeedUser
	if cfg.SeedAdmin {
		admin := devauth.DefaultAdmin()
		if cfg.AdminEmail != "" {
			admin.Email = cfg.AdminEmail
		}
		if cfg.AdminPassword != "" {
			admin.Password = cfg.AdminPassword
		}
		admin.Roles = domainauth.Roles{domainauth.RoleAdmin}
		seed = append(seed, admin)
	}
	srv, err := devauth.NewServer(ctx, devauth.Config{
		Secret:   cfg.Secret,
		TokenTTL: cfg.TokenTTL,
		Seed:     seed,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dev backend: %w", err)
	}
	return srv, nil
}
