package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/clinic-session/config"
	"github.com/target/clinic-session/internal/adapters/authroles"
	"github.com/target/clinic-session/internal/adapters/devauth"
	"github.com/target/clinic-session/internal/adapters/identityapi"
	domainauth "github.com/target/clinic-session/internal/domain/auth"
	"github.com/target/clinic-session/internal/domain/route"
	mocksauth "github.com/target/clinic-session/internal/mocks/auth"
	"github.com/target/clinic-session/internal/observability/notify"
	"github.com/target/clinic-session/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockAppConfig() config.AppConfig {
	return config.AppConfig{
		Auth: config.AuthConfig{
			Mode: config.AuthModeMock,
			DevAuth: config.DevAuthConfig{
				Secret:        "0123456789abcdef-test",
				SeedAdmin:     true,
				AdminEmail:    "admin@clinic.local",
				AdminPassword: "admin123",
			},
		},
	}
}

// sharedBackend returns a transport for one dev backend so several sessions see the same users.
func sharedBackend(t *testing.T) http.RoundTripper {
	t.Helper()
	dev, err := BuildDevServer(context.Background(), mockAppConfig().Auth.DevAuth, testLogger())
	require.NoError(t, err)
	return devauth.Transport{Handler: dev.Handler()}
}

func buildMockSession(t *testing.T, store *mocksauth.MemoryTokenStore, base http.RoundTripper) *Session {
	t.Helper()
	sess, err := BuildSession(context.Background(), SessionConfig{
		App:    mockAppConfig(),
		Tokens: store,
		Base:   base,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	return sess
}

func TestBuildSession_RequiresTokenStore(t *testing.T) {
	_, err := BuildSession(context.Background(), SessionConfig{App: mockAppConfig()})
	require.Error(t, err)
}

func TestBuildSession_MockLoginAndGuard(t *testing.T) {
	ctx := context.Background()
	store := mocksauth.NewMemoryTokenStore("")
	sess := buildMockSession(t, store, nil)

	res, err := sess.Auth.Login(ctx, "admin@clinic.local", "admin123")
	require.NoError(t, err)
	assert.True(t, sess.Auth.IsAdmin())
	persisted, ok := store.Stored()
	require.True(t, ok)
	assert.Equal(t, res.Token, persisted)

	assert.True(t, sess.Guard.BeforeEach(ctx, route.AdminServices).Allowed())
	assert.Equal(t,
		service.Decision{Kind: service.RedirectRoleHome, Target: route.AdminDashboard},
		sess.Guard.Navigate(ctx, "/login"),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mockBaseURL+"/api/v1/admin/users", nil)
	require.NoError(t, err)
	resp, err := sess.Client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "client attaches the session token")

	sess.Auth.Logout(ctx)
	assert.False(t, sess.Auth.IsAuthenticated())
	_, ok = store.Stored()
	assert.False(t, ok)
	assert.Equal(t, service.RedirectLogin, sess.Guard.BeforeEach(ctx, route.AdminServices).Kind)
}

func TestBuildSession_WrongPasswordClearsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	sess := buildMockSession(t, mocksauth.NewMemoryTokenStore(""), nil)
	var expired atomic.Int32
	sess.Expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) { expired.Add(1) }))

	_, err := sess.Auth.Login(ctx, "admin@clinic.local", "wrong")

	require.Error(t, err)
	assert.False(t, sess.Auth.IsAuthenticated())
	assert.Equal(t, int32(1), expired.Load(), "a 401 from the backend is reported once")
}

func TestBuildSession_ReloadRestoresSession(t *testing.T) {
	ctx := context.Background()
	store := mocksauth.NewMemoryTokenStore("")
	backend := sharedBackend(t)

	first := buildMockSession(t, store, backend)
	_, err := first.Auth.Register(ctx, domainauth.Registration{
		Email:    "pat@clinic.test",
		Password: "pw",
		FullName: "Pat Patient",
	})
	require.NoError(t, err)

	reloaded := buildMockSession(t, store, backend)
	require.NotEmpty(t, reloaded.Auth.Token())
	require.False(t, reloaded.Auth.IsAuthenticated(), "token alone is not a session")

	d := reloaded.Guard.BeforeEach(ctx, route.AdminDashboard)

	assert.Equal(t, service.Decision{Kind: service.RedirectRoleHome, Target: route.PatientDashboard}, d)
	assert.True(t, reloaded.Auth.IsPatient())
}

func TestBuildSession_StaleTokenExpires(t *testing.T) {
	ctx := context.Background()
	store := mocksauth.NewMemoryTokenStore("not-a-valid-token")
	sess := buildMockSession(t, store, nil)
	var expired atomic.Int32
	sess.Expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) { expired.Add(1) }))

	sess.Auth.InitializeAuth(ctx)

	assert.Empty(t, sess.Auth.Token())
	_, ok := store.Stored()
	assert.False(t, ok)
	assert.Equal(t, int32(1), expired.Load())
}

// gatedTransport holds the profile request that carries gateAuth until release is closed.
type gatedTransport struct {
	next     http.RoundTripper
	gateAuth string
	entered  chan struct{}
	release  chan struct{}
}

func (g *gatedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.URL.Path == identityapi.ProfilePath && r.Header.Get("Authorization") == g.gateAuth {
		close(g.entered)
		<-g.release
	}
	return g.next.RoundTrip(r)
}

func TestBuildSession_LateUnauthorizedForOldTokenKeepsNewLogin(t *testing.T) {
	ctx := context.Background()
	store := mocksauth.NewMemoryTokenStore("old")
	gate := &gatedTransport{
		next:     sharedBackend(t),
		gateAuth: "Bearer old",
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	sess := buildMockSession(t, store, gate)
	var expired atomic.Int32
	sess.Expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) { expired.Add(1) }))

	fetchErr := make(chan error, 1)
	go func() { fetchErr <- sess.Auth.FetchUser(ctx) }()
	<-gate.entered

	res, err := sess.Auth.Login(ctx, "admin@clinic.local", "admin123")
	require.NoError(t, err)
	require.True(t, sess.Auth.IsAuthenticated())

	close(gate.release)
	require.Error(t, <-fetchErr, "the profile request for the old token is rejected")

	assert.True(t, sess.Auth.IsAuthenticated(), "the new login survives the late 401")
	assert.Equal(t, res.Token, sess.Auth.Token())
	persisted, ok := store.Stored()
	require.True(t, ok)
	assert.Equal(t, res.Token, persisted)
	assert.Zero(t, expired.Load(), "no expiry for a token the session already replaced")
}

func TestBuildSession_APIModeRejectsBadURL(t *testing.T) {
	app := config.AppConfig{Auth: config.AuthConfig{Mode: config.AuthModeAPI}, API: config.APIConfig{BaseURL: "::bad"}}

	_, err := BuildSession(context.Background(), SessionConfig{App: app, Tokens: mocksauth.NewMemoryTokenStore("")})

	require.Error(t, err)
}

func TestRoleMapper(t *testing.T) {
	withGroups := RoleMapper(config.AuthConfig{AdminGroup: "admins"})
	assert.IsType(t, authroles.StaticRoleMapper{}, withGroups)
	assert.Equal(t, domainauth.Roles{domainauth.RoleAdmin}, withGroups.Map([]string{"admins"}))

	byName := RoleMapper(config.AuthConfig{})
	assert.Equal(t, domainauth.Roles{domainauth.RoleDoctor}, byName.Map([]string{"DOCTOR"}))
}

func TestBuildTokenStore_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")

	store, err := BuildTokenStore(ctx, TokenStoreConfig{
		Storage: config.StorageConfig{Kind: config.TokenStoreFile, File: path},
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, store.Close()) }()

	require.NoError(t, store.Set(ctx, "jwt"))
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt", got)
}

func TestBuildTokenStore_FileSealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")

	store, err := BuildTokenStore(ctx, TokenStoreConfig{
		Storage: config.StorageConfig{Kind: config.TokenStoreFile, File: path, EncryptionKey: "correct horse battery staple"},
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, store.Close()) }()

	require.NoError(t, store.Set(ctx, "header.payload.signature"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "header.payload.signature")

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "header.payload.signature", got)
}

func TestBuildTokenStore_Unsupported(t *testing.T) {
	_, err := BuildTokenStore(context.Background(), TokenStoreConfig{Storage: config.StorageConfig{Kind: "tape"}})
	require.Error(t, err)
}
