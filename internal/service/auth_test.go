package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	"github.com/target/clinic-session/internal/mocks"
	mocksauth "github.com/target/clinic-session/internal/mocks/auth"
	"github.com/target/clinic-session/internal/observability/notify"
	"github.com/target/clinic-session/internal/ports"
)

func adminUser() domainauth.Identity {
	return domainauth.Identity{
		ID:       "admin-1",
		FullName: "Ada Admin",
		Email:    "admin@clinic.test",
		Roles:    domainauth.Roles{domainauth.RoleAdmin},
	}
}

func newTestAuthService(t *testing.T, provider ports.IdentityProvider, store ports.TokenStore) *AuthService {
	t.Helper()
	svc, err := NewAuthService(context.Background(), AuthServiceOptions{Provider: provider, Tokens: store})
	require.NoError(t, err)
	return svc
}

func assertSignedOut(t *testing.T, svc *AuthService, store *mocksauth.MemoryTokenStore) {
	t.Helper()
	assert.Empty(t, svc.Token())
	assert.Nil(t, svc.User())
	assert.False(t, svc.IsAuthenticated())
	_, present := store.Stored()
	assert.False(t, present, "persisted token record should be removed")
}

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	_, err := NewAuthService(context.Background(), AuthServiceOptions{Tokens: mocksauth.NewMemoryTokenStore("")})
	require.Error(t, err)

	_, err = NewAuthService(context.Background(), AuthServiceOptions{Provider: mocksauth.NewFakeIdentityProvider()})
	require.Error(t, err)
}

func TestNewAuthService_RestoresPersistedToken(t *testing.T) {
	store := mocksauth.NewMemoryTokenStore("restored-token")

	svc := newTestAuthService(t, mocksauth.NewFakeIdentityProvider(), store)

	assert.Equal(t, "restored-token", svc.Token())
	assert.Nil(t, svc.User())
	assert.False(t, svc.IsAuthenticated(), "token without user is not authenticated")
	assert.True(t, svc.Snapshot().HasToken())
}

func TestNewAuthService_StoreReadFailureStartsSignedOut(t *testing.T) {
	store := mocksauth.NewMemoryTokenStore("ignored")
	store.GetErr = errors.New("redis down")

	svc := newTestAuthService(t, mocksauth.NewFakeIdentityProvider(), store)

	assert.Empty(t, svc.Token())
}

func TestAuthService_Login_Success(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = adminUser()
	store := mocksauth.NewMemoryTokenStore("")
	svc := newTestAuthService(t, provider, store)

	res, err := svc.Login(context.Background(), " admin@clinic.test ", "secret")

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "token-1", res.Token)
	assert.Equal(t, "token-1", svc.Token())
	assert.True(t, svc.IsAuthenticated())
	assert.True(t, svc.IsAdmin())
	assert.False(t, svc.IsLoading())

	persisted, present := store.Stored()
	assert.True(t, present)
	assert.Equal(t, "token-1", persisted)
}

func TestAuthService_Login_FailureClearsEverything(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	store := mocksauth.NewMemoryTokenStore("stale-token")
	svc := newTestAuthService(t, provider, store)

	provider.AuthenticateFunc = func(context.Context, domainauth.Credentials) (domainauth.AuthResult, error) {
		return domainauth.AuthResult{}, apperrors.Unauthorized("bad credentials")
	}

	res, err := svc.Login(context.Background(), "who@clinic.test", "wrong")

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsUnauthorized(err))
	assertSignedOut(t, svc, store)
}

func TestAuthService_Login_PersistFailureClearsSession(t *testing.T) {
	store := mocksauth.NewMemoryTokenStore("")
	store.SetErr = errors.New("disk full")
	svc := newTestAuthService(t, mocksauth.NewFakeIdentityProvider(), store)

	_, err := svc.Login(context.Background(), "p@clinic.test", "pw")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist token")
	assertSignedOut(t, svc, store)
}

func TestAuthService_Login_EmptyTokenIsFailure(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.AuthenticateFunc = func(context.Context, domainauth.Credentials) (domainauth.AuthResult, error) {
		return domainauth.AuthResult{User: adminUser()}, nil
	}
	store := mocksauth.NewMemoryTokenStore("")
	svc := newTestAuthService(t, provider, store)

	_, err := svc.Login(context.Background(), "a@clinic.test", "pw")

	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assertSignedOut(t, svc, store)
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name      string
		reg       domainauth.Registration
		wantField string
	}{
		{name: "missing email", reg: domainauth.Registration{Password: "pw", FullName: "N"}, wantField: "email"},
		{name: "bad email", reg: domainauth.Registration{Email: "nope", Password: "pw", FullName: "N"}, wantField: "email"},
		{name: "missing password", reg: domainauth.Registration{Email: "n@clinic.test", FullName: "N"}, wantField: "password"},
		{name: "missing name", reg: domainauth.Registration{Email: "n@clinic.test", Password: "pw", FullName: "  "}, wantField: "fullName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocksauth.NewFakeIdentityProvider()
			store := mocksauth.NewMemoryTokenStore("old")
			svc := newTestAuthService(t, provider, store)

			_, err := svc.Register(context.Background(), tt.reg)

			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.wantField, apperrors.GetField(err))
			assert.Zero(t, provider.Calls("register"), "validation must run before any network call")
			assertSignedOut(t, svc, store)
		})
	}

	t.Run("success", func(t *testing.T) {
		store := mocksauth.NewMemoryTokenStore("")
		svc := newTestAuthService(t, mocksauth.NewFakeIdentityProvider(), store)

		res, err := svc.Register(context.Background(), domainauth.Registration{
			Email:    "new@clinic.test",
			Password: "pw",
			FullName: "New Patient",
		})

		require.NoError(t, err)
		assert.Equal(t, "New Patient", res.User.FullName)
		assert.True(t, svc.IsAuthenticated())
		assert.True(t, svc.IsPatient())
		persisted, _ := store.Stored()
		assert.Equal(t, res.Token, persisted)
	})

	t.Run("provider failure", func(t *testing.T) {
		provider := mocksauth.NewFakeIdentityProvider()
		provider.RegisterFunc = func(context.Context, domainauth.Registration) (domainauth.AuthResult, error) {
			return domainauth.AuthResult{}, apperrors.Conflict("email address is already taken")
		}
		store := mocksauth.NewMemoryTokenStore("")
		svc := newTestAuthService(t, provider, store)

		_, err := svc.Register(context.Background(), domainauth.Registration{
			Email: "dup@clinic.test", Password: "pw", FullName: "Dup",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assertSignedOut(t, svc, store)
	})
}

func TestAuthService_FetchUser_NoTokenIsNoop(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore(""))

	require.NoError(t, svc.FetchUser(context.Background()))
	assert.Zero(t, provider.Calls("profile"))
}

func TestAuthService_FetchUser_ReplacesUserWholesale(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = domainauth.Identity{
		ID:    "u1",
		Email: "multi@clinic.test",
		Roles: domainauth.Roles{domainauth.RoleDoctor, domainauth.RolePatient},
	}
	store := mocksauth.NewMemoryTokenStore("tok")
	svc := newTestAuthService(t, provider, store)

	require.NoError(t, svc.FetchUser(context.Background()))
	assert.True(t, svc.IsDoctor())
	assert.True(t, svc.IsPatient())

	provider.DefaultUser = domainauth.Identity{ID: "u1", Email: "multi@clinic.test"}
	require.NoError(t, svc.FetchUser(context.Background()))
	assert.False(t, svc.IsDoctor(), "roles are replaced, not merged")
	assert.Empty(t, svc.User().Roles)
}

func TestAuthService_FetchUser_FailureClearsEverything(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
		return domainauth.Identity{}, apperrors.Unauthorized("token expired")
	}
	store := mocksauth.NewMemoryTokenStore("expired-token")
	svc := newTestAuthService(t, provider, store)

	err := svc.FetchUser(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
	assertSignedOut(t, svc, store)
}

func TestAuthService_FetchUser_DiscardedAfterConcurrentLogout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := mocksauth.NewFakeIdentityProvider()
	provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
		close(entered)
		<-release
		return adminUser(), nil
	}
	store := mocksauth.NewMemoryTokenStore("tok")
	svc := newTestAuthService(t, provider, store)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.FetchUser(context.Background()) }()

	<-entered
	svc.Logout(context.Background())
	close(release)

	require.NoError(t, <-errCh)
	assertSignedOut(t, svc, store)
}

func TestAuthService_FetchUser_StaleFailureDoesNotClearNewSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = adminUser()
	provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
		close(entered)
		<-release
		return domainauth.Identity{}, apperrors.Unauthorized("old token rejected")
	}
	store := mocksauth.NewMemoryTokenStore("old-token")
	svc := newTestAuthService(t, provider, store)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.FetchUser(context.Background()) }()

	<-entered
	_, err := svc.Login(context.Background(), "admin@clinic.test", "pw")
	require.NoError(t, err)
	close(release)

	require.Error(t, <-errCh)
	assert.True(t, svc.IsAuthenticated(), "a fresh login survives a stale fetch failure")
	persisted, present := store.Stored()
	assert.True(t, present)
	assert.Equal(t, svc.Token(), persisted)
}

func TestAuthService_FetchUser_OverlappingCallsShareOneRequest(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := mocksauth.NewFakeIdentityProvider()
	provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return adminUser(), nil
	}
	svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore("tok"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.FetchUser(context.Background()))
	}()
	<-entered

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.FetchUser(context.Background()))
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, svc.IsAdmin())
}

func TestAuthService_FetchUser_CanceledCallerDoesNotCancelSharedFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var sharedCtxErr error
	provider := mocksauth.NewFakeIdentityProvider()
	provider.ProfileFunc = func(ctx context.Context) (domainauth.Identity, error) {
		close(entered)
		<-release
		sharedCtxErr = ctx.Err()
		return adminUser(), nil
	}
	store := mocksauth.NewMemoryTokenStore("tok")
	svc := newTestAuthService(t, provider, store)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- svc.FetchUser(firstCtx) }()
	<-entered

	secondErr := make(chan error, 1)
	go func() { secondErr <- svc.FetchUser(context.Background()) }()

	cancelFirst()
	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "tok", svc.Token(), "a caller giving up does not sign the session out")

	close(release)
	require.NoError(t, <-secondErr)
	require.NoError(t, sharedCtxErr)
	assert.True(t, svc.IsAdmin())
	persisted, present := store.Stored()
	assert.True(t, present)
	assert.Equal(t, "tok", persisted)
}

func TestAuthService_Logout_AlwaysClears(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.LogoutFunc = func(context.Context) error { return errors.New("network unreachable") }
	store := mocksauth.NewMemoryTokenStore("")
	svc := newTestAuthService(t, provider, store)

	_, err := svc.Login(context.Background(), "a@clinic.test", "pw")
	require.NoError(t, err)

	svc.Logout(context.Background())

	assert.Equal(t, 1, provider.Calls("logout"))
	assertSignedOut(t, svc, store)
}

func TestAuthService_Logout_NotifiesBeforeClearing(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockIdentityProvider(ctrl)
	store := mocks.NewMockTokenStore(ctrl)

	store.EXPECT().Get(gomock.Any()).Return("tok", nil)
	gomock.InOrder(
		provider.EXPECT().Logout(gomock.Any()).Return(errors.New("boom")),
		store.EXPECT().Remove(gomock.Any()).Return(nil),
	)

	svc := newTestAuthService(t, provider, store)
	svc.Logout(context.Background())

	assert.Empty(t, svc.Token())
}

func TestAuthService_ClearAuth_Idempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockIdentityProvider(ctrl)
	store := mocks.NewMockTokenStore(ctrl)

	store.EXPECT().Get(gomock.Any()).Return("", ports.ErrTokenNotFound)
	store.EXPECT().Remove(gomock.Any()).Return(nil).Times(2)

	svc := newTestAuthService(t, provider, store)
	svc.ClearAuth(context.Background())
	svc.ClearAuth(context.Background())

	assert.False(t, svc.IsAuthenticated())
}

func TestAuthService_ClearAuth_RemovesRecordEvenWhenContextCanceled(t *testing.T) {
	store := mocksauth.NewMemoryTokenStore("tok")
	svc := newTestAuthService(t, mocksauth.NewFakeIdentityProvider(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.ClearAuth(ctx)

	assertSignedOut(t, svc, store)
}

func TestAuthService_InitializeAuth(t *testing.T) {
	t.Run("restores identity from persisted token", func(t *testing.T) {
		provider := mocksauth.NewFakeIdentityProvider()
		provider.DefaultUser = adminUser()
		svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore("tok"))

		svc.InitializeAuth(context.Background())

		assert.True(t, svc.IsAuthenticated())
		assert.False(t, svc.IsLoading())
	})

	t.Run("stale token is cleared and not returned", func(t *testing.T) {
		provider := mocksauth.NewFakeIdentityProvider()
		provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
			return domainauth.Identity{}, apperrors.Unauthorized("expired")
		}
		store := mocksauth.NewMemoryTokenStore("tok")
		svc := newTestAuthService(t, provider, store)

		svc.InitializeAuth(context.Background())

		assertSignedOut(t, svc, store)
		assert.False(t, svc.IsLoading())
	})

	t.Run("no token does nothing", func(t *testing.T) {
		provider := mocksauth.NewFakeIdentityProvider()
		svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore(""))

		svc.InitializeAuth(context.Background())

		assert.Zero(t, provider.Calls("profile"))
	})

	t.Run("loading flag is raised while fetching", func(t *testing.T) {
		var sawLoading atomic.Bool
		provider := mocksauth.NewFakeIdentityProvider()
		var svc *AuthService
		provider.ProfileFunc = func(context.Context) (domainauth.Identity, error) {
			sawLoading.Store(svc.IsLoading())
			return adminUser(), nil
		}
		svc = newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore("tok"))

		svc.InitializeAuth(context.Background())

		assert.True(t, sawLoading.Load())
		assert.False(t, svc.IsLoading())
	})
}

func TestAuthService_HasRole(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = adminUser()
	svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore(""))

	assert.False(t, svc.HasRole("admin"), "no user means no roles")

	_, err := svc.Login(context.Background(), "admin@clinic.test", "pw")
	require.NoError(t, err)

	assert.True(t, svc.HasRole("admin"))
	assert.True(t, svc.HasRole("ADMIN"))
	assert.False(t, svc.HasRole("doctor"))
}

func TestAuthService_HandleUnauthorized(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	store := mocksauth.NewMemoryTokenStore("")
	expiry := notify.NewExpiryBroadcaster(nil)

	svc, err := NewAuthService(context.Background(), AuthServiceOptions{
		Provider: provider,
		Tokens:   store,
		Expiry:   expiry,
	})
	require.NoError(t, err)

	var events atomic.Int32
	sub := expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) {
		events.Add(1)
	}))
	defer sub.Cancel()

	_, err = svc.Login(context.Background(), "p@clinic.test", "pw")
	require.NoError(t, err)

	svc.HandleUnauthorized(context.Background(), svc.Token())

	assertSignedOut(t, svc, store)
	assert.Equal(t, int32(1), events.Load())
}

func TestAuthService_HandleUnauthorized_IgnoresReplacedToken(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = adminUser()
	store := mocksauth.NewMemoryTokenStore("")
	expiry := notify.NewExpiryBroadcaster(nil)
	svc, err := NewAuthService(context.Background(), AuthServiceOptions{
		Provider: provider,
		Tokens:   store,
		Expiry:   expiry,
	})
	require.NoError(t, err)

	var events atomic.Int32
	sub := expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) {
		events.Add(1)
	}))
	defer sub.Cancel()

	_, err = svc.Login(context.Background(), "admin@clinic.test", "pw")
	require.NoError(t, err)
	current := svc.Token()

	svc.HandleUnauthorized(context.Background(), "an-older-token")
	svc.HandleUnauthorized(context.Background(), "")

	assert.True(t, svc.IsAuthenticated())
	assert.Equal(t, current, svc.Token())
	persisted, ok := store.Stored()
	assert.True(t, ok)
	assert.Equal(t, current, persisted)
	assert.Zero(t, events.Load())
}

func TestAuthService_HandleUnauthorized_SignedOutStillBroadcasts(t *testing.T) {
	expiry := notify.NewExpiryBroadcaster(nil)
	svc, err := NewAuthService(context.Background(), AuthServiceOptions{
		Provider: mocksauth.NewFakeIdentityProvider(),
		Tokens:   mocksauth.NewMemoryTokenStore(""),
		Expiry:   expiry,
	})
	require.NoError(t, err)

	var events atomic.Int32
	sub := expiry.Subscribe(notify.ExpiryListenerFunc(func(context.Context, notify.SessionExpired) {
		events.Add(1)
	}))
	defer sub.Cancel()

	svc.HandleUnauthorized(context.Background(), "")

	assert.Equal(t, int32(1), events.Load())
}

func TestAuthService_UserIsACopy(t *testing.T) {
	provider := mocksauth.NewFakeIdentityProvider()
	provider.DefaultUser = adminUser()
	svc := newTestAuthService(t, provider, mocksauth.NewMemoryTokenStore(""))
	_, err := svc.Login(context.Background(), "admin@clinic.test", "pw")
	require.NoError(t, err)

	u := svc.User()
	u.Roles[0] = domainauth.RolePatient

	assert.True(t, svc.IsAdmin())
}
