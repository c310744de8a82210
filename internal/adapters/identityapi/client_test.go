package identityapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	httpx "github.com/target/clinic-session/internal/http"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server, token string, onUnauthorized httpx.UnauthorizedHandler) *Client {
	t.Helper()
	tr, err := httpx.NewAuthTransport(httpx.AuthTransportOptions{
		Base:           srv.Client().Transport,
		Tokens:         staticToken(token),
		OnUnauthorized: onUnauthorized,
	})
	require.NoError(t, err)
	c, err := NewClient(ClientOptions{BaseURL: srv.URL + "/", HTTPClient: tr.NewClient(srv.Client())})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	require.Error(t, err)

	_, err = NewClient(ClientOptions{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	c, err := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:8081", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, c.http.Jar)
	assert.Equal(t, time.Second, c.http.Timeout)
}

func TestClient_Authenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AuthenticatePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var creds domainauth.Credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "admin@clinic.test", creds.Email)

		writeJSON(w, http.StatusOK, map[string]any{
			"token": "jwt-1",
			"user": map[string]any{
				"id":    "u1",
				"email": "admin@clinic.test",
				"roles": []map[string]string{{"name": "Admin"}},
			},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "", nil).Authenticate(context.Background(), domainauth.Credentials{
		Email:    "admin@clinic.test",
		Password: "pw",
	})

	require.NoError(t, err)
	assert.Equal(t, "jwt-1", res.Token)
	assert.Equal(t, "u1", res.User.ID)
	assert.True(t, res.User.Roles.Has(domainauth.RoleAdmin))
}

func TestClient_AuthenticateWithoutUserFetchesProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthenticatePath:
			writeJSON(w, http.StatusOK, map[string]string{"token": "fresh"})
		case ProfilePath:
			assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"id": "u2", "email": "d@clinic.test", "role": "DOCTOR"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "stale", nil).Authenticate(context.Background(), domainauth.Credentials{})

	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Token)
	assert.Equal(t, domainauth.Roles{domainauth.RoleDoctor}, res.User.Roles)
}

func TestClient_AuthenticateRejected(t *testing.T) {
	var notified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "", httpx.UnauthorizedFunc(func(context.Context, string) { notified.Add(1) }))
	_, err := c.Authenticate(context.Background(), domainauth.Credentials{Email: "x@clinic.test"})

	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "bad credentials")
	assert.Equal(t, int32(1), notified.Load())
}

func TestClient_EmptyTokenIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "", "user": map[string]string{"id": "u1"}})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "", nil).Authenticate(context.Background(), domainauth.Credentials{})

	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}

func TestClient_RegisterConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RegisterPath, r.URL.Path)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "message": "email already registered"})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "", nil).Register(context.Background(), domainauth.Registration{
		Email: "p@clinic.test", Password: "pw", FullName: "P",
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestClient_ProfileUsesSessionToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.Header.Get("Authorization") != "Bearer held" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "u3", "fullName": "Pat", "roles": []map[string]string{{"name": "Patient"}}})
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv, "held", nil).Profile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Pat", id.FullName)
	assert.True(t, id.Roles.Has(domainauth.RolePatient))
}

func TestClient_Logout(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, LogoutPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		called.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv, "held", nil).Logout(context.Background()))
	assert.True(t, called.Load())
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "held", nil).Profile(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestClient_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv, "", nil).Profile(ctx)

	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "held", nil).Profile(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}
