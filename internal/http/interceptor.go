package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/clinic-session/internal/ports"
)

// UnauthorizedHandler reacts to a 401 response observed by AuthTransport. sentToken is the
// session token the transport attached to the rejected request, or "" when it attached none
// (signed out, or the caller set its own Authorization header).
type UnauthorizedHandler interface {
	HandleUnauthorized(ctx context.Context, sentToken string)
}

// UnauthorizedFunc adapts a function to the UnauthorizedHandler interface.
type UnauthorizedFunc func(ctx context.Context, sentToken string)

// HandleUnauthorized implements UnauthorizedHandler.
func (f UnauthorizedFunc) HandleUnauthorized(ctx context.Context, sentToken string) {
	if f != nil {
		f(ctx, sentToken)
	}
}

// AuthTransportOptions groups dependencies for AuthTransport. Base defaults to http.DefaultTransport.
type AuthTransportOptions struct {
	Base           http.RoundTripper
	Tokens         ports.TokenSource
	OnUnauthorized UnauthorizedHandler
	Logger         *slog.Logger
}

// AuthTransport attaches the session's bearer token to every outbound request and reports
// 401 responses. It never swallows a response or error: the caller always sees what the
// base transport returned.
type AuthTransport struct {
	base           http.RoundTripper
	tokens         ports.TokenSource
	onUnauthorized UnauthorizedHandler
	logger         *slog.Logger
}

var _ http.RoundTripper = (*AuthTransport)(nil)

// NewAuthTransport constructs an AuthTransport.
func NewAuthTransport(opts AuthTransportOptions) (*AuthTransport, error) {
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthTransport{
		base:           base,
		tokens:         opts.Tokens,
		onUnauthorized: opts.OnUnauthorized,
		logger:         logger.With("component", "auth_transport"),
	}, nil
}

// RoundTrip implements http.RoundTripper. The token is read at send time, so a rotated
// token is picked up by requests that have not been sent yet. An Authorization header set
// by the caller is left alone. A 401 is reported together with the token that was sent, so
// the session can ignore rejections of a token it no longer holds.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	var sent string
	if token := t.tokens.Token(); token != "" && out.Header.Get("Authorization") == "" {
		out.Header.Set("Authorization", "Bearer "+token)
		sent = token
	}
	if out.Header.Get("X-Requested-With") == "" {
		out.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		t.logger.InfoContext(req.Context(), "credential rejected",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
		)
		if t.onUnauthorized != nil {
			t.onUnauthorized.HandleUnauthorized(req.Context(), sent)
		}
	}
	return resp, nil
}

// NewClient returns an http.Client whose requests pass through t.
func (t *AuthTransport) NewClient(c *http.Client) *http.Client {
	out := &http.Client{}
	if c != nil {
		*out = *c
	}
	out.Transport = t
	return out
}
