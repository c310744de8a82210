// Package identityapi implements ports.IdentityProvider against the clinic REST backend.
package identityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	httpx "github.com/target/clinic-session/internal/http"
	"github.com/target/clinic-session/internal/ports"
)

// Endpoint paths relative to the API base URL.
const (
	AuthenticatePath = "/api/v1/auth/authenticate"
	RegisterPath     = "/api/v1/auth/register"
	ProfilePath      = "/api/v1/profile"
	LogoutPath       = "/api/v1/auth/logout"
)

const maxResponseBody = 1 << 20

// ClientOptions configures a Client.
// HTTPClient should already carry the auth transport; Profile relies on it to attach the bearer token.
// When HTTPClient has no cookie jar, one scoped by the public suffix list is installed.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client calls the identity endpoints of the REST backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

var _ ports.IdentityProvider = (*Client)(nil)

// NewClient validates the base URL and prepares the HTTP client.
func NewClient(opts ClientOptions) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", base.Scheme)
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		hc = &cp
	}
	if opts.Timeout > 0 {
		hc.Timeout = opts.Timeout
	}
	if hc.Jar == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, fmt.Errorf("create cookie jar: %w", jarErr)
		}
		hc.Jar = jar
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, http: hc, logger: logger.With("component", "identityapi")}, nil
}

// Authenticate exchanges credentials for {token, user}.
func (c *Client) Authenticate(ctx context.Context, creds domainauth.Credentials) (domainauth.AuthResult, error) {
	var res domainauth.AuthResult
	if err := c.do(ctx, http.MethodPost, AuthenticatePath, creds, &res); err != nil {
		return domainauth.AuthResult{}, err
	}
	return c.complete(ctx, res)
}

// Register creates an account and returns {token, user} for it.
func (c *Client) Register(ctx context.Context, reg domainauth.Registration) (domainauth.AuthResult, error) {
	var res domainauth.AuthResult
	if err := c.do(ctx, http.MethodPost, RegisterPath, reg, &res); err != nil {
		return domainauth.AuthResult{}, err
	}
	return c.complete(ctx, res)
}

// Profile returns the identity for the bearer token attached by the transport.
func (c *Client) Profile(ctx context.Context) (domainauth.Identity, error) {
	var id domainauth.Identity
	if err := c.do(ctx, http.MethodGet, ProfilePath, nil, &id); err != nil {
		return domainauth.Identity{}, err
	}
	return id, nil
}

// Logout tells the backend the current token is no longer in use.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, LogoutPath, nil, nil)
}

// complete validates an auth response. Some backends answer authenticate with only a token;
// the identity is then fetched with that token.
func (c *Client) complete(ctx context.Context, res domainauth.AuthResult) (domainauth.AuthResult, error) {
	if strings.TrimSpace(res.Token) == "" {
		return domainauth.AuthResult{}, apperrors.Internal("auth response has no token")
	}
	if res.User.ID != "" || res.User.Email != "" {
		return res, nil
	}

	c.logger.DebugContext(ctx, "auth response without user; fetching profile")
	var id domainauth.Identity
	if err := c.doWithToken(ctx, res.Token, http.MethodGet, ProfilePath, &id); err != nil {
		return domainauth.AuthResult{}, fmt.Errorf("resolve identity: %w", err)
	}
	res.User = id
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

// doWithToken sets an explicit bearer token; the transport leaves an existing header alone.
func (c *Client) doWithToken(ctx context.Context, token, method, path string, out any) error {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(req, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
	}()

	if err := httpx.CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "decode %s %s response", req.Method, req.URL.Path)
	}
	return nil
}

func classifyTransportError(req *http.Request, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "request timed out")
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "request timed out")
	}
	return apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "%s %s", req.Method, req.URL.Path)
}
