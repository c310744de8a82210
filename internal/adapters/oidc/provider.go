package oidc

// Package oidc provides an OIDC/OAuth2 identity provider for the clinic session.
// Credentials are exchanged with the resource-owner password grant; identities come from the
// ID token when the openid scope is requested and from the UserInfo endpoint otherwise.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	apperrors "github.com/target/clinic-session/internal/errors"
	httpx "github.com/target/clinic-session/internal/http"
	"github.com/target/clinic-session/internal/ports"
)

// DefaultRolesClaim extracts role/group names from common claim shapes.
const DefaultRolesClaim = "roles[].name || roles || groups || memberof"

// Provider implements ports.IdentityProvider using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	revokeURL  string
	rolesClaim string
	roles      ports.RoleMapper
	tokens     ports.TokenSource

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

var _ ports.IdentityProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
//
// RolesClaim is a JMESPath expression evaluated against the ID token or UserInfo claims; it
// must produce a string or a list of strings, which Roles maps to application roles.
// Tokens supplies the session's access token to Profile and Logout.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	RevokeURL    string // optional; falls back to the discovered revocation_endpoint
	RolesClaim   string
	Roles        ports.RoleMapper
	Tokens       ports.TokenSource
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer             string `json:"issuer"`
	TokenEndpoint      string `json:"token_endpoint"`
	UserinfoEndpoint   string `json:"userinfo_endpoint"`
	JwksURI            string `json:"jwks_uri"`
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
}

// NewProvider discovers the issuer and prepares the OAuth2 configuration.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if config.Roles == nil {
		return nil, errors.New("role mapper is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	rolesClaim := strings.TrimSpace(config.RolesClaim)
	if rolesClaim == "" {
		rolesClaim = DefaultRolesClaim
	}
	if _, err := jmespath.Compile(rolesClaim); err != nil {
		return nil, fmt.Errorf("invalid roles claim expression %q: %w", rolesClaim, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{
		httpClient: httpClient,
		rolesClaim: rolesClaim,
		roles:      config.Roles,
		tokens:     config.Tokens,
	}

	// Single discovery fetch for provider, verifier, and endpoints.
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(p.clientContext(ctx), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if claimsErr := op.Claims(&extra); claimsErr != nil {
		return nil, fmt.Errorf("decode discovery document: %w", claimsErr)
	}
	p.revokeURL = firstNonEmpty(config.RevokeURL, extra.RevocationEndpoint)

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}
	return p, nil
}

// Authenticate performs the password grant and resolves the identity.
func (p *Provider) Authenticate(ctx context.Context, creds domainauth.Credentials) (domainauth.AuthResult, error) {
	if creds.Email == "" || creds.Password == "" {
		return domainauth.AuthResult{}, apperrors.Validation("email and password are required")
	}
	ctx = p.clientContext(ctx)

	tok, err := p.config.PasswordCredentialsToken(ctx, creds.Email, creds.Password)
	if err != nil {
		return domainauth.AuthResult{}, mapTokenError(err)
	}

	claims, err := p.extractFromIDToken(ctx, tok)
	if err != nil {
		return domainauth.AuthResult{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "id token rejected")
	}
	if claims == nil {
		claims, err = p.userInfoClaims(ctx, tok.AccessToken)
		if err != nil {
			return domainauth.AuthResult{}, fmt.Errorf("get user info: %w", err)
		}
	}

	id, err := p.identityFromClaims(claims)
	if err != nil {
		return domainauth.AuthResult{}, err
	}
	return domainauth.AuthResult{Token: tok.AccessToken, User: id}, nil
}

// Register is not offered by OIDC providers; accounts are provisioned by the issuer.
func (p *Provider) Register(_ context.Context, _ domainauth.Registration) (domainauth.AuthResult, error) {
	return domainauth.AuthResult{}, apperrors.Wrap(errors.ErrUnsupported, apperrors.ErrCodeValidation,
		"registration is managed by the identity provider")
}

// Profile fetches UserInfo for the session's access token.
func (p *Provider) Profile(ctx context.Context) (domainauth.Identity, error) {
	access := p.tokens.Token()
	if access == "" {
		return domainauth.Identity{}, apperrors.Unauthorized("no access token")
	}
	claims, err := p.userInfoClaims(p.clientContext(ctx), access)
	if err != nil {
		return domainauth.Identity{}, err
	}
	return p.identityFromClaims(claims)
}

// Logout revokes the access token when the issuer advertises a revocation endpoint.
func (p *Provider) Logout(ctx context.Context) error {
	access := p.tokens.Token()
	if p.revokeURL == "" || access == "" {
		return nil
	}
	form := url.Values{"token": {access}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	return httpx.CheckResponse(resp)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) userInfoClaims(ctx context.Context, accessToken string) (map[string]any, error) {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, mapUserInfoError(err)
	}
	var claims map[string]any
	if claimsErr := ui.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("decode user info: %w", claimsErr)
	}
	return claims, nil
}

// extractFromIDToken returns nil claims when the openid scope was not requested.
func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	if !p.hasOpenIDScope() {
		return nil, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return nil, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	return claims, nil
}

func (p *Provider) identityFromClaims(claims map[string]any) (domainauth.Identity, error) {
	groups, err := evalGroups(p.rolesClaim, claims)
	if err != nil {
		return domainauth.Identity{}, err
	}
	id := mapClaims(claims)
	id.Roles = p.roles.Map(groups)
	return id, nil
}

// evalGroups runs the roles expression and flattens the result to strings.
func evalGroups(expr string, claims map[string]any) ([]string, error) {
	out, err := jmespath.Search(expr, claims)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "evaluate roles claim %q", expr)
	}
	switch v := out.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		groups := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				groups = append(groups, s)
			}
		}
		return groups, nil
	default:
		return nil, apperrors.Internalf("roles claim %q produced %T, want string or list", expr, out)
	}
}

// mapClaims maps standard OIDC claims, falling back to AD/ADFS claim names.
func mapClaims(c map[string]any) domainauth.Identity {
	fullName := claimString(c, "name")
	if fullName == "" {
		fullName = strings.TrimSpace(firstNonEmpty(claimString(c, "given_name"), claimString(c, "firstname")) + " " +
			firstNonEmpty(claimString(c, "family_name"), claimString(c, "lastname")))
	}
	return domainauth.Identity{
		ID:          firstNonEmpty(claimString(c, "samaccountname"), claimString(c, "sub")),
		FullName:    fullName,
		Email:       firstNonEmpty(claimString(c, "email"), claimString(c, "mail")),
		PhoneNumber: claimString(c, "phone_number"),
		Gender:      claimString(c, "gender"),
		Address:     addressClaim(c),
		DateOfBirth: claimString(c, "birthdate"),
	}
}

func claimString(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

// addressClaim accepts both the structured OIDC address claim and a plain string.
func addressClaim(c map[string]any) string {
	switch v := c["address"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return claimString(v, "formatted")
	}
	return ""
}

// mapTokenError classifies token endpoint failures. invalid_grant means bad credentials.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || (re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized) {
			return apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid credentials")
		}
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "token endpoint unavailable")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "token request rejected")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "token request failed")
}

// mapUserInfoError treats a 401 from UserInfo as an expired credential.
func mapUserInfoError(err error) error {
	if strings.HasPrefix(err.Error(), "401") {
		return apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "access token rejected")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "fetch user info")
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
