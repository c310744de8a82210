package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the identity provider used by the session.
type AuthMode string

const (
	// AuthModeAPI talks to the clinic REST backend.
	AuthModeAPI AuthMode = "api"
	// AuthModeOIDC uses an OIDC issuer with the password grant.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock runs the development backend in process (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "api", "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: api, oidc, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"clinic-session"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	RevokeURL    string `env:"REVOKE_URL"`
	// RolesClaim is a JMESPath expression selecting group or role names from the claims.
	RolesClaim string `env:"ROLES_CLAIM"`
}

// DevAuthConfig controls the development backend.
// Used when AUTH_MODE=mock and by the dev-backend command.
type DevAuthConfig struct {
	Secret        string        `env:"SECRET"         envDefault:"clinic-session-dev-secret"`
	TokenTTL      time.Duration `env:"TOKEN_TTL"      envDefault:"8h"`
	SeedAdmin     bool          `env:"SEED_ADMIN"     envDefault:"true"`
	AdminEmail    string        `env:"ADMIN_EMAIL"    envDefault:"admin@clinic.local"`
	AdminPassword string        `env:"ADMIN_PASSWORD" envDefault:"admin123"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"api"`

	// OAuth configuration (used when Mode=oidc).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// Provider groups mapped to roles (used when Mode=oidc). Empty groups never match;
	// with all three empty, claim values are treated as role names.
	AdminGroup   string `env:"ADMIN_GROUP"`
	DoctorGroup  string `env:"DOCTOR_GROUP"`
	PatientGroup string `env:"PATIENT_GROUP"`
}

// Sanitize trims free-form values.
func (a *AuthConfig) Sanitize() {
	a.OAuth.DiscoveryURL = strings.TrimSpace(a.OAuth.DiscoveryURL)
	a.OAuth.RolesClaim = strings.TrimSpace(a.OAuth.RolesClaim)
	a.AdminGroup = strings.TrimSpace(a.AdminGroup)
	a.DoctorGroup = strings.TrimSpace(a.DoctorGroup)
	a.PatientGroup = strings.TrimSpace(a.PatientGroup)
	if a.DevAuth.TokenTTL <= 0 {
		a.DevAuth.TokenTTL = 8 * time.Hour
	}
}

// HasGroupMapping reports whether any provider group is mapped to a role.
func (a *AuthConfig) HasGroupMapping() bool {
	return a.AdminGroup != "" || a.DoctorGroup != "" || a.PatientGroup != ""
}

// Validate checks settings required by the selected mode.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeOIDC:
		if a.OAuth.DiscoveryURL == "" {
			return errors.New("OAUTH_DISCOVERY_URL is required when AUTH_MODE=oidc")
		}
	case AuthModeMock:
		if len(a.DevAuth.Secret) < 16 {
			return errors.New("DEV_AUTH_SECRET must be at least 16 characters")
		}
	}
	return nil
}
