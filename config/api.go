package config

import (
	"strings"
	"time"
)

const minAPITimeout = time.Second

// APIConfig configures the HTTP client used for identity calls.
type APIConfig struct {
	// BaseURL is the backend root; endpoint paths such as /api/v1/profile are appended.
	BaseURL string `env:"API_BASE_URL" envDefault:"http://127.0.0.1:8081"`

	// Timeout bounds every identity request.
	Timeout time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
}

// Sanitize trims the base URL and enforces a minimum timeout.
func (a *APIConfig) Sanitize() {
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	if a.Timeout < minAPITimeout {
		a.Timeout = minAPITimeout
	}
}

// DevBackendConfig configures the development identity backend.
type DevBackendConfig struct {
	// Addr is the listen address for the dev-backend command.
	Addr string `env:"DEV_BACKEND_ADDR" envDefault:"127.0.0.1:8081"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"DEV_BACKEND_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}
