package config

import (
	"fmt"
	"strings"
	"time"
)

// TokenStoreKind selects where the durable token record lives.
type TokenStoreKind string

const (
	TokenStoreFile     TokenStoreKind = "file"
	TokenStoreRedis    TokenStoreKind = "redis"
	TokenStorePostgres TokenStoreKind = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for TokenStoreKind.
func (k *TokenStoreKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "file", "redis", "postgres":
		*k = TokenStoreKind(v)
		return nil
	default:
		return fmt.Errorf("invalid TokenStore: %q (valid options: file, redis, postgres)", v)
	}
}

// StorageConfig controls the persisted token record.
type StorageConfig struct {
	Kind TokenStoreKind `env:"TOKEN_STORE" envDefault:"file"`

	// Key names the record: the file name, Redis key suffix, or Postgres row key.
	Key string `env:"TOKEN_KEY" envDefault:"auth_token"`

	// File overrides the token file path (default ~/.config/clinic-session/<key>).
	File string `env:"TOKEN_FILE"`

	// RedisPrefix is prepended to Key in Redis.
	RedisPrefix string `env:"TOKEN_REDIS_PREFIX" envDefault:"clinic-session:"`

	// RedisTTL expires the Redis record; zero keeps it until logout.
	RedisTTL time.Duration `env:"TOKEN_REDIS_TTL" envDefault:"0s"`

	// EncryptionKey seals the record at rest: 64 hex characters, or any passphrase.
	EncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
}

// Sanitize restores defaults for blank values.
func (s *StorageConfig) Sanitize() {
	if s.Key = strings.TrimSpace(s.Key); s.Key == "" {
		s.Key = "auth_token"
	}
	s.File = strings.TrimSpace(s.File)
	if s.RedisTTL < 0 {
		s.RedisTTL = 0
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"clinic"`
	Password string `env:"PASSWORD" envDefault:"clinic"`
	Name     string `env:"NAME"     envDefault:"clinic_session"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the session_tokens table is created at startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
