package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/clinic-session/config"
	"github.com/target/clinic-session/internal/adapters/filestore"
	pgadapter "github.com/target/clinic-session/internal/adapters/postgres"
	redisadapter "github.com/target/clinic-session/internal/adapters/redis"
	"github.com/target/clinic-session/internal/adapters/sealed"
	"github.com/target/clinic-session/internal/ports"
)

// TokenStoreConfig contains configuration for the persisted token record.
type TokenStoreConfig struct {
	Storage  config.StorageConfig
	Postgres config.DBConfig
	Redis    config.RedisConfig
	Logger   *slog.Logger
}

// TokenStore is a token record plus the connections it owns.
type TokenStore struct {
	ports.TokenStore
	closers []func() error
}

// Close releases any database or Redis connection opened for the store.
func (s *TokenStore) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildTokenStore opens the backend selected by TOKEN_STORE, sealed with
// TOKEN_ENCRYPTION_KEY when one is set.
func BuildTokenStore(ctx context.Context, cfg TokenStoreConfig) (*TokenStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.EncryptionKey == "" {
		return store, nil
	}
	c, err := sealed.CipherFromPassphrase(cfg.Storage.EncryptionKey)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("token encryption: %w", err), store.Close())
	}
	store.TokenStore = sealed.NewTokenStore(store.TokenStore, c, logger)
	return store, nil
}

func openTokenStore(ctx context.Context, cfg TokenStoreConfig, logger *slog.Logger) (*TokenStore, error) {
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	switch cfg.Storage.Kind {
	case config.TokenStoreRedis:
		client, err := ConnectRedis(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		store := redisadapter.NewTokenStore(client, redisadapter.TokenStoreOptions{
			Prefix: cfg.Storage.RedisPrefix,
			Key:    cfg.Storage.Key,
			TTL:    cfg.Storage.RedisTTL,
		})
		return &TokenStore{TokenStore: store, closers: []func() error{client.Close}}, nil

	case config.TokenStorePostgres:
		db, err := ConnectDB(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if migErr := RunMigrations(ctx, db, logger); migErr != nil {
				return nil, errors.Join(migErr, db.Close())
			}
		}
		return &TokenStore{TokenStore: pgadapter.NewTokenStore(db, cfg.Storage.Key), closers: []func() error{db.Close}}, nil

	case config.TokenStoreFile, "":
		path := cfg.Storage.File
		if path == "" {
			path = filestore.DefaultPath(cfg.Storage.Key)
		}
		logger.Debug("using file token store", "path", path)
		return &TokenStore{TokenStore: filestore.NewTokenStore(path)}, nil

	default:
		return nil, fmt.Errorf("unsupported token store %q", cfg.Storage.Kind)
	}
}
