package app

import (
	"context"
	"fmt"

	"github.com/conductor/agentrt/internal/config"
	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/database/sqlite"
	"github.com/conductor/agentrt/internal/statestore"
	"github.com/conductor/agentrt/pkg/health"
	"github.com/conductor/agentrt/pkg/log"
)

// Backend is an open relational index.
type Backend struct {
	Repos  *database.Repositories
	Driver string

	health health.PingFunc
	close  func() error
}

// Health pings the database.
func (b *Backend) Health(ctx context.Context) error {
	return b.health(ctx)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.close()
}

// OpenDatabase opens the index selected by cfg.Database.URL. PostgreSQL
// schemas are migrated when AutoMigrate is set; SQLite creates its schema
// on open.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger log.Logger) (*Backend, error) {
	switch cfg.DatabaseDriver() {
	case config.DriverPostgres:
		db, err := database.New(ctx, database.Config{
			URL:             cfg.Database.URL,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if cfg.Database.AutoMigrate {
			migrator, err := database.NewMigrator(db)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to load migrations: %w", err)
			}
			n, err := migrator.Up(ctx)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("applied database migrations")
			}
		}

		logger.Info().Str("driver", config.DriverPostgres).Msg("connected to database")
		return &Backend{
			Repos:  database.NewRepositories(db),
			Driver: config.DriverPostgres,
			health: db.Health,
			close:  db.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", config.DriverSQLite).Str("path", db.Path()).Msg("opened database")
		return &Backend{
			Repos:  db.Repositories(),
			Driver: config.DriverSQLite,
			health: db.Health,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database url %q", cfg.Database.URL)
	}
}

// StateStore is an open state store with its health check.
type StateStore struct {
	statestore.Store
	Backend string

	health health.PingFunc
}

// Health verifies the store is reachable.
func (s *StateStore) Health(ctx context.Context) error {
	return s.health(ctx)
}

// OpenStateStore opens the store selected by cfg.Storage.Backend. The S3
// bucket is created when missing.
func OpenStateStore(ctx context.Context, cfg *config.Config, observer statestore.Observer, logger log.Logger) (*StateStore, error) {
	compression := statestore.Compression(cfg.Storage.Compression)

	switch cfg.Storage.Backend {
	case config.StorageLocal, "":
		store, err := statestore.NewLocalStore(statestore.LocalConfig{
			Root:        cfg.Storage.Path,
			Namespace:   cfg.Storage.Namespace,
			Compression: compression,
		}, observer, logger)
		if err != nil {
			return nil, err
		}
		return &StateStore{Store: store, Backend: config.StorageLocal, health: store.HealthCheck}, nil

	case config.StorageS3:
		store, err := statestore.NewS3Store(statestore.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UseSSL:          cfg.Storage.UseSSL,
			Namespace:       cfg.Storage.Namespace,
			Compression:     compression,
		}, observer, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return &StateStore{Store: store, Backend: config.StorageS3, health: store.HealthCheck}, nil

	default:
		return nil, fmt.Errorf("unsupported state store backend %q", cfg.Storage.Backend)
	}
}
