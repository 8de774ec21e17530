// Package app wires the runtime's components together for the daemon and
// the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/client"

	"github.com/conductor/agentrt/internal/config"
	"github.com/conductor/agentrt/internal/environment"
	"github.com/conductor/agentrt/internal/execution"
	"github.com/conductor/agentrt/internal/registry"
	"github.com/conductor/agentrt/internal/resolver"
	"github.com/conductor/agentrt/internal/session"
	"github.com/conductor/agentrt/pkg/health"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
)

const healthCheckTimeout = 5 * time.Second

// App holds the wired components of one process.
type App struct {
	Config      *config.Config
	Logger      log.Logger
	Metrics     *metrics.Metrics
	DB          *Backend
	Store       *StateStore
	Registry    *registry.Registry
	Sessions    *session.Manager
	Resolver    *resolver.Resolver
	Coordinator *execution.Coordinator

	docker *client.Client
}

// New opens the database and state store and builds the session pipeline
// around rt. m may be nil, in which case a private registry is created.
func New(ctx context.Context, cfg *config.Config, logger log.Logger, m *metrics.Metrics, rt execution.Runtime) (*App, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	db, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := OpenStateStore(ctx, cfg, m.Store, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	reg := registry.New(m.Sessions, logger)
	manager := session.NewManager(db.Repos, store, reg, m.Sessions, logger)

	opts := []execution.CoordinatorOption{execution.WithMetrics(m.Sessions)}
	checker, docker, err := environment.NewDockerChecker(cfg.Execution.DockerHost)
	if err != nil {
		logger.Warn().Err(err).Msg("docker client unavailable, docker shell mode disabled")
	} else {
		opts = append(opts, execution.WithContainerChecker(checker))
	}

	coordinator := execution.NewCoordinator(execution.Config{
		DataRoot:        cfg.Execution.DataRoot,
		ProjectPrefix:   cfg.Execution.ProjectPrefix,
		DownloadTimeout: cfg.Execution.DownloadTimeout,
	}, rt, manager, reg, logger, opts...)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		DB:          db,
		Store:       store,
		Registry:    reg,
		Sessions:    manager,
		Resolver:    resolver.New(db.Repos.Presets, db.Repos.Workspaces, logger),
		Coordinator: coordinator,
		docker:      docker,
	}, nil
}

// HealthChecker reports on the database, the state store and the live
// session table.
func (a *App) HealthChecker() *health.Checker {
	return health.NewChecker(healthCheckTimeout,
		health.NewFuncCheck("database", a.DB.Health),
		health.NewFuncCheck("state_store", a.Store.Health),
		health.NewSessionsCheck(a.Registry),
	)
}

// Close releases the database and docker client.
func (a *App) Close() error {
	var errs []error
	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("docker client: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}
