// Package main is the entry point for the agentrt daemon.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/conductor/agentrt/internal/app"
	"github.com/conductor/agentrt/internal/config"
	"github.com/conductor/agentrt/internal/execution/echo"
	"github.com/conductor/agentrt/internal/server"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
	"github.com/conductor/agentrt/pkg/tracing"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.New(log.Config{}).Error().Err(err).Msg("failed to load configuration")
		return err
	}

	logger := log.New(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).With("service", "agentrt")
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("go_version", runtime.Version()).
		Msg("starting agentrt")

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics()

	// Initialize tracing
	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "agentrt",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Environment:    cfg.Observability.Environment,
		Enabled:        cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint != "",
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize tracing, continuing without tracing")
		tracer = nil
	}

	a, err := app.New(ctx, cfg, logger, appMetrics, echo.New(echo.Options{}, logger))
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize runtime")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close runtime")
		}
	}()

	// A failed sweep leaves the orphans for the next start.
	if n, err := a.Sessions.RecoverOrphanedSessions(ctx); err != nil {
		logger.Warn().Err(err).Msg("orphan recovery failed")
	} else {
		logger.Info().Int64("recovered", n).Msg("orphan recovery complete")
	}

	opsCfg := server.DefaultOpsConfig()
	opsCfg.Port = cfg.Server.MetricsPort
	var ops *server.OpsServer
	if cfg.Server.MetricsPort > 0 {
		ops = server.NewOpsServer(opsCfg, appMetrics, a.HealthChecker(), logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	if ops != nil {
		g.Go(func() error {
			return ops.Serve(gctx)
		})
	}

	logger.Info().
		Str("database", a.DB.Driver).
		Str("state_store", a.Store.Backend).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("agentrt started")

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info().Msg("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	a.Drain(shutdownCtx)

	var shutdownErr error
	if ops != nil {
		if err := ops.Stop(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("ops server error")
		shutdownErr = errors.Join(shutdownErr, err)
	}

	// Flush pending spans
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	if shutdownErr != nil {
		logger.Error().Msg("shutdown completed with errors")
		return shutdownErr
	}
	logger.Info().Msg("shutdown completed successfully")
	return nil
}
