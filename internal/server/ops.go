// Package server serves the daemon's operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/conductor/agentrt/pkg/health"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
)

// OpsConfig holds configuration for the ops server.
type OpsConfig struct {
	// Port is the port to listen on. Zero picks a free port.
	Port int
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
}

// DefaultOpsConfig returns sensible defaults for the ops server.
func DefaultOpsConfig() OpsConfig {
	return OpsConfig{
		Port:         9464,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// OpsServer serves /metrics, /healthz and /readyz.
type OpsServer struct {
	config   OpsConfig
	metrics  *metrics.Metrics
	checker  *health.Checker
	server   *http.Server
	listener net.Listener
	logger   log.Logger
}

// NewOpsServer creates an ops server.
func NewOpsServer(cfg OpsConfig, m *metrics.Metrics, checker *health.Checker, logger log.Logger) *OpsServer {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &OpsServer{
		config:  cfg,
		metrics: m,
		checker: checker,
		logger:  logger.With("component", "ops_server"),
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the ops routes.
func (s *OpsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.checker != nil {
		mux.Handle("/readyz", s.checker.Handler())
	}
	return log.HTTPMiddleware(s.logger)(mux)
}

// Listen binds the configured port.
func (s *OpsServer) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on ops port %d: %w", s.config.Port, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *OpsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve serves until ctx is done or the server fails. It listens first if
// Listen was not called.
func (s *OpsServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info().Str("address", s.Addr()).Msg("starting ops server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server error: %w", err)
		}
		return nil
	}
}

// Stop gracefully shuts down the ops server.
func (s *OpsServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping ops server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("ops server shutdown error")
		return err
	}
	return nil
}
