// Package config provides configuration management for agentrt.
// Configuration is loaded from environment variables with the AGENTRT_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database drivers selected by the scheme of DatabaseConfig.URL.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// State store backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds all configuration settings for the runtime.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Execution     ExecutionConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds process lifecycle settings.
type ServerConfig struct {
	// MetricsPort serves /metrics and /healthz (default: 9464, 0 disables)
	MetricsPort int
	// ShutdownTimeout bounds the whole shutdown sequence (default: 90s)
	ShutdownTimeout time.Duration
	// DrainTimeout is how long shutdown waits for running sessions (default: 60s)
	DrainTimeout time.Duration
	// ForceInterruptWait is the re-wait after interrupting stragglers (default: 10s)
	ForceInterruptWait time.Duration
}

// DatabaseConfig holds relational index settings.
type DatabaseConfig struct {
	// URL is a postgres:// DSN or a sqlite:// / file: path
	URL string
	// MaxOpenConns is the maximum number of open connections (default: 10)
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections (default: 2)
	MaxIdleConns int
	// ConnMaxLifetime is the maximum connection lifetime (default: 30m)
	ConnMaxLifetime time.Duration
	// AutoMigrate applies pending migrations at startup (default: true)
	AutoMigrate bool
}

// StorageConfig holds state store settings.
type StorageConfig struct {
	// Backend is local or s3 (default: local)
	Backend string
	// Path is the root directory of the local backend
	Path string
	// Namespace prefixes every key, for tenant separation (optional)
	Namespace string
	// Compression is none or zstd (default: zstd)
	Compression string

	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// ExecutionConfig holds settings used while running sessions.
type ExecutionConfig struct {
	// DataRoot holds project directories (default: .agentrt/data)
	DataRoot string
	// ProjectPrefix is an optional subdirectory under DataRoot
	ProjectPrefix string
	// DefaultTransport is sse or stream (default: sse)
	DefaultTransport string
	// DownloadTimeout bounds URL downloads for file-mode input (default: 30s)
	DownloadTimeout time.Duration
	// DockerHost overrides DOCKER_HOST for container preflight checks
	DockerHost string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// ObservabilityConfig holds tracing settings.
type ObservabilityConfig struct {
	TracingEnabled    bool
	TracingEndpoint   string
	TracingInsecure   bool
	TracingSampleRate float64
	Environment       string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			MetricsPort:        getEnvInt("AGENTRT_METRICS_PORT", 9464),
			ShutdownTimeout:    getEnvDuration("AGENTRT_SHUTDOWN_TIMEOUT", 90*time.Second),
			DrainTimeout:       getEnvDuration("AGENTRT_DRAIN_TIMEOUT", 60*time.Second),
			ForceInterruptWait: getEnvDuration("AGENTRT_FORCE_INTERRUPT_WAIT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("AGENTRT_DATABASE_URL", "sqlite://.agentrt/agentrt.db"),
			MaxOpenConns:    getEnvInt("AGENTRT_DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("AGENTRT_DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("AGENTRT_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("AGENTRT_DATABASE_AUTO_MIGRATE", true),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(getEnv("AGENTRT_STATE_STORE", StorageLocal)),
			Path:            getEnv("AGENTRT_STATE_STORE_PATH", ".agentrt/state"),
			Namespace:       getEnv("AGENTRT_STATE_STORE_NAMESPACE", ""),
			Compression:     strings.ToLower(getEnv("AGENTRT_STATE_STORE_COMPRESSION", "zstd")),
			Endpoint:        getEnv("AGENTRT_S3_ENDPOINT", ""),
			Bucket:          getEnv("AGENTRT_S3_BUCKET", ""),
			Region:          getEnv("AGENTRT_S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AGENTRT_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AGENTRT_S3_SECRET_ACCESS_KEY", ""),
			UseSSL:          getEnvBool("AGENTRT_S3_USE_SSL", true),
		},
		Execution: ExecutionConfig{
			DataRoot:         getEnv("AGENTRT_DATA_ROOT", ".agentrt/data"),
			ProjectPrefix:    getEnv("AGENTRT_PROJECT_PREFIX", ""),
			DefaultTransport: strings.ToLower(getEnv("AGENTRT_DEFAULT_TRANSPORT", "sse")),
			DownloadTimeout:  getEnvDuration("AGENTRT_DOWNLOAD_TIMEOUT", 30*time.Second),
			DockerHost:       getEnv("AGENTRT_DOCKER_HOST", ""),
		},
		Log: LogConfig{
			Level:  getEnv("AGENTRT_LOG_LEVEL", "info"),
			Format: getEnv("AGENTRT_LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    getEnvBool("AGENTRT_TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("AGENTRT_TRACING_ENDPOINT", ""),
			TracingInsecure:   getEnvBool("AGENTRT_TRACING_INSECURE", true),
			TracingSampleRate: getEnvFloat("AGENTRT_TRACING_SAMPLE_RATE", 1.0),
			Environment:       getEnv("AGENTRT_ENVIRONMENT", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("AGENTRT_METRICS_PORT must be between 0 and 65535"))
	}
	if c.Server.DrainTimeout <= 0 {
		errs = append(errs, errors.New("AGENTRT_DRAIN_TIMEOUT must be greater than 0"))
	}
	if c.Server.ForceInterruptWait <= 0 {
		errs = append(errs, errors.New("AGENTRT_FORCE_INTERRUPT_WAIT must be greater than 0"))
	}
	if c.Server.ShutdownTimeout < c.Server.DrainTimeout+c.Server.ForceInterruptWait {
		errs = append(errs, errors.New("AGENTRT_SHUTDOWN_TIMEOUT must cover DRAIN_TIMEOUT plus FORCE_INTERRUPT_WAIT"))
	}

	if c.Database.URL == "" {
		errs = append(errs, errors.New("AGENTRT_DATABASE_URL is required"))
	} else if c.DatabaseDriver() == "" {
		errs = append(errs, errors.New("AGENTRT_DATABASE_URL must start with postgres://, postgresql://, sqlite:// or file:"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("AGENTRT_DATABASE_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("AGENTRT_DATABASE_MAX_IDLE_CONNS cannot be negative"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, errors.New("AGENTRT_DATABASE_MAX_IDLE_CONNS cannot exceed MAX_OPEN_CONNS"))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("AGENTRT_STATE_STORE_PATH is required for the local state store"))
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("AGENTRT_S3_BUCKET is required for the s3 state store"))
		}
		if c.Storage.AccessKeyID == "" {
			errs = append(errs, errors.New("AGENTRT_S3_ACCESS_KEY_ID is required for the s3 state store"))
		}
		if c.Storage.SecretAccessKey == "" {
			errs = append(errs, errors.New("AGENTRT_S3_SECRET_ACCESS_KEY is required for the s3 state store"))
		}
	default:
		errs = append(errs, errors.New("AGENTRT_STATE_STORE must be one of: local, s3"))
	}
	if c.Storage.Compression != "none" && c.Storage.Compression != "zstd" {
		errs = append(errs, errors.New("AGENTRT_STATE_STORE_COMPRESSION must be one of: none, zstd"))
	}

	if c.Execution.DataRoot == "" {
		errs = append(errs, errors.New("AGENTRT_DATA_ROOT is required"))
	}
	if c.Execution.DefaultTransport != "sse" && c.Execution.DefaultTransport != "stream" {
		errs = append(errs, errors.New("AGENTRT_DEFAULT_TRANSPORT must be one of: sse, stream"))
	}
	if c.Execution.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("AGENTRT_DOWNLOAD_TIMEOUT must be greater than 0"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, errors.New("AGENTRT_LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, errors.New("AGENTRT_LOG_FORMAT must be one of: json, console"))
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("AGENTRT_TRACING_ENDPOINT is required when tracing is enabled"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("AGENTRT_TRACING_SAMPLE_RATE must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// ValidationError collects every configuration problem found by Validate.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// DatabaseDriver returns DriverPostgres or DriverSQLite based on the URL
// scheme, or "" when the scheme is not recognised.
func (c *Config) DatabaseDriver() string {
	u := strings.ToLower(c.Database.URL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(u, "sqlite://"), strings.HasPrefix(u, "file:"):
		return DriverSQLite
	default:
		return ""
	}
}

// SQLitePath returns the database file path for the sqlite driver, without
// scheme or query parameters.
func (c *Config) SQLitePath() string {
	path := c.Database.URL
	for _, prefix := range []string{"sqlite://", "file:"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
