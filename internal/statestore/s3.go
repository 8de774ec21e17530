package statestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/conductor/agentrt/pkg/log"
)

const backendS3 = "s3"

// S3Config holds configuration for the S3-compatible store.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Namespace       string
	Compression     Compression
}

// S3Store keeps state blobs in an S3-compatible bucket.
type S3Store struct {
	client      *minio.Client
	bucket      string
	namespace   string
	compression Compression
	observer    Observer
	logger      log.Logger
}

// NewS3Store creates an S3Store. It does not contact the endpoint; call
// EnsureBucket or HealthCheck to verify connectivity.
func NewS3Store(cfg S3Config, observer Observer, logger log.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3Store{
		client:      client,
		bucket:      cfg.Bucket,
		namespace:   cfg.Namespace,
		compression: cfg.Compression,
		observer:    observer,
		logger:      logger.With("component", "state_store").With("backend", backendS3),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("created bucket")
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("state store unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

// Write uploads the blob with a single PutObject; S3 only exposes an
// object once the upload completes.
func (s *S3Store) Write(ctx context.Context, sessionID string, state *SessionState) (err error) {
	start := time.Now()
	defer func() { s.observe("write", err, start) }()

	key, err := Key(s.namespace, sessionID)
	if err != nil {
		return err
	}
	data, err := Encode(state, s.compression)
	if err != nil {
		return err
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: s.contentType(),
	})
	if err != nil {
		return fmt.Errorf("failed to upload state: %w", err)
	}

	if s.observer != nil {
		s.observer.AddBytes(backendS3, "write", len(data))
	}
	s.logger.Debug().Str("session_id", sessionID).Str("key", key).Int64("size", info.Size).Msg("uploaded session state")
	return nil
}

// Read downloads a session's state.
func (s *S3Store) Read(ctx context.Context, sessionID string) (state *SessionState, err error) {
	start := time.Now()
	defer func() { s.observe("read", err, start) }()

	key, err := Key(s.namespace, sessionID)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(err)
	}
	if s.observer != nil {
		s.observer.AddBytes(backendS3, "read", len(data))
	}
	return Decode(data)
}

// Exists reports whether a session has stored state.
func (s *S3Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	key, err := Key(s.namespace, sessionID)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat state: %w", err)
}

// Delete removes a session's state. S3 treats removing a missing key as
// success.
func (s *S3Store) Delete(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", err, start) }()

	key, err := Key(s.namespace, sessionID)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *S3Store) contentType() string {
	if s.compression == CompressionZstd {
		return "application/zstd"
	}
	return "application/json"
}

func (s *S3Store) mapError(err error) error {
	if isNoSuchKey(err) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to read state: %w", err)
}

func (s *S3Store) observe(op string, err error, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveOperation(backendS3, op, err, time.Since(start))
	}
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
