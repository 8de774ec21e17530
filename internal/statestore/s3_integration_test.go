//go:build integration

package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor/agentrt/pkg/testutil"
)

func TestS3Store(t *testing.T) {
	if !testutil.IsDockerAvailable() {
		t.Skip("Docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	mc, err := testutil.NewMinioContainer(ctx)
	require.NoError(t, err)
	defer mc.Terminate(context.Background())

	store, err := NewS3Store(S3Config{
		Endpoint:        mc.Endpoint,
		Bucket:          "agentrt-state",
		Region:          "us-east-1",
		AccessKeyID:     mc.AccessKeyID,
		SecretAccessKey: mc.SecretAccessKey,
		Namespace:       "it",
		Compression:     CompressionZstd,
	}, nil, nil)
	require.NoError(t, err)

	assert.Error(t, store.HealthCheck(ctx), "bucket does not exist yet")
	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.HealthCheck(ctx))

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := store.Read(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := store.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "s1", sampleState()))

		exists, err := store.Exists(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := store.Read(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "shell", got.Context.DeferredTools["call-1"].ToolName)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "s2", sampleState()))
		require.NoError(t, store.Delete(ctx, "s2"))
		require.NoError(t, store.Delete(ctx, "s2"))

		_, err := store.Read(ctx, "s2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
