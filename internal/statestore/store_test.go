package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *SessionState {
	return &SessionState{
		Context: ContextState{
			Data: json.RawMessage(`{"step":3}`),
			DeferredTools: map[string]DeferredToolMeta{
				"call-1": {ToolName: "shell", Kind: DeferredToolApproval},
			},
		},
		Messages:    []json.RawMessage{json.RawMessage(`{"role":"user","content":"hi"}`)},
		Environment: json.RawMessage(`{"cwd":"/workspace"}`),
	}
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) ObserveOperation(backend, op string, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, backend+"/"+op)
}

func (o *recordingObserver) AddBytes(string, string, int) {}

func TestKey(t *testing.T) {
	key, err := Key("", "abc")
	require.NoError(t, err)
	assert.Equal(t, "sessions/abc/state", key)

	key, err = Key("prod", "abc")
	require.NoError(t, err)
	assert.Equal(t, "prod/sessions/abc/state", key)
}

func TestKey_RejectsInvalidSessionIDs(t *testing.T) {
	for _, id := range []string{"", ".", "..", "x/../y", "../../outside", `a\b`, "a/b"} {
		t.Run(id, func(t *testing.T) {
			_, err := Key("", id)
			assert.ErrorIs(t, err, ErrInvalidSessionID)
		})
	}
}

func TestLocalStore_RejectsInvalidSessionIDs(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	root := filepath.Join(parent, "store")
	s, err := NewLocalStore(LocalConfig{Root: root}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "y", sampleState()))

	assert.ErrorIs(t, s.Write(ctx, "../../outside", sampleState()), ErrInvalidSessionID)
	assert.ErrorIs(t, s.Write(ctx, "x/../y", &SessionState{Environment: json.RawMessage(`{"owner":"x"}`)}), ErrInvalidSessionID)
	_, err = s.Read(ctx, "x/../y")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
	_, err = s.Exists(ctx, "..")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
	assert.ErrorIs(t, s.Delete(ctx, "."), ErrInvalidSessionID)

	_, err = os.Stat(filepath.Join(parent, "outside"))
	assert.True(t, os.IsNotExist(err))

	got, err := s.Read(ctx, "y")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cwd":"/workspace"}`, string(got.Environment))
}

func TestCodec(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			data, err := Encode(sampleState(), c)
			require.NoError(t, err)
			assert.Equal(t, c == CompressionZstd, len(data) >= 4 && string(data[:4]) == string(zstdMagic))

			got, err := Decode(data)
			require.NoError(t, err)
			assert.JSONEq(t, `{"step":3}`, string(got.Context.Data))
			assert.Equal(t, DeferredToolApproval, got.Context.DeferredTools["call-1"].Kind)
			require.Len(t, got.Messages, 1)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode(append(append([]byte{}, zstdMagic...), 0x00, 0x01))
	assert.Error(t, err)
}

func newLocalStore(t *testing.T, c Compression) (*LocalStore, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	s, err := NewLocalStore(LocalConfig{Root: t.TempDir(), Namespace: "test", Compression: c}, obs, nil)
	require.NoError(t, err)
	return s, obs
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, obs := newLocalStore(t, CompressionZstd)

	exists, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Write(ctx, "s1", sampleState()))

	exists, err = s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.Read(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cwd":"/workspace"}`, string(got.Environment))

	_, err = os.Stat(filepath.Join(s.root, "test", "sessions", "s1", "state"))
	assert.NoError(t, err)

	assert.Contains(t, obs.ops, "local/write")
	assert.Contains(t, obs.ops, "local/read")
}

func TestLocalStore_ReadMissing(t *testing.T) {
	s, _ := newLocalStore(t, CompressionNone)
	_, err := s.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionNone)

	require.NoError(t, s.Write(ctx, "s1", sampleState()))
	require.NoError(t, s.Delete(ctx, "s1"))
	require.NoError(t, s.Delete(ctx, "s1"))

	_, err := s.Read(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionNone)

	first := sampleState()
	require.NoError(t, s.Write(ctx, "s1", first))

	second := sampleState()
	second.Messages = append(second.Messages, json.RawMessage(`{"role":"assistant"}`))
	require.NoError(t, s.Write(ctx, "s1", second))

	got, err := s.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)

	assertOnlyState(t, s, "s1")
}

func assertOnlyState(t *testing.T, s *LocalStore, sessionID string) {
	t.Helper()
	target, err := s.path(sessionID)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "state", e.Name(), "unexpected file left in state directory")
	}
}

func failRename(t *testing.T) {
	t.Helper()
	orig := rename
	rename = func(string, string) error { return errors.New("disk unplugged") }
	t.Cleanup(func() { rename = orig })
}

func TestLocalStore_FailedOverwriteKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionZstd)

	require.NoError(t, s.Write(ctx, "s1", sampleState()))

	failRename(t)
	next := sampleState()
	next.Messages = append(next.Messages, json.RawMessage(`{"role":"assistant"}`))
	err := s.Write(ctx, "s1", next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish state")

	got, err := s.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.JSONEq(t, `{"step":3}`, string(got.Context.Data))
	assertOnlyState(t, s, "s1")
}

func TestLocalStore_FailedFirstWriteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionNone)

	failRename(t)
	require.Error(t, s.Write(ctx, "s1", sampleState()))

	_, err := s.Read(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, exists)
	assertOnlyState(t, s, "s1")
}

func TestLocalStore_StagedBlobIsNeverRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionNone)
	require.NoError(t, s.Write(ctx, "s1", sampleState()))

	// A crash mid-write leaves a truncated temp file next to the blob.
	target, err := s.path("s1")
	require.NoError(t, err)
	data, err := Encode(sampleState(), CompressionNone)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(target), ".state-crash.tmp"), data[:len(data)/2], 0o644))

	got, err := s.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestLocalStore_PublishOntoDirectoryFails(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t, CompressionNone)

	target, err := s.path("s1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))

	require.Error(t, s.Write(ctx, "s1", sampleState()))
	assertOnlyState(t, s, "s1")
}

func TestLocalStore_ReadsEitherCompression(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	plain, err := NewLocalStore(LocalConfig{Root: root, Compression: CompressionNone}, nil, nil)
	require.NoError(t, err)
	zstdStore, err := NewLocalStore(LocalConfig{Root: root, Compression: CompressionZstd}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, plain.Write(ctx, "s1", sampleState()))
	got, err := zstdStore.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, _ := newLocalStore(t, CompressionNone)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Write(ctx, "s1", sampleState()), context.Canceled)
	_, err := s.Read(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}
