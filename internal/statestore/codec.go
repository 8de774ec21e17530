package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how encoded state is compressed before storage.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// zstd.Encoder and zstd.Decoder are safe for concurrent EncodeAll and
// DecodeAll calls, so one pair serves every store.
var (
	codecOnce   sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	codecErr    error
)

func initCodec() {
	zstdEncoder, codecErr = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if codecErr != nil {
		return
	}
	zstdDecoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
}

// Encode serializes state and applies c.
func Encode(state *SessionState, c Compression) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session state: %w", err)
	}
	if c != CompressionZstd {
		return data, nil
	}
	codecOnce.Do(initCodec)
	if codecErr != nil {
		return nil, fmt.Errorf("failed to initialize zstd: %w", codecErr)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode parses a blob written by Encode with any compression setting.
func Decode(data []byte) (*SessionState, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		codecOnce.Do(initCodec)
		if codecErr != nil {
			return nil, fmt.Errorf("failed to initialize zstd: %w", codecErr)
		}
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress session state: %w", err)
		}
		data = raw
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &state, nil
}
