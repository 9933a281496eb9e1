package ir

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrScriptTooLarge is returned when a compressed payload exceeds the
// decode ceiling.
var ErrScriptTooLarge = errors.New("script too large")

// MaxDecodedSize bounds decompressed script payloads. Contract sources and
// IR are small; anything near this limit is hostile input.
const MaxDecodedSize = 1 << 20 // 1 MB

// Shared zstd coders. Both are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
)

// Encode serializes an instruction list to compressed bytes for persistence.
func Encode(instrs []Instruction) ([]byte, error) {
	raw, err := json.Marshal(instrs)
	if err != nil {
		return nil, fmt.Errorf("marshal ir: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Decode deserializes an instruction list from compressed bytes.
func Decode(data []byte) ([]Instruction, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress ir: %w", err)
	}
	var instrs []Instruction
	if err := json.Unmarshal(raw, &instrs); err != nil {
		return nil, fmt.Errorf("unmarshal ir: %w", err)
	}
	return instrs, nil
}

// Compress compresses a raw payload (contract source text).
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress reverses Compress, enforcing the decode ceiling.
func Decompress(data []byte) ([]byte, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if len(raw) > MaxDecodedSize {
		return nil, ErrScriptTooLarge
	}
	return raw, nil
}
