package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec tags stored alongside each value.
const (
	CodecJSON = "json"
	CodecZstd = "zstd"
)

// compressThreshold is the value size from which values are compressed.
const compressThreshold = 1024

// EncodeAll and DecodeAll are safe for concurrent use on shared instances.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encodeValue(value []byte) ([]byte, string) {
	if len(value) < compressThreshold {
		return value, CodecJSON
	}
	return encoder.EncodeAll(value, make([]byte, 0, len(value)/2)), CodecZstd
}

func decodeValue(data []byte, codec string) ([]byte, error) {
	switch codec {
	case CodecJSON, "":
		return data, nil
	case CodecZstd:
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}
