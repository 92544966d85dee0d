// Package codec provides the compression codecs used for stored row
// payloads: none, gzip, snappy, lz4, and zstd.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression codec.
type Type string

const (
	None   Type = "none"
	Gzip   Type = "gzip"
	Snappy Type = "snappy"
	Lz4    Type = "lz4"
	Zstd   Type = "zstd"
)

// Parse converts a config string to a codec Type.
func Parse(s string) (Type, error) {
	switch Type(s) {
	case "", None:
		return None, nil
	case Gzip, Snappy, Lz4, Zstd:
		return Type(s), nil
	default:
		return None, fmt.Errorf("codec: unsupported compression type %q", s)
	}
}

// Compress compresses data with the given codec.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Gzip:
		var buf bytes.Buffer
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil

	case Snappy:
		return snappy.Encode(nil, data), nil

	case Lz4:
		var buf bytes.Buffer
		writer := lz4.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil

	case Zstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("codec: unsupported compression type %q", t)
	}
}

// Decompress decompresses data with the given codec.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Gzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case Snappy:
		return snappy.Decode(nil, data)

	case Lz4:
		reader := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(reader)

	case Zstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)

	default:
		return nil, fmt.Errorf("codec: unsupported compression type %q", t)
	}
}
