// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disktransport

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how record files are compressed. The value is
// written as the first byte of every file, so a store may mix files
// written under different settings. These values are format
// constants.
type Compression uint8

const (
	// CompressionNone stores the envelope as-is.
	CompressionNone Compression = 0

	// CompressionLZ4 stores an LZ4 frame. Cheap to decode; the default.
	CompressionLZ4 Compression = 1

	// CompressionZstd stores a zstd stream. Better ratio for large
	// records of repetitive numeric data.
	CompressionZstd Compression = 2
)

// String returns the configuration name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a configuration name. The empty string
// selects LZ4.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "", "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// zstdEncoders holds encoders between writes. An encoder is reset onto
// each destination; encoders are not safe for concurrent use, so each
// write takes its own.
var zstdEncoders = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic("disktransport: zstd encoder initialization failed: " + err.Error())
		}
		return encoder
	},
}

// compressTo copies source to destination through the compressor.
func compressTo(destination io.Writer, source io.Reader, compression Compression) error {
	switch compression {
	case CompressionNone:
		_, err := io.Copy(destination, source)
		return err

	case CompressionLZ4:
		writer := lz4.NewWriter(destination)
		if _, err := io.Copy(writer, source); err != nil {
			return fmt.Errorf("lz4 compress: %w", err)
		}
		return writer.Close()

	case CompressionZstd:
		encoder := zstdEncoders.Get().(*zstd.Encoder)
		defer zstdEncoders.Put(encoder)
		encoder.Reset(destination)
		if _, err := io.Copy(encoder, source); err != nil {
			encoder.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		return encoder.Close()

	default:
		return fmt.Errorf("unsupported compression %s", compression)
	}
}

// decompressFrom wraps source in the decompressor named by the file's
// leading byte. The returned close function releases decoder state.
func decompressFrom(source io.Reader, compression Compression) (io.Reader, func(), error) {
	switch compression {
	case CompressionNone:
		return source, func() {}, nil

	case CompressionLZ4:
		return lz4.NewReader(source), func() {}, nil

	case CompressionZstd:
		decoder, err := zstd.NewReader(source, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported compression %s in record header", compression)
	}
}
