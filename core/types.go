package core

import (
	"bytes"
	"fmt"
	"strings"
)

// CompressionType identifies the codec used for one ncfile data block.
// It is stored on disk in every block header.
type CompressionType byte

const (
	CompressionNone    CompressionType = 0
	CompressionSnappy  CompressionType = 1
	CompressionLZ4     CompressionType = 2
	CompressionZSTD    CompressionType = 3
	CompressionDeflate CompressionType = 4
)

// Compressor compresses and decompresses whole blocks.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	// CompressTo resets dst and writes the compressed form of src into it.
	CompressTo(dst *bytes.Buffer, src []byte) error
	Decompress(data []byte) ([]byte, error)
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	case CompressionDeflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a config value such as "deflate" to its CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deflate", "zlib":
		return CompressionDeflate, nil
	case "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type %q", s)
	}
}

const ChecksumSize = 4 // uint32 CRC32
