package compressors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/INLOpen/cmip6kit/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements the Compressor interface using raw LZ4 blocks.
//
// Payload layout: uvarint(uncompressed length) | mode byte | data.
// Mode 0 means the block did not compress and data is stored raw.
type LZ4Compressor struct{}

const (
	lz4ModeRaw   byte = 0
	lz4ModeBlock byte = 1
)

var _ core.Compressor = (*LZ4Compressor)(nil)

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(src)))
	dst.Write(hdr[:n])

	block := make([]byte, lz4.CompressBlockBound(len(src)))
	written, err := lz4.CompressBlock(src, block, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(src) {
		dst.WriteByte(lz4ModeRaw)
		dst.Write(src)
		return nil
	}
	dst.WriteByte(lz4ModeBlock)
	dst.Write(block[:written])
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 || len(data) < n+1 {
		return nil, errors.New("lz4 decompress error: truncated header")
	}
	mode, payload := data[n], data[n+1:]
	switch mode {
	case lz4ModeRaw:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("lz4 decompress error: raw payload is %d bytes, header says %d", len(payload), size)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case lz4ModeBlock:
		out := make([]byte, size)
		written, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		if uint64(written) != size {
			return nil, fmt.Errorf("lz4 decompress error: got %d bytes, want %d", written, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("lz4 decompress error: unknown mode %d", mode)
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
