package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/klauspost/compress/flate"
)

// DeflateCompressor is the default codec for array variables. Its level
// follows the netCDF deflate_level convention (1 fastest .. 9 best).
type DeflateCompressor struct {
	level int
}

var _ core.Compressor = (*DeflateCompressor)(nil)

// NewDeflateCompressor clamps level into 1..9.
func NewDeflateCompressor(level int) *DeflateCompressor {
	if level < flate.BestSpeed {
		level = flate.BestSpeed
	}
	if level > flate.BestCompression {
		level = flate.BestCompression
	}
	return &DeflateCompressor{level: level}
}

// Level returns the effective deflate level.
func (c *DeflateCompressor) Level() int { return c.level }

func (c *DeflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *DeflateCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	w, err := flate.NewWriter(dst, c.level)
	if err != nil {
		return fmt.Errorf("deflate writer error: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return fmt.Errorf("deflate compress error: %w", err)
	}
	return w.Close()
}

func (c *DeflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deflate decompress error: %w", err)
	}
	return out, nil
}

func (c *DeflateCompressor) Type() core.CompressionType {
	return core.CompressionDeflate
}
