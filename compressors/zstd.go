package compressors

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements the Compressor interface with pooled zstd
// encoders and decoders. Encoders are configured for a fixed level.
type ZstdCompressor struct {
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ core.Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor returns a compressor for the given zstd level (1..22).
// Level 0 selects the library default.
func NewZstdCompressor(level int) *ZstdCompressor {
	c := &ZstdCompressor{level: zstd.SpeedDefault}
	if level > 0 {
		c.level = zstd.EncoderLevelFromZstd(level)
	}
	c.encoderPool.New = func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return err
		}
		return enc
	}
	c.decoderPool.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(1<<30))
		if err != nil {
			return err
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	switch v := c.encoderPool.Get().(type) {
	case *zstd.Encoder:
		return v, nil
	case error:
		return nil, fmt.Errorf("zstd encoder init error: %w", v)
	default:
		return nil, fmt.Errorf("zstd encoder pool returned %T", v)
	}
}

func (c *ZstdCompressor) decoder() (*zstd.Decoder, error) {
	switch v := c.decoderPool.Get().(type) {
	case *zstd.Decoder:
		return v, nil
	case error:
		return nil, fmt.Errorf("zstd decoder init error: %w", v)
	default:
		return nil, fmt.Errorf("zstd decoder pool returned %T", v)
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.encoder()
	if err != nil {
		return err
	}
	defer c.encoderPool.Put(enc)
	dst.Reset()
	_, err = dst.Write(enc.EncodeAll(src, dst.AvailableBuffer()))
	return err
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}
	defer c.decoderPool.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return out, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
