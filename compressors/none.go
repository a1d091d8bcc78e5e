package compressors

import (
	"bytes"

	"github.com/INLOpen/cmip6kit/core"
)

// NoCompressionCompressor stores blocks verbatim. Contiguous variables and
// anything written at level 0 use it.
type NoCompressionCompressor struct{}

var _ core.Compressor = NoCompressionCompressor{}

func (NoCompressionCompressor) Type() core.CompressionType { return core.CompressionNone }

// Compress returns a copy so callers may reuse data.
func (NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

func (NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}

// Decompress returns data itself; block payloads are read into fresh
// buffers, so aliasing them is safe.
func (NoCompressionCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
