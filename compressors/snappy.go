package compressors

import (
	"bytes"
	"fmt"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/golang/snappy"
)

// MaxBlockSize bounds the decoded size of a single block. A larger claim in
// a block preamble means the payload is corrupt.
const MaxBlockSize = 1 << 30

// SnappyCompressor uses the snappy block format (not the framed stream
// format), which has no levels.
type SnappyCompressor struct{}

var _ core.Compressor = SnappyCompressor{}

func NewSnappyCompressor() SnappyCompressor { return SnappyCompressor{} }

func (SnappyCompressor) Type() core.CompressionType { return core.CompressionSnappy }

func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (s SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Grow(snappy.MaxEncodedLen(len(src)))
	out := snappy.Encode(dst.AvailableBuffer()[:snappy.MaxEncodedLen(len(src))], src)
	_, err := dst.Write(out)
	return err
}

func (SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy block preamble: %w", err)
	}
	if n > MaxBlockSize {
		return nil, fmt.Errorf("snappy block claims %d bytes, limit is %d", n, MaxBlockSize)
	}
	out, err := snappy.Decode(make([]byte, n), data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return out, nil
}
