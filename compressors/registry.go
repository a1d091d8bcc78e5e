package compressors

import (
	"fmt"

	"github.com/INLOpen/cmip6kit/core"
)

// ForType returns a Compressor for writing blocks with the given codec and
// level. A level of 0 always yields the pass-through compressor.
func ForType(ct core.CompressionType, level int) (core.Compressor, error) {
	if level <= 0 {
		return NoCompressionCompressor{}, nil
	}
	switch ct {
	case core.CompressionNone:
		return NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return &LZ4Compressor{}, nil
	case core.CompressionZSTD:
		return NewZstdCompressor(level), nil
	case core.CompressionDeflate:
		return NewDeflateCompressor(level), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", ct)
	}
}

var (
	decodeNone    = NoCompressionCompressor{}
	decodeSnappy  = NewSnappyCompressor()
	decodeLZ4     = &LZ4Compressor{}
	decodeZstd    = NewZstdCompressor(0)
	decodeDeflate = NewDeflateCompressor(1)
)

// ForDecode returns a shared Compressor able to decompress blocks written
// with ct at any level.
func ForDecode(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return decodeNone, nil
	case core.CompressionSnappy:
		return decodeSnappy, nil
	case core.CompressionLZ4:
		return decodeLZ4, nil
	case core.CompressionZSTD:
		return decodeZstd, nil
	case core.CompressionDeflate:
		return decodeDeflate, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", ct)
	}
}
