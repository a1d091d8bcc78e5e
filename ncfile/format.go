// The container format lays a file out as
//
//	header | block* | schema (JSON) | index | footer | magic
//
// Each block is codec(1) | crc32(4) | payload and covers a run of rows of
// one variable. The footer holds the offsets, lengths and checksums of the
// schema and index sections.

package ncfile

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/INLOpen/cmip6kit/core"
)

const (
	// BlockHeaderSize is the codec flag plus the CRC32 of the payload.
	BlockHeaderSize = 1 + core.ChecksumSize
	// footerSize excludes the magic string.
	footerSize = 8 + 4 + 4 + 8 + 4 + 4
	tmpSuffix  = ".tmp"
)

var (
	ErrCorruptBlock  = errors.New("ncfile: block checksum mismatch")
	ErrCorruptFile   = errors.New("ncfile: corrupt container")
	ErrUnknownVar    = errors.New("ncfile: unknown variable")
	ErrUnknownDim    = errors.New("ncfile: unknown dimension")
	ErrWriterClosed  = errors.New("ncfile: writer already finished or aborted")
	ErrShapeMismatch = errors.New("ncfile: data does not match variable shape")
	ErrUnknownFormat = errors.New("ncfile: unknown array-file format")
)

// Container is the in-tree format. It stores everything the merge needs
// without a C library, with any of the block codecs in compressors.
type Container struct{}

func (Container) Name() string { return "container" }

func (Container) Open(path string) (Dataset, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (Container) Create(opts WriterOptions) (Builder, error) {
	w, err := Create(opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type footer struct {
	SchemaOffset uint64
	SchemaLen    uint32
	SchemaCRC    uint32
	IndexOffset  uint64
	IndexLen     uint32
	IndexCRC     uint32
}

func encodeValues(dst []byte, dtype DType, values []float64) []byte {
	size := dtype.Size()
	out := append(dst[:0], make([]byte, len(values)*size)...)
	for i, v := range values {
		b := out[i*size:]
		switch dtype {
		case Float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		case Float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case Int32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case Int16:
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		}
	}
	return out
}

func decodeValues(dst []float64, dtype DType, raw []byte) []float64 {
	size := dtype.Size()
	n := len(raw) / size
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch dtype {
		case Float64:
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case Float32:
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Int32:
			dst[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case Int16:
			dst[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		}
	}
	return dst
}
