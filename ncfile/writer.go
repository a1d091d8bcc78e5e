package ncfile

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/cmip6kit/compressors"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriterOptions configures Create.
type WriterOptions struct {
	// Path is the final file path. Data go to Path+".tmp" until Finish.
	Path string
	// Codec compresses blocks of variables with CompressionLevel > 0.
	Codec core.CompressionType
	// CodecLevel, when positive, replaces the per-variable level for codecs
	// other than deflate. Variables with level 0 stay uncompressed.
	CodecLevel int
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Writer builds a container. It is not safe for concurrent use by
// multiple goroutines beyond the internal mutex serialising calls.
type Writer struct {
	mu       sync.Mutex
	path     string
	tmpPath  string
	file     *os.File
	offset   int64
	codec    core.CompressionType
	level    int
	schema   schema
	dimIndex map[string]int
	varIndex map[string]int
	codecs   map[string]core.Compressor
	index    indexBuilder
	closed   bool
	tracer   trace.Tracer
	logger   *slog.Logger
}

type schema struct {
	Dims  []Dim      `json:"dims"`
	Vars  []Var      `json:"vars"`
	Attrs Attributes `json:"attrs,omitempty"`
}

// Create opens a new container for writing.
func Create(opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("ncfile: empty output path")
	}
	tmpPath := opts.Path + tmpSuffix
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", opts.Path, err)
	}
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file %s: %w", tmpPath, err)
	}

	header := core.NewContainerHeader(opts.Codec)
	headerLen, err := header.WriteTo(file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &Writer{
		path:     opts.Path,
		tmpPath:  tmpPath,
		file:     file,
		offset:   headerLen,
		codec:    opts.Codec,
		level:    opts.CodecLevel,
		dimIndex: make(map[string]int),
		varIndex: make(map[string]int),
		codecs:   make(map[string]core.Compressor),
		tracer:   opts.Tracer,
		logger:   opts.Logger.With("component", "ncfile.Writer", "path", opts.Path),
	}, nil
}

// Path returns the final path of the container.
func (w *Writer) Path() string { return w.path }

// AddDim defines a dimension. A length of 0 makes it unlimited; only one
// unlimited dimension is allowed.
func (w *Writer) AddDim(name string, length int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, ok := w.dimIndex[name]; ok {
		return fmt.Errorf("ncfile: dimension %q already defined", name)
	}
	if length < 0 {
		return fmt.Errorf("ncfile: dimension %q has negative length %d", name, length)
	}
	d := Dim{Name: name, Len: length, Unlimited: length == 0}
	if d.Unlimited {
		for _, other := range w.schema.Dims {
			if other.Unlimited {
				return fmt.Errorf("ncfile: dimension %q: %q is already unlimited", name, other.Name)
			}
		}
	}
	w.dimIndex[name] = len(w.schema.Dims)
	w.schema.Dims = append(w.schema.Dims, d)
	return nil
}

// AddVar defines a variable. Its dimensions must exist; only the first
// may be unlimited.
func (w *Writer) AddVar(v Var) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, ok := w.varIndex[v.Name]; ok {
		return fmt.Errorf("ncfile: variable %q already defined", v.Name)
	}
	if v.DType.Size() == 0 {
		return fmt.Errorf("ncfile: variable %q has invalid dtype", v.Name)
	}
	for i, name := range v.Dims {
		di, ok := w.dimIndex[name]
		if !ok {
			return fmt.Errorf("%w: %q (variable %q)", ErrUnknownDim, name, v.Name)
		}
		if i > 0 && w.schema.Dims[di].Unlimited {
			return fmt.Errorf("ncfile: variable %q: unlimited dimension %q must come first", v.Name, name)
		}
	}
	if !v.Contiguous && len(v.ChunkSizes) != 0 && len(v.ChunkSizes) != len(v.Dims) {
		return fmt.Errorf("ncfile: variable %q: %d chunk sizes for %d dimensions", v.Name, len(v.ChunkSizes), len(v.Dims))
	}
	if v.Contiguous {
		v.ChunkSizes = nil
		v.CompressionLevel = 0
	}
	if v.CompressionLevel < 0 || v.CompressionLevel > 9 {
		return fmt.Errorf("ncfile: variable %q: compression level %d out of range 0..9", v.Name, v.CompressionLevel)
	}
	level := v.CompressionLevel
	if level > 0 && w.level > 0 && w.codec != core.CompressionDeflate {
		level = w.level
	}
	comp, err := compressors.ForType(w.codec, level)
	if err != nil {
		return fmt.Errorf("ncfile: variable %q: %w", v.Name, err)
	}
	w.codecs[v.Name] = comp
	w.varIndex[v.Name] = len(w.schema.Vars)
	w.schema.Vars = append(w.schema.Vars, v.Clone())
	return nil
}

// SetAttrs replaces the global attributes.
func (w *Writer) SetAttrs(attrs Attributes) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.schema.Attrs = attrs.Clone()
	return nil
}

// rowSize is the number of elements per index of the first dimension.
func (w *Writer) rowSize(v Var) int {
	n := 1
	for _, name := range v.Dims[min(1, len(v.Dims)):] {
		n *= w.schema.Dims[w.dimIndex[name]].Len
	}
	return n
}

// WriteSlice stores data for rows [start, start+len(data)/rowSize) of the
// variable's first dimension. Scalars take a single value at start 0.
func (w *Writer) WriteSlice(name string, start int, data []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	vi, ok := w.varIndex[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	v := w.schema.Vars[vi]
	rowSize := w.rowSize(v)
	if start < 0 || rowSize == 0 || len(data)%rowSize != 0 {
		return fmt.Errorf("%w: %q got %d values at row %d, row size %d", ErrShapeMismatch, name, len(data), start, rowSize)
	}
	rows := len(data) / rowSize
	if rows == 0 {
		return nil
	}
	if len(v.Dims) == 0 {
		if start != 0 || rows != 1 {
			return fmt.Errorf("%w: scalar %q takes one value at row 0", ErrShapeMismatch, name)
		}
	} else {
		d := &w.schema.Dims[w.dimIndex[v.Dims[0]]]
		if d.Unlimited {
			if start+rows > d.Len {
				d.Len = start + rows
			}
		} else if start+rows > d.Len {
			return fmt.Errorf("%w: %q rows %d..%d exceed dimension %q of length %d", ErrShapeMismatch, name, start, start+rows, d.Name, d.Len)
		}
	}

	blockRows := rows
	if !v.Contiguous && len(v.ChunkSizes) > 0 && v.ChunkSizes[0] > 0 {
		blockRows = v.ChunkSizes[0]
	}
	for r := 0; r < rows; r += blockRows {
		n := min(blockRows, rows-r)
		if err := w.writeBlock(v, uint64(start+r), uint64(n), data[r*rowSize:(r+n)*rowSize]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeBlock(v Var, start, count uint64, values []float64) error {
	raw := core.BufferPool.Get()
	defer core.BufferPool.Put(raw)
	encoded := encodeValues(raw.Bytes(), v.DType, values)

	compressed := core.BufferPool.Get()
	defer core.BufferPool.Put(compressed)
	comp := w.codecs[v.Name]
	if err := comp.CompressTo(compressed, encoded); err != nil {
		return fmt.Errorf("failed to compress block of %q: %w", v.Name, err)
	}
	payload := compressed.Bytes()

	var hdr [BlockHeaderSize]byte
	hdr[0] = byte(comp.Type())
	binary.LittleEndian.PutUint32(hdr[1:], crc32.ChecksumIEEE(payload))
	if _, err := w.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write block header of %q: %w", v.Name, err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("failed to write block of %q: %w", v.Name, err)
	}
	length := uint32(BlockHeaderSize + len(payload))
	w.index.add(blockRef{Var: v.Name, Start: start, Count: count, Offset: uint64(w.offset), Length: length})
	w.offset += int64(length)
	return nil
}

// Finish writes schema, index and footer, syncs, and renames the temporary
// file to its final path. The writer is unusable afterwards.
func (w *Writer) Finish(ctx context.Context) (err error) {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(ctx, "ncfile.Writer.Finish")
		span.SetAttributes(attribute.String("ncfile.path", w.path))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	schemaData, err := json.Marshal(w.schema)
	if err != nil {
		w.abort()
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	indexData, indexCRC := w.index.build()

	ft := footer{
		SchemaOffset: uint64(w.offset),
		SchemaLen:    uint32(len(schemaData)),
		SchemaCRC:    crc32.ChecksumIEEE(schemaData),
		IndexOffset:  uint64(w.offset) + uint64(len(schemaData)),
		IndexLen:     uint32(len(indexData)),
		IndexCRC:     indexCRC,
	}
	for _, part := range [][]byte{schemaData, indexData} {
		if _, err := w.file.Write(part); err != nil {
			w.abort()
			return fmt.Errorf("failed to write trailer: %w", err)
		}
	}
	if err := binary.Write(w.file, binary.LittleEndian, &ft); err != nil {
		w.abort()
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if _, err := w.file.WriteString(core.ArrayFileMagicString); err != nil {
		w.abort()
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("failed to sync %s: %w", w.tmpPath, err)
	}
	if err := w.file.Close(); err != nil {
		w.file = nil
		w.abort()
		return fmt.Errorf("failed to close %s: %w", w.tmpPath, err)
	}
	w.file = nil

	if err := sys.RenameWithRetry(w.tmpPath, w.path); err != nil {
		w.abort()
		return fmt.Errorf("failed to rename %s to %s: %w", w.tmpPath, w.path, err)
	}
	w.closed = true
	if span != nil {
		span.SetAttributes(
			attribute.Int("ncfile.blocks", len(w.index.entries)),
			attribute.Int("ncfile.vars", len(w.schema.Vars)),
		)
	}
	w.logger.Debug("Container written", "blocks", len(w.index.entries), "vars", len(w.schema.Vars))
	return nil
}

func (w *Writer) abort() error {
	w.closed = true
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if err := sys.RemoveWithRetry(w.tmpPath); err != nil {
		w.logger.Warn("Failed to remove temporary file during abort", "path", w.tmpPath, "error", err)
		return err
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Finish.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed && w.file == nil {
		return nil
	}
	return w.abort()
}
