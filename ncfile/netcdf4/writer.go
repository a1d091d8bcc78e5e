//go:build cgo && !nonetcdf

package netcdf4

/*
#include <netcdf.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/sys"

	"github.com/fhs/go-netcdf/netcdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tmpSuffix = ".tmp"

// ErrUnsupportedCodec is returned for block codecs NetCDF-4 cannot store.
var ErrUnsupportedCodec = errors.New("netcdf4: only deflate or no compression is supported")

type dimState struct {
	handle    netcdf.Dim
	length    int
	unlimited bool
}

// builder writes a NetCDF-4 file. Definitions may be added until the
// first data write; attributes may be set at any time.
type builder struct {
	path    string
	tmpPath string
	ds      netcdf.Dataset
	id      C.int
	deflate bool
	define  bool
	closed  bool
	dims    map[string]*dimState
	vars    map[string]ncfile.Var
	varIDs  map[string]C.int
	tracer  trace.Tracer
	logger  *slog.Logger
}

func create(opts ncfile.WriterOptions) (*builder, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("netcdf4: empty output path")
	}
	switch opts.Codec {
	case core.CompressionDeflate, core.CompressionNone:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, opts.Codec)
	}
	tmpPath := opts.Path + tmpSuffix
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", opts.Path, err)
	}

	lib.Lock()
	defer lib.Unlock()
	ds, err := netcdf.CreateFile(tmpPath, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	return &builder{
		path:    opts.Path,
		tmpPath: tmpPath,
		ds:      ds,
		id:      ncid(ds),
		deflate: opts.Codec == core.CompressionDeflate,
		define:  true,
		dims:    make(map[string]*dimState),
		vars:    make(map[string]ncfile.Var),
		varIDs:  make(map[string]C.int),
		tracer:  opts.Tracer,
		logger:  opts.Logger.With("component", "netcdf4.Builder", "path", opts.Path),
	}, nil
}

func (b *builder) Path() string { return b.path }

func (b *builder) defineMode() error {
	if b.define {
		return nil
	}
	if err := check(C.nc_redef(b.id)); err != nil {
		return err
	}
	b.define = true
	return nil
}

func (b *builder) dataMode() error {
	if !b.define {
		return nil
	}
	if err := b.ds.EndDef(); err != nil {
		return err
	}
	b.define = false
	return nil
}

func (b *builder) AddDim(name string, length int) error {
	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return ncfile.ErrWriterClosed
	}
	if _, ok := b.dims[name]; ok {
		return fmt.Errorf("netcdf4: dimension %q already defined", name)
	}
	if length < 0 {
		return fmt.Errorf("netcdf4: dimension %q has negative length %d", name, length)
	}
	if err := b.defineMode(); err != nil {
		return err
	}
	// A zero length is NC_UNLIMITED.
	d, err := b.ds.AddDim(name, uint64(length))
	if err != nil {
		return fmt.Errorf("netcdf4: dimension %q: %w", name, err)
	}
	b.dims[name] = &dimState{handle: d, length: length, unlimited: length == 0}
	return nil
}

func (b *builder) AddVar(v ncfile.Var) error {
	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return ncfile.ErrWriterClosed
	}
	if _, ok := b.vars[v.Name]; ok {
		return fmt.Errorf("netcdf4: variable %q already defined", v.Name)
	}
	t, err := typeOf(v.DType)
	if err != nil {
		return fmt.Errorf("variable %q: %w", v.Name, err)
	}
	handles := make([]netcdf.Dim, len(v.Dims))
	unlimited := false
	for i, name := range v.Dims {
		d, ok := b.dims[name]
		if !ok {
			return fmt.Errorf("%w: %q (variable %q)", ncfile.ErrUnknownDim, name, v.Name)
		}
		if i > 0 && d.unlimited {
			return fmt.Errorf("netcdf4: variable %q: unlimited dimension %q must come first", v.Name, name)
		}
		unlimited = unlimited || d.unlimited
		handles[i] = d.handle
	}
	if err := b.defineMode(); err != nil {
		return err
	}
	nv, err := b.ds.AddVar(v.Name, t, handles)
	if err != nil {
		return fmt.Errorf("netcdf4: variable %q: %w", v.Name, err)
	}
	vid, err := varID(b.id, v.Name)
	if err != nil {
		return fmt.Errorf("netcdf4: variable %q: %w", v.Name, err)
	}
	if len(v.Dims) > 0 {
		if err := b.defineStorage(vid, v, unlimited); err != nil {
			return fmt.Errorf("netcdf4: variable %q: %w", v.Name, err)
		}
	}
	if v.FillValue != nil {
		fill := ncfile.Attribute{Name: ncfile.FillValueAttr, Values: []float64{*v.FillValue}}
		if err := writeAttr(b.id, vid, nv.Attr(fill.Name), fill, v.DType); err != nil {
			return fmt.Errorf("netcdf4: variable %q: %w", v.Name, err)
		}
	}
	for _, attr := range v.Attrs.Without(ncfile.FillValueAttr) {
		if err := writeAttr(b.id, vid, nv.Attr(attr.Name), attr, 0); err != nil {
			return fmt.Errorf("netcdf4: variable %q attribute %q: %w", v.Name, attr.Name, err)
		}
	}
	b.vars[v.Name] = v.Clone()
	b.varIDs[v.Name] = vid
	return nil
}

// defineStorage sets chunking and deflate. NetCDF-4 cannot store a
// variable along an unlimited dimension contiguously; such variables are
// chunked one record at a time.
func (b *builder) defineStorage(vid C.int, v ncfile.Var, unlimited bool) error {
	chunks := v.ChunkSizes
	if v.Contiguous && !unlimited {
		return check(C.nc_def_var_chunking(b.id, vid, C.NC_CONTIGUOUS, nil))
	}
	if v.Contiguous || len(chunks) != len(v.Dims) {
		chunks = make([]int, len(v.Dims))
		for i, name := range v.Dims {
			chunks[i] = b.dims[name].length
		}
	}
	for i := range chunks {
		chunks[i] = max(chunks[i], 1)
	}
	cs := sizes(chunks)
	if err := check(C.nc_def_var_chunking(b.id, vid, C.NC_CHUNKED, &cs[0])); err != nil {
		return err
	}
	if b.deflate && !v.Contiguous && v.CompressionLevel > 0 {
		return check(C.nc_def_var_deflate(b.id, vid, 1, 1, C.int(min(v.CompressionLevel, 9))))
	}
	return nil
}

// SetAttrs writes global attributes, replacing any of the same name.
func (b *builder) SetAttrs(attrs ncfile.Attributes) error {
	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return ncfile.ErrWriterClosed
	}
	if err := b.defineMode(); err != nil {
		return err
	}
	for _, attr := range attrs {
		if err := writeAttr(b.id, C.NC_GLOBAL, b.ds.Attr(attr.Name), attr, 0); err != nil {
			return fmt.Errorf("netcdf4: global attribute %q: %w", attr.Name, err)
		}
	}
	return nil
}

func (b *builder) WriteSlice(name string, start int, data []float64) error {
	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return ncfile.ErrWriterClosed
	}
	v, ok := b.vars[name]
	if !ok {
		return fmt.Errorf("%w: %q", ncfile.ErrUnknownVar, name)
	}
	rowSize := 1
	for _, d := range v.Dims[min(1, len(v.Dims)):] {
		rowSize *= b.dims[d].length
	}
	if start < 0 || rowSize == 0 || len(data)%rowSize != 0 {
		return fmt.Errorf("%w: %q got %d values at row %d, row size %d", ncfile.ErrShapeMismatch, name, len(data), start, rowSize)
	}
	rows := len(data) / rowSize
	if rows == 0 {
		return nil
	}
	if err := b.dataMode(); err != nil {
		return err
	}
	vid := b.varIDs[name]
	if len(v.Dims) == 0 {
		if start != 0 || rows != 1 {
			return fmt.Errorf("%w: scalar %q takes one value at row 0", ncfile.ErrShapeMismatch, name)
		}
		return check(C.nc_put_var_double(b.id, vid, doubles(data)))
	}

	first := b.dims[v.Dims[0]]
	if !first.unlimited && start+rows > first.length {
		return fmt.Errorf("%w: %q rows %d..%d exceed dimension %q of length %d", ncfile.ErrShapeMismatch, name, start, start+rows, v.Dims[0], first.length)
	}
	starts := make([]int, len(v.Dims))
	counts := make([]int, len(v.Dims))
	starts[0], counts[0] = start, rows
	for i, d := range v.Dims[1:] {
		counts[i+1] = b.dims[d].length
	}
	cs, cc := sizes(starts), sizes(counts)
	if err := check(C.nc_put_vara_double(b.id, vid, &cs[0], &cc[0], doubles(data))); err != nil {
		return fmt.Errorf("netcdf4: writing %q rows %d..%d: %w", name, start, start+rows, err)
	}
	if first.unlimited {
		first.length = max(first.length, start+rows)
	}
	return nil
}

// Finish closes the file and renames it into place.
func (b *builder) Finish(ctx context.Context) (err error) {
	if b.tracer != nil {
		var span trace.Span
		_, span = b.tracer.Start(ctx, "netcdf4.Builder.Finish", trace.WithAttributes(attribute.String("ncfile.path", b.path)))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return ncfile.ErrWriterClosed
	}
	if err := b.dataMode(); err != nil {
		b.abort()
		return fmt.Errorf("netcdf4: leaving define mode: %w", err)
	}
	b.closed = true
	if err := b.ds.Close(); err != nil {
		os.Remove(b.tmpPath)
		return fmt.Errorf("failed to close %s: %w", b.tmpPath, err)
	}
	if err := sys.RenameWithRetry(b.tmpPath, b.path); err != nil {
		os.Remove(b.tmpPath)
		return fmt.Errorf("failed to rename %s to %s: %w", b.tmpPath, b.path, err)
	}
	b.logger.Debug("NetCDF file written", "vars", len(b.vars))
	return nil
}

func (b *builder) abort() error {
	b.closed = true
	b.ds.Close()
	if err := sys.RemoveWithRetry(b.tmpPath); err != nil {
		b.logger.Warn("Failed to remove temporary file during abort", "path", b.tmpPath, "error", err)
		return err
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Finish.
func (b *builder) Abort() error {
	lib.Lock()
	defer lib.Unlock()
	if b.closed {
		return nil
	}
	return b.abort()
}
