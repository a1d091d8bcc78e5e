package ncfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/INLOpen/cmip6kit/compressors"
	"github.com/INLOpen/cmip6kit/core"
)

// Reader gives random access to a finished container.
type Reader struct {
	path   string
	file   *os.File
	header core.ContainerHeader
	schema schema
	dims   map[string]int
	vars   map[string]int
	blocks map[string][]blockRef
}

// Open reads the header, footer, schema and index of path.
func Open(path string) (r *Reader, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	header, err := core.ReadContainerHeader(io.NewSectionReader(file, 0, int64(core.ContainerHeaderSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	magicLen := int64(len(core.ArrayFileMagicString))
	trailerStart := stat.Size() - footerSize - magicLen
	if trailerStart < int64(core.ContainerHeaderSize) {
		return nil, fmt.Errorf("%w: %s: file too small (%d bytes)", ErrCorruptFile, path, stat.Size())
	}
	trailer := make([]byte, footerSize+magicLen)
	if _, err := file.ReadAt(trailer, trailerStart); err != nil {
		return nil, fmt.Errorf("%w: %s: reading footer: %v", ErrCorruptFile, path, err)
	}
	if string(trailer[footerSize:]) != core.ArrayFileMagicString {
		return nil, fmt.Errorf("%w: %s: missing trailing magic", ErrCorruptFile, path)
	}
	var ft footer
	if err := binary.Read(bytes.NewReader(trailer[:footerSize]), binary.LittleEndian, &ft); err != nil {
		return nil, fmt.Errorf("%w: %s: parsing footer: %v", ErrCorruptFile, path, err)
	}
	if int64(ft.IndexOffset)+int64(ft.IndexLen) > trailerStart || ft.SchemaOffset+uint64(ft.SchemaLen) != ft.IndexOffset {
		return nil, fmt.Errorf("%w: %s: footer offsets out of range", ErrCorruptFile, path)
	}

	schemaData, err := readSection(file, ft.SchemaOffset, ft.SchemaLen, ft.SchemaCRC)
	if err != nil {
		return nil, fmt.Errorf("%s: schema: %w", path, err)
	}
	indexData, err := readSection(file, ft.IndexOffset, ft.IndexLen, ft.IndexCRC)
	if err != nil {
		return nil, fmt.Errorf("%s: index: %w", path, err)
	}

	r = &Reader{
		path:   path,
		file:   file,
		header: header,
		dims:   make(map[string]int),
		vars:   make(map[string]int),
		blocks: make(map[string][]blockRef),
	}
	if err := json.Unmarshal(schemaData, &r.schema); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding schema: %v", ErrCorruptFile, path, err)
	}
	for i, d := range r.schema.Dims {
		r.dims[d.Name] = i
	}
	for i, v := range r.schema.Vars {
		r.vars[v.Name] = i
	}
	refs, err := decodeIndex(indexData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, ref := range refs {
		if _, ok := r.vars[ref.Var]; !ok {
			return nil, fmt.Errorf("%w: %s: index references unknown variable %q", ErrCorruptFile, path, ref.Var)
		}
		r.blocks[ref.Var] = append(r.blocks[ref.Var], ref)
	}
	return r, nil
}

func readSection(f *os.File, offset uint64, length, crc uint32) ([]byte, error) {
	data := make([]byte, length)
	if _, err := f.ReadAt(data, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if crc32.ChecksumIEEE(data) != crc {
		return nil, fmt.Errorf("%w: section checksum mismatch", ErrCorruptFile)
	}
	return data, nil
}

// Close releases the file handle.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Reader) Path() string { return r.path }

// Codec is the block codec the writer was configured with.
func (r *Reader) Codec() core.CompressionType { return r.header.Codec }

// Dims returns the dimensions in definition order.
func (r *Reader) Dims() []Dim {
	return append([]Dim(nil), r.schema.Dims...)
}

// Dim returns one dimension.
func (r *Reader) Dim(name string) (Dim, bool) {
	i, ok := r.dims[name]
	if !ok {
		return Dim{}, false
	}
	return r.schema.Dims[i], true
}

// Len returns a dimension's extent, 0 if it does not exist.
func (r *Reader) Len(name string) int {
	d, _ := r.Dim(name)
	return d.Len
}

// Vars returns copies of the variable definitions in definition order.
func (r *Reader) Vars() []Var {
	out := make([]Var, len(r.schema.Vars))
	for i, v := range r.schema.Vars {
		out[i] = v.Clone()
	}
	return out
}

// Var returns a copy of one variable definition.
func (r *Reader) Var(name string) (Var, bool) {
	i, ok := r.vars[name]
	if !ok {
		return Var{}, false
	}
	return r.schema.Vars[i].Clone(), true
}

// Attrs returns a copy of the global attributes.
func (r *Reader) Attrs() Attributes { return r.schema.Attrs.Clone() }

// Shape returns the extent of each dimension of a variable.
func (r *Reader) Shape(name string) ([]int, error) {
	v, ok := r.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	shape := make([]int, len(v.Dims))
	for i, d := range v.Dims {
		shape[i] = r.Len(d)
	}
	return shape, nil
}

func (r *Reader) rows(v Var) (rows, rowSize int) {
	if len(v.Dims) == 0 {
		return 1, 1
	}
	rowSize = 1
	for _, d := range v.Dims[1:] {
		rowSize *= r.Len(d)
	}
	return r.Len(v.Dims[0]), rowSize
}

// ReadVar reads every element of a variable.
func (r *Reader) ReadVar(name string) ([]float64, error) {
	v, ok := r.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	rows, _ := r.rows(v)
	return r.ReadSlice(name, 0, rows)
}

// ReadSlice reads rows [start, start+count) of the first dimension.
// Elements never written read as the fill value (NaN when none is set).
func (r *Reader) ReadSlice(name string, start, count int) ([]float64, error) {
	if r.file == nil {
		return nil, fmt.Errorf("ncfile: %s is closed", r.path)
	}
	v, ok := r.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	rows, rowSize := r.rows(v)
	if start < 0 || count < 0 || start+count > rows {
		return nil, fmt.Errorf("%w: %q rows %d..%d outside 0..%d", ErrShapeMismatch, name, start, start+count, rows)
	}
	out := make([]float64, count*rowSize)
	fill := v.Fill()
	for i := range out {
		out[i] = fill
	}

	refs := r.blocks[name]
	// Later blocks win where writes overlapped.
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Offset < refs[j].Offset })
	end := uint64(start + count)
	for _, ref := range refs {
		if ref.Start >= end || ref.Start+ref.Count <= uint64(start) {
			continue
		}
		values, err := r.readBlock(v, ref, rowSize)
		if err != nil {
			return nil, err
		}
		from := max(ref.Start, uint64(start))
		to := min(ref.Start+ref.Count, end)
		copy(out[(from-uint64(start))*uint64(rowSize):], values[(from-ref.Start)*uint64(rowSize):(to-ref.Start)*uint64(rowSize)])
	}
	return out, nil
}

func (r *Reader) readBlock(v Var, ref blockRef, rowSize int) ([]float64, error) {
	raw := make([]byte, ref.Length)
	if _, err := r.file.ReadAt(raw, int64(ref.Offset)); err != nil {
		return nil, fmt.Errorf("%w: %s: reading block of %q at %d: %v", ErrCorruptFile, r.path, v.Name, ref.Offset, err)
	}
	if len(raw) < BlockHeaderSize {
		return nil, fmt.Errorf("%w: %s: short block at %d", ErrCorruptFile, r.path, ref.Offset)
	}
	ct := core.CompressionType(raw[0])
	payload := raw[BlockHeaderSize:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(raw[1:BlockHeaderSize]) {
		return nil, fmt.Errorf("%w: %s: variable %q at offset %d", ErrCorruptBlock, r.path, v.Name, ref.Offset)
	}
	dec, err := compressors.ForDecode(ct)
	if err != nil {
		return nil, fmt.Errorf("%s: block of %q: %w", r.path, v.Name, err)
	}
	data, err := dec.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: block of %q: %w", r.path, v.Name, err)
	}
	want := int(ref.Count) * rowSize
	if len(data) != want*v.DType.Size() {
		return nil, fmt.Errorf("%w: %s: block of %q holds %d bytes, want %d", ErrCorruptFile, r.path, v.Name, len(data), want*v.DType.Size())
	}
	return decodeValues(make([]float64, want), v.DType, data), nil
}

// BlockCodecs reports the codecs used by each block of a variable, in
// file order. Mainly useful to verify compression settings.
func (r *Reader) BlockCodecs(name string) ([]core.CompressionType, error) {
	refs := r.blocks[name]
	out := make([]core.CompressionType, 0, len(refs))
	for _, ref := range refs {
		var b [1]byte
		if _, err := r.file.ReadAt(b[:], int64(ref.Offset)); err != nil {
			return nil, err
		}
		out = append(out, core.CompressionType(b[0]))
	}
	return out, nil
}
