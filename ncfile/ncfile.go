// Package ncfile is the array-file layer used for chunk and merged dataset
// files: named dimensions, typed variables with optional chunking and
// compression, and global and per-variable attributes.
//
// Formats register themselves by name, the way database/sql drivers do.
// The netcdf4 subpackage provides real NetCDF files through libnetcdf; the
// in-tree "container" format needs no C library and backs the tests.
package ncfile

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultFormat is the format used for archive files.
const DefaultFormat = "netcdf4"

// Dataset is an open array file.
type Dataset interface {
	Path() string
	// Dims returns the dimensions in definition order.
	Dims() []Dim
	Dim(name string) (Dim, bool)
	// Len returns a dimension's extent, 0 if it does not exist.
	Len(name string) int
	// Vars returns copies of the variable definitions in definition order.
	Vars() []Var
	Var(name string) (Var, bool)
	Attrs() Attributes
	ReadVar(name string) ([]float64, error)
	// ReadSlice reads rows [start, start+count) of the first dimension.
	ReadSlice(name string, start, count int) ([]float64, error)
	Close() error
}

// Builder writes a new array file. Data go to a temporary file that
// Finish moves into place; Abort discards it.
type Builder interface {
	Path() string
	// AddDim defines a dimension. A length of 0 makes it unlimited.
	AddDim(name string, length int) error
	AddVar(v Var) error
	SetAttrs(attrs Attributes) error
	// WriteSlice stores data for rows starting at start of the variable's
	// first dimension.
	WriteSlice(name string, start int, data []float64) error
	Finish(ctx context.Context) error
	Abort() error
}

// Format opens and creates files of one on-disk format.
type Format interface {
	Name() string
	Open(path string) (Dataset, error)
	Create(opts WriterOptions) (Builder, error)
}

var (
	formatsMu sync.RWMutex
	formats   = make(map[string]Format)
)

// Register makes a format available by name. It panics on a duplicate.
func Register(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	if _, dup := formats[f.Name()]; dup {
		panic("ncfile: Register called twice for format " + f.Name())
	}
	formats[f.Name()] = f
}

// Lookup returns the format registered as name.
func Lookup(name string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownFormat, name, formatNames())
	}
	return f, nil
}

// Formats lists the registered format names.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	return formatNames()
}

func formatNames() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the DefaultFormat. When it was not compiled in, the
// returned format fails every Open and Create with ErrUnknownFormat.
func Default() Format {
	f, err := Lookup(DefaultFormat)
	if err != nil {
		return missingFormat{name: DefaultFormat, err: err}
	}
	return f
}

type missingFormat struct {
	name string
	err  error
}

func (m missingFormat) Name() string                          { return m.name }
func (m missingFormat) Open(string) (Dataset, error)          { return nil, m.err }
func (m missingFormat) Create(WriterOptions) (Builder, error) { return nil, m.err }

func init() {
	Register(Container{})
}
