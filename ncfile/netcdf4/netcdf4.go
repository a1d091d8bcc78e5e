//go:build cgo && !nonetcdf

package netcdf4

/*
#cgo pkg-config: netcdf
#include <stdlib.h>
#include <netcdf.h>
*/
import "C"

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/INLOpen/cmip6kit/ncfile"

	"github.com/fhs/go-netcdf/netcdf"
)

// lib guards every call into libnetcdf.
var lib sync.Mutex

func init() {
	ncfile.Register(Format{})
}

// Format is the libnetcdf-backed ncfile.Format.
type Format struct{}

func (Format) Name() string { return ncfile.DefaultFormat }

func (Format) Open(path string) (ncfile.Dataset, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (Format) Create(opts ncfile.WriterOptions) (ncfile.Builder, error) {
	b, err := create(opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// check turns a libnetcdf status into an error.
func check(status C.int) error {
	if status == C.NC_NOERR {
		return nil
	}
	return fmt.Errorf("netcdf: %s", C.GoString(C.nc_strerror(status)))
}

func withName(name string, fn func(*C.char) C.int) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return check(fn(cname))
}

// ncid recovers the C handle of ds for the calls go-netcdf does not wrap.
func ncid(ds netcdf.Dataset) C.int { return C.int(ds) }

func varID(id C.int, name string) (C.int, error) {
	var v C.int
	err := withName(name, func(c *C.char) C.int { return C.nc_inq_varid(id, c, &v) })
	return v, err
}

// nameBuf holds one libnetcdf object name.
type nameBuf [C.NC_MAX_NAME + 1]C.char

func (b *nameBuf) ptr() *C.char { return &b[0] }
func (b *nameBuf) String() string { return C.GoString(&b[0]) }

func dtypeOf(t netcdf.Type) (ncfile.DType, bool) {
	switch t {
	case netcdf.DOUBLE:
		return ncfile.Float64, true
	case netcdf.FLOAT:
		return ncfile.Float32, true
	case netcdf.INT:
		return ncfile.Int32, true
	case netcdf.SHORT:
		return ncfile.Int16, true
	default:
		return 0, false
	}
}

func typeOf(d ncfile.DType) (netcdf.Type, error) {
	switch d {
	case ncfile.Float64:
		return netcdf.DOUBLE, nil
	case ncfile.Float32:
		return netcdf.FLOAT, nil
	case ncfile.Int32:
		return netcdf.INT, nil
	case ncfile.Int16:
		return netcdf.SHORT, nil
	default:
		return 0, fmt.Errorf("netcdf4: unsupported dtype %d", d)
	}
}

func doubles(data []float64) *C.double {
	if len(data) == 0 {
		return nil
	}
	return (*C.double)(unsafe.Pointer(&data[0]))
}

func sizes(values []int) []C.size_t {
	out := make([]C.size_t, len(values))
	for i, v := range values {
		out[i] = C.size_t(v)
	}
	return out
}

// readAttrs reads every attribute of varid (C.NC_GLOBAL for the file).
// String and unsigned attributes have no counterpart and are skipped.
func readAttrs(id, varid C.int, handle func(string) netcdf.Attr) (ncfile.Attributes, error) {
	var n C.int
	if err := check(C.nc_inq_varnatts(id, varid, &n)); err != nil {
		return nil, err
	}
	out := make(ncfile.Attributes, 0, int(n))
	for i := C.int(0); i < n; i++ {
		var name nameBuf
		if err := check(C.nc_inq_attname(id, varid, i, name.ptr())); err != nil {
			return nil, err
		}
		a := handle(name.String())
		t, err := a.Type()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name(), err)
		}
		length, err := a.Len()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name(), err)
		}
		if t == netcdf.CHAR {
			buf := make([]byte, length)
			if length > 0 {
				if err := a.ReadBytes(buf); err != nil {
					return nil, fmt.Errorf("attribute %q: %w", a.Name(), err)
				}
			}
			out = append(out, ncfile.Attribute{Name: a.Name(), Text: strings.TrimRight(string(buf), "\x00")})
			continue
		}
		dt, ok := dtypeOf(t)
		if !ok {
			continue
		}
		values := make([]float64, length)
		if length > 0 {
			err := withName(a.Name(), func(c *C.char) C.int { return C.nc_get_att_double(id, varid, c, doubles(values)) })
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", a.Name(), err)
			}
		}
		out = append(out, ncfile.Attribute{Name: a.Name(), Values: values, DType: dt})
	}
	return out, nil
}

// writeAttr stores attr through a. Numeric values are written as dtype,
// or as the attribute's own DType when dtype is zero.
func writeAttr(id, varid C.int, a netcdf.Attr, attr ncfile.Attribute, dtype ncfile.DType) error {
	if len(attr.Values) == 0 {
		if attr.Text == "" {
			return withName(attr.Name, func(c *C.char) C.int { return C.nc_put_att_text(id, varid, c, 0, nil) })
		}
		return a.WriteBytes([]byte(attr.Text))
	}
	if dtype == 0 {
		dtype = attr.DType
	}
	switch dtype {
	case ncfile.Float32:
		vals := make([]float32, len(attr.Values))
		for i, v := range attr.Values {
			vals[i] = float32(v)
		}
		return a.WriteFloat32s(vals)
	case ncfile.Int32:
		vals := make([]int32, len(attr.Values))
		for i, v := range attr.Values {
			vals[i] = int32(v)
		}
		return a.WriteInt32s(vals)
	case ncfile.Int16:
		vals := make([]int16, len(attr.Values))
		for i, v := range attr.Values {
			vals[i] = int16(v)
		}
		return a.WriteInt16s(vals)
	default:
		return a.WriteFloat64s(attr.Values)
	}
}
