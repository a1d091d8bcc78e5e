//go:build cgo && !nonetcdf

package netcdf4

/*
#include <netcdf.h>
*/
import "C"

import (
	"fmt"
	"slices"

	"github.com/INLOpen/cmip6kit/ncfile"

	"github.com/fhs/go-netcdf/netcdf"
)

// reader is an open NetCDF file. Definitions are loaded once at open;
// data are read on demand.
type reader struct {
	path   string
	ds     netcdf.Dataset
	id     C.int
	open   bool
	dims   []ncfile.Dim
	vars   []ncfile.Var
	attrs  ncfile.Attributes
	varIDs map[string]C.int
}

func open(path string) (*reader, error) {
	lib.Lock()
	defer lib.Unlock()
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r := &reader{path: path, ds: ds, id: ncid(ds), open: true, varIDs: make(map[string]C.int)}
	if err := r.load(); err != nil {
		ds.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *reader) load() error {
	var ndims C.int
	if err := check(C.nc_inq_ndims(r.id, &ndims)); err != nil {
		return err
	}
	unlimited := make([]C.int, max(int(ndims), 1))
	var nunlim C.int
	if err := check(C.nc_inq_unlimdims(r.id, &nunlim, &unlimited[0])); err != nil {
		return err
	}
	dimIDs := make([]C.int, max(int(ndims), 1))
	if err := check(C.nc_inq_dimids(r.id, &ndims, &dimIDs[0], 0)); err != nil {
		return err
	}
	for _, did := range dimIDs[:ndims] {
		var name nameBuf
		var length C.size_t
		if err := check(C.nc_inq_dim(r.id, did, name.ptr(), &length)); err != nil {
			return err
		}
		r.dims = append(r.dims, ncfile.Dim{
			Name:      name.String(),
			Len:       int(length),
			Unlimited: slices.Contains(unlimited[:nunlim], did),
		})
	}

	attrs, err := readAttrs(r.id, C.NC_GLOBAL, r.ds.Attr)
	if err != nil {
		return err
	}
	r.attrs = attrs

	var nvars C.int
	if err := check(C.nc_inq_nvars(r.id, &nvars)); err != nil {
		return err
	}
	for vid := C.int(0); vid < nvars; vid++ {
		var name nameBuf
		if err := check(C.nc_inq_varname(r.id, vid, name.ptr())); err != nil {
			return err
		}
		v, err := r.loadVar(vid, name.String())
		if err != nil {
			return fmt.Errorf("variable %q: %w", name.String(), err)
		}
		r.vars = append(r.vars, v)
		r.varIDs[v.Name] = vid
	}
	return nil
}

func (r *reader) loadVar(vid C.int, name string) (ncfile.Var, error) {
	nv, err := r.ds.Var(name)
	if err != nil {
		return ncfile.Var{}, err
	}
	t, err := nv.Type()
	if err != nil {
		return ncfile.Var{}, err
	}
	dtype, ok := dtypeOf(t)
	if !ok {
		return ncfile.Var{}, fmt.Errorf("unsupported type %v", t)
	}
	dims, err := nv.Dims()
	if err != nil {
		return ncfile.Var{}, err
	}
	v := ncfile.Var{Name: name, DType: dtype}
	for _, d := range dims {
		dn, err := d.Name()
		if err != nil {
			return ncfile.Var{}, err
		}
		v.Dims = append(v.Dims, dn)
	}

	if len(dims) > 0 {
		storage := C.int(C.NC_CONTIGUOUS)
		chunks := make([]C.size_t, len(dims))
		if check(C.nc_inq_var_chunking(r.id, vid, &storage, &chunks[0])) == nil && storage == C.NC_CHUNKED {
			for _, c := range chunks {
				v.ChunkSizes = append(v.ChunkSizes, int(c))
			}
		} else {
			v.Contiguous = true
		}
		// Classic files have no chunks or filters; where the inquiry
		// fails the variable stays contiguous and uncompressed.
		var shuffle, deflate, level C.int
		if check(C.nc_inq_var_deflate(r.id, vid, &shuffle, &deflate, &level)) == nil && deflate != 0 {
			v.CompressionLevel = int(level)
		}
	}

	attrs, err := readAttrs(r.id, vid, nv.Attr)
	if err != nil {
		return ncfile.Var{}, err
	}
	if fill, ok := attrs.Get(ncfile.FillValueAttr); ok && len(fill.Values) > 0 {
		v.FillValue = ncfile.Float(fill.Values[0])
		attrs = attrs.Without(ncfile.FillValueAttr)
	}
	v.Attrs = attrs
	return v, nil
}

func (r *reader) Path() string { return r.path }

func (r *reader) Dims() []ncfile.Dim { return slices.Clone(r.dims) }

func (r *reader) Dim(name string) (ncfile.Dim, bool) {
	for _, d := range r.dims {
		if d.Name == name {
			return d, true
		}
	}
	return ncfile.Dim{}, false
}

func (r *reader) Len(name string) int {
	d, _ := r.Dim(name)
	return d.Len
}

func (r *reader) Vars() []ncfile.Var {
	out := make([]ncfile.Var, len(r.vars))
	for i, v := range r.vars {
		out[i] = v.Clone()
	}
	return out
}

func (r *reader) Var(name string) (ncfile.Var, bool) {
	for _, v := range r.vars {
		if v.Name == name {
			return v.Clone(), true
		}
	}
	return ncfile.Var{}, false
}

func (r *reader) Attrs() ncfile.Attributes { return r.attrs.Clone() }

func (r *reader) ReadVar(name string) ([]float64, error) {
	v, ok := r.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ncfile.ErrUnknownVar, name)
	}
	if len(v.Dims) == 0 {
		return r.ReadSlice(name, 0, 1)
	}
	return r.ReadSlice(name, 0, r.Len(v.Dims[0]))
}

// ReadSlice reads rows [start, start+count) of the first dimension,
// converted to float64 by libnetcdf. A scalar has a single row.
func (r *reader) ReadSlice(name string, start, count int) ([]float64, error) {
	lib.Lock()
	defer lib.Unlock()
	if !r.open {
		return nil, fmt.Errorf("netcdf4: %s is closed", r.path)
	}
	v, ok := r.Var(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ncfile.ErrUnknownVar, name)
	}
	rows, rowSize := 1, 1
	if len(v.Dims) > 0 {
		rows = r.Len(v.Dims[0])
		for _, d := range v.Dims[1:] {
			rowSize *= r.Len(d)
		}
	}
	if start < 0 || count < 0 || start+count > rows {
		return nil, fmt.Errorf("%w: %q rows %d..%d outside 0..%d", ncfile.ErrShapeMismatch, name, start, start+count, rows)
	}
	out := make([]float64, count*rowSize)
	if len(out) == 0 {
		return out, nil
	}
	vid := r.varIDs[name]
	if len(v.Dims) == 0 {
		if err := check(C.nc_get_var_double(r.id, vid, doubles(out))); err != nil {
			return nil, fmt.Errorf("%s: reading %q: %w", r.path, name, err)
		}
		return out, nil
	}
	starts := make([]int, len(v.Dims))
	counts := make([]int, len(v.Dims))
	starts[0], counts[0] = start, count
	for i, d := range v.Dims[1:] {
		counts[i+1] = r.Len(d)
	}
	cs, cc := sizes(starts), sizes(counts)
	if err := check(C.nc_get_vara_double(r.id, vid, &cs[0], &cc[0], doubles(out))); err != nil {
		return nil, fmt.Errorf("%s: reading %q rows %d..%d: %w", r.path, name, start, start+count, err)
	}
	return out, nil
}

func (r *reader) Close() error {
	lib.Lock()
	defer lib.Unlock()
	if !r.open {
		return nil
	}
	r.open = false
	return r.ds.Close()
}
