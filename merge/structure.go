package merge

import (
	"fmt"
	"slices"

	"github.com/INLOpen/cmip6kit/ncfile"
)

// TimeDim is the record dimension shared by all chunks of a dataset.
const TimeDim = "time"

// singleStepDims get a chunk size of one along themselves unless overridden.
var singleStepDims = []string{"time", "plev", "lev"}

// Layout controls how variable definitions are rewritten in merged files.
type Layout struct {
	// MinDeflateLevel is the lowest compression level of variables with
	// more than one dimension.
	MinDeflateLevel int
	// ChunkOverrides maps a dimension name to its chunk size.
	ChunkOverrides map[string]int
}

// chunkSizes returns the block shape of a chunked variable.
func (l Layout) chunkSizes(v ncfile.Var, dimLen func(string) int) []int {
	sizes := make([]int, len(v.Dims))
	for i, d := range v.Dims {
		switch {
		case l.ChunkOverrides[d] > 0:
			sizes[i] = l.ChunkOverrides[d]
		case slices.Contains(singleStepDims, d):
			sizes[i] = 1
		default:
			sizes[i] = dimLen(d)
		}
	}
	return sizes
}

// compressionLevel applies the level rules: one-dimensional and contiguous
// variables are never compressed, the rest get at least MinDeflateLevel.
func (l Layout) compressionLevel(v ncfile.Var) int {
	if v.Contiguous || v.NDim() <= 1 {
		return 0
	}
	return max(v.CompressionLevel, l.MinDeflateLevel)
}

// Define copies the dimensions and variable definitions of src into w.
// The time dimension becomes unlimited. It returns the variables indexed
// by time and the remaining ones.
func (l Layout) Define(src ncfile.Dataset, w ncfile.Builder) (timeVars, staticVars []ncfile.Var, err error) {
	dimLen := src.Len
	for _, d := range src.Dims() {
		n := d.Len
		if d.Unlimited || d.Name == TimeDim {
			n = 0
		}
		if err := w.AddDim(d.Name, n); err != nil {
			return nil, nil, err
		}
	}
	for _, v := range src.Vars() {
		out := v.Clone()
		if !v.Contiguous {
			out.ChunkSizes = l.chunkSizes(v, dimLen)
		}
		out.CompressionLevel = l.compressionLevel(v)
		if err := w.AddVar(out); err != nil {
			return nil, nil, err
		}
		switch i := slices.Index(v.Dims, TimeDim); {
		case i == 0:
			timeVars = append(timeVars, out)
		case i > 0:
			return nil, nil, fmt.Errorf("variable %q: %s must be the first dimension, got %v", v.Name, TimeDim, v.Dims)
		default:
			staticVars = append(staticVars, out)
		}
	}
	return timeVars, staticVars, nil
}

// copyStatic writes the non-time variables of src unchanged.
func copyStatic(src ncfile.Dataset, w ncfile.Builder, vars []ncfile.Var) error {
	for _, v := range vars {
		data, err := src.ReadVar(v.Name)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		if err := w.WriteSlice(v.Name, 0, data); err != nil {
			return err
		}
	}
	return nil
}

// dimLens records the extent of every dimension of r.
func dimLens(r ncfile.Dataset) map[string]int {
	out := make(map[string]int)
	for _, d := range r.Dims() {
		out[d.Name] = d.Len
	}
	return out
}

// copyTimeSteps writes count steps of every time variable of src, starting
// at step from, to rows starting at cursor. Each variable must have the
// same dimensions as in the output, with the extents in dims.
func copyTimeSteps(src ncfile.Dataset, w ncfile.Builder, vars []ncfile.Var, dims map[string]int, from, count, cursor int) error {
	for _, v := range vars {
		sv, ok := src.Var(v.Name)
		if !ok {
			return fmt.Errorf("%s: %w: %q", src.Path(), ncfile.ErrUnknownVar, v.Name)
		}
		if !slices.Equal(sv.Dims, v.Dims) {
			return fmt.Errorf("%s: %w: %q has dimensions %v, want %v", src.Path(), ncfile.ErrShapeMismatch, v.Name, sv.Dims, v.Dims)
		}
		for _, d := range sv.Dims[1:] {
			if n := src.Len(d); n != dims[d] {
				return fmt.Errorf("%s: %w: dimension %q of %q has length %d, want %d", src.Path(), ncfile.ErrShapeMismatch, d, v.Name, n, dims[d])
			}
		}
		data, err := src.ReadSlice(v.Name, from, count)
		if err != nil {
			return err
		}
		if err := w.WriteSlice(v.Name, cursor, data); err != nil {
			return fmt.Errorf("%s: %w", src.Path(), err)
		}
	}
	return nil
}
