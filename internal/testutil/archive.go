// Package testutil builds small synthetic CMIP6 archives for tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/yearmonth"
	"github.com/google/uuid"
)

// Grid extent of every synthetic chunk.
const (
	NLat = 2
	NLon = 3
)

// TimeOrigin is the reference month of the synthetic time coordinate.
var TimeOrigin = yearmonth.New(1850, 1)

// Dataset returns a historical dataset identity of a well-behaved source.
func Dataset() cmip6.DatasetID {
	return cmip6.DatasetID{
		Activity:    "CMIP",
		Institution: "NCAR",
		Source:      "CESM2",
		Experiment:  "historical",
		Variant:     "r1i1p1f1",
		Table:       "Amon",
		Variable:    "tas",
		Grid:        "gn",
		Version:     "v20190308",
	}
}

// EcEarth3 returns an EC-Earth3 historical dataset identity for variant.
func EcEarth3(variant string) cmip6.DatasetID {
	id := Dataset()
	id.Institution = "EC-Earth-Consortium"
	id.Source = "EC-Earth3"
	id.Variant = variant
	id.Grid = "gr"
	id.Version = "v20200310"
	return id
}

// Scenario returns an ssp585 dataset identity.
func Scenario() cmip6.DatasetID {
	id := Dataset()
	id.Activity = "ScenarioMIP"
	id.Experiment = "ssp585"
	return id
}

// DatasetDir creates and returns <root>/<id.RelDir()>.
func DatasetDir(t testing.TB, root string, id cmip6.DatasetID) string {
	t.Helper()
	dir := filepath.Join(root, id.RelDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating dataset dir: %v", err)
	}
	return dir
}

// ChunkName is the chunk file name of id covering [start, end].
func ChunkName(id cmip6.DatasetID, start, end string) string {
	return cmip6.ChunkName{
		Variable:   id.Variable,
		Table:      id.Table,
		Source:     id.Source,
		Experiment: id.Experiment,
		Variant:    id.Variant,
		Grid:       id.Grid,
		Range:      yearmonth.Range{Start: yearmonth.MustParse(start), End: yearmonth.MustParse(end)},
	}.String()
}

// ChunkOption adjusts what WriteChunk produces.
type ChunkOption func(*chunkSpec)

type chunkSpec struct {
	steps  int
	times  []float64
	levels int
	codec  core.CompressionType
	level  int
	format ncfile.Format
}

// WithSteps overrides the number of time steps (default: months in range).
func WithSteps(n int) ChunkOption { return func(s *chunkSpec) { s.steps = n } }

// WithTimes sets explicit time coordinate values; the step count follows.
func WithTimes(times ...float64) ChunkOption {
	return func(s *chunkSpec) {
		s.times = append([]float64(nil), times...)
		s.steps = len(times)
	}
}

// WithLevels adds a "plev" dimension of n levels to the data variable.
func WithLevels(n int) ChunkOption { return func(s *chunkSpec) { s.levels = n } }

// WithCompression sets the source codec and the data variable's level.
func WithCompression(ct core.CompressionType, level int) ChunkOption {
	return func(s *chunkSpec) { s.codec, s.level = ct, level }
}

// WithFormat writes the chunk in f instead of the container format.
func WithFormat(f ncfile.Format) ChunkOption { return func(s *chunkSpec) { s.format = f } }

// MonthTime is the synthetic time coordinate of ym: months since TimeOrigin.
func MonthTime(ym yearmonth.YearMonth) float64 {
	return float64(ym.Index() - TimeOrigin.Index())
}

// Value is the synthetic data value of one grid cell at time coordinate t.
func Value(t float64, cell int) float64 {
	return t*100 + float64(cell)
}

// WriteChunk writes a chunk file named after id and [start, end] into dir
// and returns its path. Time values are MonthTime of each month from start.
func WriteChunk(t testing.TB, dir string, id cmip6.DatasetID, start, end string, opts ...ChunkOption) string {
	t.Helper()
	from, to := yearmonth.MustParse(start), yearmonth.MustParse(end)
	spec := chunkSpec{steps: yearmonth.Range{Start: from, End: to}.Months(), codec: core.CompressionDeflate, level: 1, format: ncfile.Container{}}
	for _, o := range opts {
		o(&spec)
	}
	if spec.times == nil {
		spec.times = make([]float64, spec.steps)
		for i := range spec.times {
			spec.times[i] = MonthTime(from.AddMonths(i))
		}
	}

	path := filepath.Join(dir, ChunkName(id, start, end))
	w, err := spec.format.Create(ncfile.WriterOptions{Path: path, Codec: spec.codec})
	if err != nil {
		t.Fatalf("creating chunk %s: %v", path, err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			w.Abort()
			t.Fatalf("writing chunk %s: %v", path, err)
		}
	}

	must(w.AddDim("time", 0))
	must(w.AddDim("bnds", 2))
	dataDims := []string{"time"}
	chunks := []int{1}
	if spec.levels > 0 {
		must(w.AddDim("plev", spec.levels))
		dataDims = append(dataDims, "plev")
		chunks = append(chunks, 1)
	}
	must(w.AddDim("lat", NLat))
	must(w.AddDim("lon", NLon))
	dataDims = append(dataDims, "lat", "lon")
	chunks = append(chunks, NLat, NLon)

	must(w.AddVar(ncfile.Var{
		Name: "time", DType: ncfile.Float64, Dims: []string{"time"}, ChunkSizes: []int{512},
		Attrs: ncfile.Attributes{{Name: "units", Text: "months since 1850-01-01"}, {Name: "calendar", Text: "noleap"}},
	}))
	must(w.AddVar(ncfile.Var{Name: "time_bnds", DType: ncfile.Float64, Dims: []string{"time", "bnds"}, ChunkSizes: []int{1, 2}, CompressionLevel: 1}))
	if spec.levels > 0 {
		must(w.AddVar(ncfile.Var{Name: "plev", DType: ncfile.Float64, Dims: []string{"plev"}, Contiguous: true}))
	}
	must(w.AddVar(ncfile.Var{Name: "lat", DType: ncfile.Float64, Dims: []string{"lat"}, Contiguous: true}))
	must(w.AddVar(ncfile.Var{Name: "lon", DType: ncfile.Float64, Dims: []string{"lon"}, Contiguous: true}))
	must(w.AddVar(ncfile.Var{Name: "height", DType: ncfile.Float64, Contiguous: true}))
	must(w.AddVar(ncfile.Var{
		Name: id.Variable, DType: ncfile.Float32, Dims: dataDims, ChunkSizes: chunks,
		CompressionLevel: spec.level, FillValue: ncfile.Float(1e20),
		Attrs: ncfile.Attributes{{Name: "units", Text: "K"}},
	}))
	must(w.SetAttrs(ncfile.Attributes{
		{Name: "Conventions", Text: "CF-1.7 CMIP-6.2"},
		{Name: "source_id", Text: id.Source},
		{Name: "experiment_id", Text: id.Experiment},
		{Name: "variant_label", Text: id.Variant},
		{Name: "tracking_id", Text: "hdl:21.14100/" + uuid.NewString()},
		{Name: "history", Text: "2019-03-08T00:00:00Z ; CMOR rewrote data to be consistent with CMIP6"},
	}))

	bnds := make([]float64, 0, 2*len(spec.times))
	for _, tv := range spec.times {
		bnds = append(bnds, tv, tv+1)
	}
	cells := NLat * NLon * max(spec.levels, 1)
	data := make([]float64, 0, cells*len(spec.times))
	for _, tv := range spec.times {
		for c := 0; c < cells; c++ {
			data = append(data, Value(tv, c))
		}
	}

	must(w.WriteSlice("time", 0, spec.times))
	must(w.WriteSlice("time_bnds", 0, bnds))
	if spec.levels > 0 {
		levels := make([]float64, spec.levels)
		for i := range levels {
			levels[i] = 100000 - float64(i)*10000
		}
		must(w.WriteSlice("plev", 0, levels))
	}
	must(w.WriteSlice("lat", 0, []float64{-45, 45}))
	must(w.WriteSlice("lon", 0, []float64{0, 120, 240}))
	must(w.WriteSlice("height", 0, []float64{2}))
	must(w.WriteSlice(id.Variable, 0, data))
	if err := w.Finish(context.Background()); err != nil {
		t.Fatalf("finishing chunk %s: %v", path, err)
	}
	return path
}

// WriteYearlyChunks writes one chunk per calendar year from firstYear to
// lastYear inclusive and returns their paths in order.
func WriteYearlyChunks(t testing.TB, dir string, id cmip6.DatasetID, firstYear, lastYear int, opts ...ChunkOption) []string {
	t.Helper()
	var paths []string
	for y := firstYear; y <= lastYear; y++ {
		start := yearmonth.New(y, 1).String()
		end := yearmonth.New(y, 12).String()
		paths = append(paths, WriteChunk(t, dir, id, start, end, opts...))
	}
	return paths
}

// Touch creates an empty file (for tests that only look at names).
func Touch(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}
