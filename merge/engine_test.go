package merge

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/internal/testutil"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/yearmonth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func newTestEngine(t *testing.T, mutate ...func(*Options)) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts := Options{
		Codec:   core.CompressionDeflate,
		Layout:  Layout{MinDeflateLevel: 4},
		Format:  ncfile.Container{},
		Console: logging.NewConsole(&out),
		Now:     func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewEngine(opts), &out
}

func datasetWithChunks(t *testing.T, id cmip6.DatasetID, ranges ...string) (string, []string) {
	t.Helper()
	dir := testutil.DatasetDir(t, filepath.Join(t.TempDir(), "archive"), id)
	var files []string
	for _, r := range ranges {
		files = append(files, testutil.WriteChunk(t, dir, id, r[:6], r[7:]))
	}
	return dir, files
}

func openOutput(t *testing.T, path string) *ncfile.Reader {
	t.Helper()
	r, err := ncfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCombine_DefaultFormatMissing(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185001-185012", "185101-185112")
	// No netcdf4 format is linked into this test binary.
	e := NewEngine(Options{Now: func() time.Time { return fixedNow }})
	_, err := e.Combine(context.Background(), files, filepath.Join(t.TempDir(), "merged.nc"))
	assert.ErrorIs(t, err, ncfile.ErrUnknownFormat)
}

func TestCombine_Contiguous(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185001-185012", "185101-185112", "185201-185212")
	e, _ := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 0, res.Offset)
	assert.Equal(t, 36, res.TimeLen)
	assert.Equal(t, uint64(36), res.Written.GetCardinality())
	assert.Empty(t, res.Gaps)

	r := openOutput(t, output)
	assert.Equal(t, 36, r.Len("time"))
	times, err := r.ReadVar("time")
	require.NoError(t, err)
	for i, v := range times {
		assert.Equal(t, float64(i), v)
	}

	step, err := r.ReadSlice("tas", 13, 1)
	require.NoError(t, err)
	for cell, v := range step {
		assert.Equal(t, testutil.Value(13, cell), v)
	}
	height, err := r.ReadVar("height")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, height)

	attrs := r.Attrs()
	_, hasTracking := attrs.Get("tracking_id")
	assert.False(t, hasTracking)
	assert.Equal(t, fmt.Sprintf(HistoryFormat, fixedNow.Format(time.ANSIC)), attrs.Text("history"))
	assert.Equal(t, "CESM2", attrs.Text("source_id"))
}

func TestCombine_Layout(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	files := []string{
		testutil.WriteChunk(t, dir, id, "185001", "185012", testutil.WithLevels(3)),
		testutil.WriteChunk(t, dir, id, "185101", "185112", testutil.WithLevels(3)),
	}
	e, _ := newTestEngine(t, func(o *Options) { o.Layout.ChunkOverrides = map[string]int{"lat": 1} })
	output := filepath.Join(t.TempDir(), "merged.nc")
	_, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)

	r := openOutput(t, output)
	tas, ok := r.Var("tas")
	require.True(t, ok)
	assert.Equal(t, []int{1, 1, 1, testutil.NLon}, tas.ChunkSizes)
	assert.Equal(t, 4, tas.CompressionLevel)
	assert.Equal(t, 1e20, tas.Fill())

	bnds, _ := r.Var("time_bnds")
	assert.Equal(t, []int{1, 2}, bnds.ChunkSizes)
	assert.Equal(t, 4, bnds.CompressionLevel)

	tv, _ := r.Var("time")
	assert.Equal(t, 0, tv.CompressionLevel)
	lat, _ := r.Var("lat")
	assert.True(t, lat.Contiguous)
	assert.Equal(t, 0, lat.CompressionLevel)

	dim, ok := r.Dim("time")
	require.True(t, ok)
	assert.True(t, dim.Unlimited)
	assert.Equal(t, 24, dim.Len)
}

func TestCombine_LateFirstFileLeavesLeadingGap(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185002-185012", "185101-185112")
	e, out := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Offset)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 24, res.TimeLen)
	assert.False(t, res.Written.Contains(0))
	assert.True(t, res.Written.Contains(1))
	assert.Contains(t, out.String(), "Discontinuity of 1 months at the start of time series.")

	r := openOutput(t, output)
	times, err := r.ReadVar("time")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(times[0]), "index 0 is never written")
	assert.Equal(t, 1.0, times[1])
	first, err := r.ReadSlice("tas", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1e20, first[0])
}

func TestCombine_DecemberStartRule(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.EcEarth3("r1i1p1f1"), "184912-185012", "185101-185112")
	e, _ := newTestEngine(t)

	res, err := e.Combine(context.Background(), files, filepath.Join(t.TempDir(), "merged.nc"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offset, "a December 1849 start is not an 11 month gap")
	assert.Equal(t, "ec-earth3-historical-december-start", res.Rule)
	assert.Equal(t, yearmonth.New(1849, 12), res.ExpectedStart)
	assert.Equal(t, 25, res.TimeLen)
}

func TestCombine_LateMembersRule(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.EcEarth3("r101i1p1f1"), "197001-197012", "197101-197112")
	e, _ := newTestEngine(t)

	res, err := e.Combine(context.Background(), files, filepath.Join(t.TempDir(), "merged.nc"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offset)
	assert.Equal(t, "ec-earth3-historical-late-members", res.Rule)
}

func TestCombine_Discontinuity(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185001-185012", "185201-185212")
	e, out := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err, "a discontinuity is not an error")
	assert.Equal(t, StatusDiscontinuity, res.Status)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, Gap{After: yearmonth.New(1850, 12), Before: yearmonth.New(1852, 1), Months: 12}, res.Gaps[0])
	assert.Equal(t, 36, res.TimeLen)
	assert.False(t, res.Written.Contains(12))
	assert.False(t, res.Written.Contains(23))
	assert.True(t, res.Written.Contains(24))
	assert.Contains(t, out.String(), "Discontinuity of 12 months between 185012 and 185201.")

	r := openOutput(t, output)
	step, err := r.ReadSlice("tas", 24, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Value(testutil.MonthTime(yearmonth.New(1852, 1)), 0), step[0])
}

func TestCombine_RejectsBadOrder(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	a := testutil.WriteChunk(t, dir, id, "185001", "185012")
	b := testutil.WriteChunk(t, dir, id, "185101", "185112")
	overlap := testutil.WriteChunk(t, dir, id, "185006", "185112")
	e, _ := newTestEngine(t)

	for name, files := range map[string][]string{
		"out of order": {b, a},
		"overlapping":  {a, overlap},
		"duplicate":    {a, a},
	} {
		t.Run(name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "merged.nc")
			_, err := e.Combine(context.Background(), files, output)
			require.Error(t, err)
			assert.True(t, core.IsChunkOrderError(err), "got %v", err)
			assert.NoFileExists(t, output)
			assert.NoFileExists(t, output+".tmp")
		})
	}

	_, err := CheckOrder([]string{testutil.ChunkName(id, "185012", "185001")})
	assert.True(t, core.IsChunkOrderError(err))
}

func TestCombine_StartBeforeExpected(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "184912-185012", "185101-185112")
	e, _ := newTestEngine(t)
	_, err := e.Combine(context.Background(), files, filepath.Join(t.TempDir(), "merged.nc"))
	assert.True(t, core.IsChunkOrderError(err), "got %v", err)
}

func TestCombine_DryRun(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185003-185012", "185201-185212", "185301-185312")
	e, _ := newTestEngine(t, func(o *Options) { o.DryRun = true })
	output := filepath.Join(t.TempDir(), "merged.nc")

	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Offset)
	assert.Equal(t, StatusDiscontinuity, res.Status)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, 12, res.Gaps[0].Months)
	assert.Equal(t, 0, res.TimeLen)
	assert.NoFileExists(t, output)
}

func TestCombine_NonMonotonicTime(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	times := make([]float64, 12)
	for i := range times {
		times[i] = float64(i)
	}
	files := []string{
		testutil.WriteChunk(t, dir, id, "185001", "185012"),
		testutil.WriteChunk(t, dir, id, "185101", "185112", testutil.WithTimes(times...)),
	}
	e, _ := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	_, err := e.Combine(context.Background(), files, output)
	assert.ErrorIs(t, err, core.ErrNonMonotonicTime)
	assert.NoFileExists(t, output)
}

func TestCombine_ShapeMismatchAborts(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	files := []string{
		testutil.WriteChunk(t, dir, id, "185001", "185012"),
		testutil.WriteChunk(t, dir, id, "185101", "185112", testutil.WithLevels(2)),
	}
	e, _ := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	_, err := e.Combine(context.Background(), files, output)
	assert.ErrorIs(t, err, ncfile.ErrShapeMismatch)
	assert.NoFileExists(t, output)
	assert.NoFileExists(t, output+".tmp")
}

func TestCombine_RoundTripName(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	var files []string
	for m := 1; m <= 6; m++ {
		tok := yearmonth.New(1850, m).String()
		files = append(files, testutil.WriteChunk(t, dir, id, tok, tok))
	}
	name, err := cmip6.CombinedName(files[0], files[len(files)-1])
	require.NoError(t, err)
	assert.Equal(t, testutil.ChunkName(id, "185001", "185006"), name)

	e, _ := newTestEngine(t)
	output := filepath.Join(t.TempDir(), name)
	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)
	assert.Equal(t, 6, res.TimeLen)

	start, end, err := yearmonth.ParseRange(output)
	require.NoError(t, err)
	assert.Equal(t, yearmonth.New(1850, 1), start)
	assert.Equal(t, yearmonth.New(1850, 6), end)
}

func TestCombine_Tracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, files := datasetWithChunks(t, testutil.Dataset(), "185001-185012", "185101-185112")
	e, _ := newTestEngine(t, func(o *Options) { o.Tracer = tp.Tracer("test") })

	_, err := e.Combine(context.Background(), files, filepath.Join(t.TempDir(), "merged.nc"))
	require.NoError(t, err)

	spans := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range rec.Ended() {
		spans[s.Name()] = s
	}
	combine, ok := spans["merge.Engine.Combine"]
	require.True(t, ok)
	finish, ok := spans["ncfile.Writer.Finish"]
	require.True(t, ok)
	assert.Equal(t, combine.SpanContext().SpanID(), finish.Parent().SpanID(), "Finish runs inside the Combine span")
	assert.Equal(t, combine.SpanContext().TraceID(), finish.SpanContext().TraceID())
}

func TestCombine_Cancelled(t *testing.T) {
	_, files := datasetWithChunks(t, testutil.Dataset(), "185001-185012", "185101-185112")
	e, _ := newTestEngine(t)
	output := filepath.Join(t.TempDir(), "merged.nc")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Combine(ctx, files, output)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, output)
	_, statErr := os.Stat(output + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestLayout(t *testing.T) {
	l := Layout{MinDeflateLevel: 4, ChunkOverrides: map[string]int{"lon": 16}}
	dimLen := func(name string) int { return map[string]int{"lat": 180, "lon": 360, "lev": 19}[name] }

	v := ncfile.Var{Name: "ta", Dims: []string{"time", "lev", "lat", "lon"}, CompressionLevel: 2}
	assert.Equal(t, []int{1, 1, 180, 16}, l.chunkSizes(v, dimLen))
	assert.Equal(t, 4, l.compressionLevel(v))

	v.CompressionLevel = 7
	assert.Equal(t, 7, l.compressionLevel(v))
	v.Contiguous = true
	assert.Equal(t, 0, l.compressionLevel(v))

	assert.Equal(t, 0, l.compressionLevel(ncfile.Var{Name: "lat", Dims: []string{"lat"}, CompressionLevel: 5}))
}
