//go:build cgo && !nonetcdf

package netcdf4

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/testutil"
	"github.com/INLOpen/cmip6kit/merge"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/yearmonth"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredAsDefault(t *testing.T) {
	f, err := ncfile.Lookup(ncfile.DefaultFormat)
	require.NoError(t, err)
	assert.Equal(t, Format{}, f)
	assert.Equal(t, Format{}, ncfile.Default())
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tas.nc")
	b, err := Format{}.Create(ncfile.WriterOptions{Path: path, Codec: core.CompressionDeflate})
	require.NoError(t, err)
	require.NoError(t, b.AddDim("time", 0))
	require.NoError(t, b.AddDim("lat", 2))
	require.NoError(t, b.AddVar(ncfile.Var{
		Name: "time", DType: ncfile.Float64, Dims: []string{"time"}, ChunkSizes: []int{512},
		Attrs: ncfile.Attributes{{Name: "units", Text: "days since 1850-01-01"}},
	}))
	require.NoError(t, b.AddVar(ncfile.Var{Name: "lat", DType: ncfile.Float64, Dims: []string{"lat"}, Contiguous: true}))
	require.NoError(t, b.AddVar(ncfile.Var{
		Name: "tas", DType: ncfile.Float32, Dims: []string{"time", "lat"}, ChunkSizes: []int{1, 2},
		CompressionLevel: 4, FillValue: ncfile.Float(1e20),
		Attrs: ncfile.Attributes{{Name: "valid_range", Values: []float64{100, 400}, DType: ncfile.Float32}},
	}))
	require.NoError(t, b.SetAttrs(ncfile.Attributes{{Name: "source_id", Text: "MIROC6"}, {Name: "comment", Text: ""}}))
	require.NoError(t, b.WriteSlice("lat", 0, []float64{-45, 45}))
	require.NoError(t, b.WriteSlice("time", 0, []float64{0, 1}))
	require.NoError(t, b.WriteSlice("tas", 0, []float64{280, 281, 282, 283}))
	// Row 2 stays unwritten.
	require.NoError(t, b.WriteSlice("time", 3, []float64{3}))
	require.NoError(t, b.WriteSlice("tas", 3, []float64{290, 291}))
	require.NoError(t, b.SetAttrs(ncfile.Attributes{{Name: "history", Text: "merged"}}), "attributes after data")
	assert.NoFileExists(t, path)
	require.NoError(t, b.Finish(context.Background()))
	assert.NoFileExists(t, path+tmpSuffix)

	ds, err := Format{}.Open(path)
	require.NoError(t, err)
	defer ds.Close()

	d, ok := ds.Dim("time")
	require.True(t, ok)
	assert.True(t, d.Unlimited)
	assert.Equal(t, 4, d.Len)
	assert.Equal(t, "MIROC6", ds.Attrs().Text("source_id"))
	assert.Equal(t, "merged", ds.Attrs().Text("history"))

	tas, ok := ds.Var("tas")
	require.True(t, ok)
	assert.Equal(t, ncfile.Float32, tas.DType)
	assert.Equal(t, []int{1, 2}, tas.ChunkSizes)
	assert.Equal(t, 4, tas.CompressionLevel)
	require.NotNil(t, tas.FillValue)
	assert.InDelta(t, 1e20, *tas.FillValue, 1e14)
	vr, ok := tas.Attrs.Get("valid_range")
	require.True(t, ok)
	assert.Equal(t, []float64{100, 400}, vr.Values)
	assert.Equal(t, ncfile.Float32, vr.DType)
	_, hasFill := tas.Attrs.Get(ncfile.FillValueAttr)
	assert.False(t, hasFill, "fill value is carried in FillValue only")

	lat, ok := ds.Var("lat")
	require.True(t, ok)
	assert.True(t, lat.Contiguous)

	rows, err := ds.ReadSlice("tas", 1, 3)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []float64{282, 283}, rows[:2])
	assert.InDelta(t, 1e20, rows[2], 1e14, "unwritten rows read as the fill value")
	assert.Equal(t, []float64{290, 291}, rows[4:])

	_, err = ds.ReadSlice("tas", 3, 2)
	assert.ErrorIs(t, err, ncfile.ErrShapeMismatch)
	_, err = ds.ReadVar("nope")
	assert.ErrorIs(t, err, ncfile.ErrUnknownVar)
}

func TestOpenClassicFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tas_Amon_MIROC6_historical_r1i1p1f1_gn_185001-185012.nc")
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	require.NoError(t, err)
	timeDim, err := ds.AddDim("time", 0)
	require.NoError(t, err)
	tv, err := ds.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	require.NoError(t, err)
	require.NoError(t, tv.Attr("units").WriteBytes([]byte("days since 1850-01-01")))
	require.NoError(t, ds.Attr("Conventions").WriteBytes([]byte("CF-1.7 CMIP-6.2")))
	require.NoError(t, ds.EndDef())
	require.NoError(t, ds.Close())

	r, err := Format{}.Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "CF-1.7 CMIP-6.2", r.Attrs().Text("Conventions"))
	v, ok := r.Var("time")
	require.True(t, ok)
	assert.Equal(t, []string{"time"}, v.Dims)
	assert.Equal(t, "days since 1850-01-01", v.Attrs.Text("units"))
	assert.Zero(t, v.CompressionLevel)
	assert.Equal(t, 0, r.Len("time"))
}

func TestCreateRejectsBlockCodecs(t *testing.T) {
	_, err := Format{}.Create(ncfile.WriterOptions{Path: filepath.Join(t.TempDir(), "x.nc"), Codec: core.CompressionZSTD})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestAbortRemovesTemporaryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.nc")
	b, err := Format{}.Create(ncfile.WriterOptions{Path: path, Codec: core.CompressionDeflate})
	require.NoError(t, err)
	require.NoError(t, b.AddDim("time", 0))
	assert.FileExists(t, path+tmpSuffix)
	require.NoError(t, b.Abort())
	assert.NoFileExists(t, path+tmpSuffix)
	assert.ErrorIs(t, b.Finish(context.Background()), ncfile.ErrWriterClosed)
	assert.NoError(t, b.Abort())
}

func TestCombineNetCDFChunks(t *testing.T) {
	id := testutil.Dataset()
	dir := testutil.DatasetDir(t, t.TempDir(), id)
	files := []string{
		testutil.WriteChunk(t, dir, id, "185001", "185012", testutil.WithFormat(Format{})),
		testutil.WriteChunk(t, dir, id, "185101", "185112", testutil.WithFormat(Format{})),
	}

	e := merge.NewEngine(merge.Options{Codec: core.CompressionDeflate, Layout: merge.Layout{MinDeflateLevel: 4}})
	output := filepath.Join(t.TempDir(), "merged.nc")
	res, err := e.Combine(context.Background(), files, output)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusOK, res.Status)
	assert.Equal(t, 24, res.TimeLen)

	ds, err := Format{}.Open(output)
	require.NoError(t, err)
	defer ds.Close()
	times, err := ds.ReadVar(merge.TimeDim)
	require.NoError(t, err)
	require.Len(t, times, 24)
	assert.Equal(t, testutil.MonthTime(yearmonth.New(1851, 12)), times[23])
	assert.Contains(t, ds.Attrs().Text("history"), "combining two or more individual files")
	_, ok := ds.Attrs().Get("tracking_id")
	assert.False(t, ok)
	v, ok := ds.Var(id.Variable)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v.CompressionLevel, 4)
}
