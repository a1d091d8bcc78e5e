package testutil

import (
	"testing"

	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteChunk(t *testing.T) {
	root := t.TempDir()
	id := Dataset()
	dir := DatasetDir(t, root, id)

	path := WriteChunk(t, dir, id, "185001", "185012", WithLevels(2))
	assert.Equal(t, "tas_Amon_CESM2_historical_r1i1p1f1_gn_185001-185012.nc", ChunkName(id, "185001", "185012"))

	r, err := ncfile.Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 12, r.Len("time"))
	times, err := r.ReadVar("time")
	require.NoError(t, err)
	assert.Equal(t, 0.0, times[0])
	assert.Equal(t, 11.0, times[11])

	shape, err := r.Shape("tas")
	require.NoError(t, err)
	assert.Equal(t, []int{12, 2, NLat, NLon}, shape)
	assert.NotEmpty(t, r.Attrs().Text("tracking_id"))
}
