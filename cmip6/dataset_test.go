package cmip6

import (
	"testing"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const miroc = "/data/CMIP6/CMIP/MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn/v20181212"

func TestParseDatasetPath(t *testing.T) {
	id, err := ParseDatasetPath(miroc)
	require.NoError(t, err)
	assert.Equal(t, DatasetID{
		Activity: "CMIP", Institution: "MIROC", Source: "MIROC6", Experiment: "historical",
		Variant: "r1i1p1f1", Table: "Amon", Variable: "tas", Grid: "gn", Version: "v20181212",
	}, id)
	assert.Equal(t, "CMIP6.CMIP.MIROC.MIROC6.historical.r1i1p1f1.Amon.tas.gn.v20181212", id.MasterID())
	assert.Equal(t, "CMIP/MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn/v20181212", id.RelDir())

	withFile, err := ParseDatasetPath(miroc + "/tas_Amon_MIROC6_historical_r1i1p1f1_gn_185001-194912.nc")
	require.NoError(t, err)
	assert.Equal(t, id, withFile)

	_, err = ParseDatasetPath("/data/CMIP6/CMIP/MIROC/MIROC6/historical")
	assert.Error(t, err)
}

func TestChunkName(t *testing.T) {
	name := "tas_Amon_EC-Earth3_historical_r101i1p1f1_gr_197001-197012.nc"
	c, err := ParseChunkName("/some/dir/" + name)
	require.NoError(t, err)
	assert.Equal(t, "tas", c.Variable)
	assert.Equal(t, "EC-Earth3", c.Source)
	assert.Equal(t, "r101i1p1f1", c.Variant)
	assert.Equal(t, "gr", c.Grid)
	assert.Equal(t, "197001", c.Range.Start.String())
	assert.Equal(t, name, c.String())

	for _, bad := range []string{"tas_Amon_gn_185001-185012.nc", "tas_Amon_EC-Earth3_historical_r1i1p1f1_gr_185001-185012.txt", "tas_Amon_EC-Earth3_historical_r1i1p1f1_gr_1850-185012.nc"} {
		_, err := ParseChunkName(bad)
		assert.True(t, core.IsMalformedFilenameError(err), bad)
	}
}

func TestCombinedName(t *testing.T) {
	name, err := CombinedName(
		miroc+"/tas_Amon_MIROC6_historical_r1i1p1f1_gn_185001-185012.nc",
		"tas_Amon_MIROC6_historical_r1i1p1f1_gn_201401-201412.nc",
	)
	require.NoError(t, err)
	assert.Equal(t, "tas_Amon_MIROC6_historical_r1i1p1f1_gn_185001-201412.nc", name)

	_, err = CombinedName("broken.nc", "tas_gn_201401-201412.nc")
	assert.True(t, core.IsMalformedFilenameError(err))
}

func TestChunkFiles(t *testing.T) {
	got := ChunkFiles([]string{"a_185001-185012.nc", ".partial_185001-201412.nc", "README", "b_185101-185112.nc"})
	assert.Equal(t, []string{"a_185001-185012.nc", "b_185101-185112.nc"}, got)
}

func TestParseMasterID(t *testing.T) {
	want, err := ParseDatasetPath(miroc)
	require.NoError(t, err)

	id, file, err := ParseMasterID(want.MasterID())
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Empty(t, file)

	id, file, err = ParseMasterID(want.MasterID() + ".tas_Amon_MIROC6_historical_r1i1p1f1_gn_195001-201412.nc|esgf-data02.diasjp.net")
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Equal(t, "tas_Amon_MIROC6_historical_r1i1p1f1_gn_195001-201412.nc", file)

	for _, bad := range []string{"", "CMIP5.CMIP.a.b.c.d.e.f.g.v1", "CMIP6.CMIP.MIROC.MIROC6", "CMIP6.DAMIP.a.b.c.d.e.f.g.v1", "CMIP6.CMIP.a.b.c.d.e.f.g.20190101"} {
		_, _, err := ParseMasterID(bad)
		assert.Error(t, err, bad)
	}
}
