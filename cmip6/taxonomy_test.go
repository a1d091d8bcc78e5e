package cmip6

import (
	"path/filepath"
	"testing"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRoot(t *testing.T) {
	assert.NoError(t, ValidateRoot("/data/Datasets/CMIP6/CMIP"))
	assert.NoError(t, ValidateRoot("/data/Datasets/CMIP6/ScenarioMIP/"))

	err := ValidateRoot("/data/Datasets/CMIP6")
	require.Error(t, err)
	assert.True(t, core.IsInvalidRootError(err))

	assert.True(t, core.IsInvalidRootError(ValidateRoot("/data/CMIP/MIROC")))
}

func TestLookupExperiment(t *testing.T) {
	hist, err := LookupExperiment("historical")
	require.NoError(t, err)
	assert.Equal(t, "CMIP", hist.Activity)
	assert.Equal(t, "185001", hist.Start.String())
	assert.Equal(t, "201412", hist.End.String())
	assert.Equal(t, 165*12, hist.Bounds().Months())

	for _, id := range []string{"ssp126", "ssp245", "ssp370", "ssp585"} {
		exp, err := LookupExperiment(id)
		require.NoError(t, err)
		assert.Equal(t, "ScenarioMIP", exp.Activity)
		assert.Equal(t, "201501", exp.Start.String())
		assert.Equal(t, "210012", exp.End.String())
	}

	_, err = LookupExperiment("piControl")
	assert.True(t, core.IsUnknownExperimentError(err))
	assert.Equal(t, []string{"historical", "ssp126", "ssp245", "ssp370", "ssp585"}, ExperimentIDs())
}

func TestActivityRoot(t *testing.T) {
	root, err := ActivityRoot("/data/CMIP6", "ssp585")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/CMIP6", "ScenarioMIP"), root)

	_, err = ActivityRoot("/data/CMIP6", "amip")
	assert.True(t, core.IsConfigurationError(err))
}

func TestDirLevelString(t *testing.T) {
	assert.Equal(t, "grid", LevelGrid.String())
	assert.Equal(t, "version", LevelVersion.String())
	assert.Equal(t, "unknown", DirLevel(42).String())
}
