package continuity

import (
	"bytes"
	"testing"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/internal/testutil"
	"github.com/INLOpen/cmip6kit/yearmonth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ym = yearmonth.MustParse

func historical(t *testing.T) cmip6.Experiment {
	t.Helper()
	exp, err := cmip6.LookupExperiment("historical")
	require.NoError(t, err)
	return exp
}

func names(id cmip6.DatasetID, ranges ...string) []string {
	out := make([]string, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, testutil.ChunkName(id, r[:6], r[7:]))
	}
	return out
}

func TestCheck_ContiguousReportsOnlyEnd(t *testing.T) {
	id := testutil.Dataset()
	c := NewChecker(CheckerOptions{})
	res, err := c.Check("/archive/"+id.RelDir(), names(id, "185001-185012", "185101-185112", "185201-185212"), historical(t))
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	assert.Equal(t, EndMismatch{Expected: ym("201412"), Actual: ym("185212")}, res.Findings[0])
	assert.Equal(t, CodeEndMismatch, res.Status())
	assert.Empty(t, res.Discontinuities())
}

func TestCheck_MissingYear(t *testing.T) {
	id := testutil.Dataset()
	c := NewChecker(CheckerOptions{})
	res, err := c.Check("/archive/"+id.RelDir(), names(id, "185001-185012", "185201-185212"), historical(t))
	require.NoError(t, err)

	gaps := res.Discontinuities()
	require.Len(t, gaps, 1)
	assert.Equal(t, 1852, gaps[0].At.Year)
	assert.Equal(t, 1850, gaps[0].PreviousEnd.Year)
	assert.False(t, gaps[0].Overlap())
	assert.Equal(t, "Discontinuity at year 1852. Previous year was 1850", gaps[0].String())
	assert.Equal(t, CodeDiscontinuity+CodeEndMismatch, res.Status())
}

func TestCheck_CleanDataset(t *testing.T) {
	id := testutil.Dataset()
	c := NewChecker(CheckerOptions{})
	res, err := c.Check("/archive/"+id.RelDir(), names(id, "185001-194912", "195001-201412"), historical(t))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 0, res.Status())
}

func TestCheck_StartMismatchIsBaseline(t *testing.T) {
	id := testutil.Dataset()
	c := NewChecker(CheckerOptions{})
	res, err := c.Check("/archive/"+id.RelDir(), names(id, "185101-189912", "190001-201412"), historical(t))
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	assert.Equal(t, StartMismatch{Expected: ym("185001"), Actual: ym("185101")}, res.Findings[0])
	assert.Equal(t, "Start year is 1851", res.Findings[0].String())
}

func TestCheck_SortsAndCollectsAllDiscontinuities(t *testing.T) {
	id := testutil.Dataset()
	c := NewChecker(CheckerOptions{})
	files := names(id, "190001-201412", "185001-185912", "187001-189912", "186001-186512")
	res, err := c.Check("/archive/"+id.RelDir(), files, historical(t))
	require.NoError(t, err)

	assert.Equal(t, ym("185001"), res.Ranges[0].Start)
	gaps := res.Discontinuities()
	require.Len(t, gaps, 1)
	assert.Equal(t, Discontinuity{At: ym("187001"), PreviousEnd: ym("186512")}, gaps[0])

	files = append(files, testutil.ChunkName(id, "188001", "188512"))
	res, err = c.Check("/archive/"+id.RelDir(), files, historical(t))
	require.NoError(t, err)
	gaps = res.Discontinuities()
	require.Len(t, gaps, 3)
	assert.True(t, gaps[1].Overlap(), "chunk inside the previous one overlaps")
}

func TestCheck_ExceptionRules(t *testing.T) {
	c := NewChecker(CheckerOptions{})

	late := testutil.EcEarth3("r120i1p1f1")
	res, err := c.Check("/archive/"+late.RelDir(), names(late, "197001-197012", "197101-201412"), historical(t))
	require.NoError(t, err)
	assert.True(t, res.OK(), "late members start in 1970: %v", res.Findings)
	assert.Equal(t, "ec-earth3-historical-late-members", res.Rule)

	dec := testutil.EcEarth3("r1i1p1f1")
	res, err = c.Check("/archive/"+dec.RelDir(), names(dec, "184912-185012", "185101-201412"), historical(t))
	require.NoError(t, err)
	assert.True(t, res.OK(), "december start is accepted: %v", res.Findings)
	assert.Equal(t, "ec-earth3-historical-december-start", res.Rule)

	other := testutil.Dataset()
	res, err = c.Check("/archive/"+other.RelDir(), names(other, "184912-185012", "185101-201412"), historical(t))
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, CodeStartMismatch, res.Findings[0].Code())
}

func TestCheck_Errors(t *testing.T) {
	c := NewChecker(CheckerOptions{})
	_, err := c.Check("/archive/x", nil, historical(t))
	assert.ErrorIs(t, err, ErrNoChunks)

	_, err = c.Check("/archive/x", []string{"tas_Amon_CESM2_historical_r1i1p1f1_gn_1850-1851.nc"}, historical(t))
	assert.True(t, core.IsMalformedFilenameError(err), "got %v", err)
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	console := logging.NewConsole(&buf)
	Report(console, Result{Dir: "/d", Findings: []Finding{
		StartMismatch{Expected: ym("185001"), Actual: ym("185101")},
		EndMismatch{Expected: ym("201412"), Actual: ym("201012")},
		Discontinuity{At: ym("185201"), PreviousEnd: ym("185012")},
	}})
	assert.Equal(t, "/d\n"+
		"   Start year is 1851\n"+
		"   End year is 2010\n"+
		"   Discontinuity at year 1852. Previous year was 1850\n", buf.String())

	buf.Reset()
	Report(console, Result{Dir: "/clean"})
	assert.Empty(t, buf.String())
}
