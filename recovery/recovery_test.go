package recovery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/esgf"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	assert.Equal(t, []Span{{0, 3}, {3, 6}, {6, 10}}, Partition(10, 3))
	assert.Equal(t, []Span{{0, 0}, {0, 0}, {0, 2}}, Partition(2, 3))
	assert.Equal(t, []Span{{0, 7}}, Partition(7, 0))
	assert.Equal(t, []Span{{0, 0}, {0, 0}}, Partition(0, 2))

	total := 0
	for _, s := range Partition(1001, 10) {
		total += s.Len()
	}
	assert.Equal(t, 1001, total)
}

func fileMasterID(id cmip6.DatasetID, name string) string { return id.MasterID() + "." + name }

func localPath(id cmip6.DatasetID) string { return filepath.Join("CMIP6", id.RelDir()) }

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esgpull.db")
	s, err := CreateStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s, path := newStore(t)
	tas := testutil.Dataset()
	pr := testutil.Dataset()
	pr.Variable = "pr"

	a := Candidate{MasterID: fileMasterID(tas, "a.nc"), LocalPath: localPath(tas)}
	b := Candidate{MasterID: fileMasterID(pr, "b.nc"), LocalPath: localPath(pr)}
	c := Candidate{MasterID: fileMasterID(tas, "c.nc"), LocalPath: localPath(tas)}
	require.NoError(t, s.Add(ctx, a, StatusError))
	require.NoError(t, s.Add(ctx, b, StatusError))
	require.NoError(t, s.Add(ctx, c, StatusDone))

	all, err := s.Pending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{a, b}, all)
	onlyPr, err := s.Pending(ctx, "pr")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{b}, onlyPr)

	require.NoError(t, s.MarkDone(ctx, a.MasterID))
	st, err := s.Status(ctx, a.MasterID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st)
	assert.Error(t, s.MarkDone(ctx, "CMIP6.nope"))

	backup := BackupName(path, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasSuffix(backup, "esgpull.db.backup20240501"))
	require.NoError(t, s.Backup(ctx, backup))
	assert.Error(t, s.Backup(ctx, backup), "an existing backup is never overwritten")

	copyStore, err := OpenStore(backup)
	require.NoError(t, err)
	defer copyStore.Close()
	pending, err := copyStore.Pending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{b}, pending)

	_, err = OpenStore(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

// fakeIndex answers master id searches with one replica per known file and
// serves the file bodies.
type fakeIndex struct {
	srv   *httptest.Server
	files map[string][]byte // master id -> body
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()
	f := &fakeIndex{files: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/esg-search/search", func(w http.ResponseWriter, r *http.Request) {
		mid := r.URL.Query().Get("master_id")
		body, ok := f.files[mid]
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><response>`)
		if !ok {
			b.WriteString(`<result name="response" numFound="0" start="0"></result></response>`)
			w.Write([]byte(b.String()))
			return
		}
		ds, name, _ := cmip6.ParseMasterID(mid)
		sum := sha256.Sum256(body)
		fmt.Fprintf(&b, `<result name="response" numFound="1" start="0"><doc><str name="title">%s</str><str name="master_id">%s</str><str name="dataset_id">%s|node</str><str name="data_node">node</str>`, name, mid, ds.MasterID())
		fmt.Fprintf(&b, `<arr name="checksum"><str>%s</str></arr><arr name="checksum_type"><str>SHA256</str></arr>`, hex.EncodeToString(sum[:]))
		fmt.Fprintf(&b, `<arr name="url"><str>%s/data/%s|application/netcdf|HTTPServer</str></arr></doc></result></response>`, f.srv.URL, mid)
		w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := f.files[strings.TrimPrefix(r.URL.Path, "/data/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func TestPool_Recover(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex(t)
	store, dbPath := newStore(t)
	dataDir := t.TempDir()

	id := testutil.Dataset()
	var fixable []Candidate
	for y := 1850; y < 1857; y++ {
		name := testutil.ChunkName(id, fmt.Sprintf("%d01", y), fmt.Sprintf("%d12", y))
		c := Candidate{MasterID: fileMasterID(id, name), LocalPath: localPath(id)}
		index.files[c.MasterID] = []byte(name)
		require.NoError(t, store.Add(ctx, c, StatusError))
		fixable = append(fixable, c)
	}
	lost := Candidate{MasterID: fileMasterID(id, testutil.ChunkName(id, "190001", "190012")), LocalPath: localPath(id)}
	require.NoError(t, store.Add(ctx, lost, StatusError))
	require.NoError(t, store.Close())

	var logs, out bytes.Buffer
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pool := NewPool(PoolOptions{
		DBPath:     dbPath,
		DataDir:    dataDir,
		Workers:    3,
		Client:     esgf.ClientOptions{BaseURL: index.srv.URL},
		Downloader: esgf.DownloaderOptions{Timeout: 2 * time.Second, Attempts: 1, RetryDelay: time.Millisecond},
		TempDir:    t.TempDir(),
		ReportDir:  t.TempDir(),
		Variable:   "tas",
		Now:        func() time.Time { return now },
		Console:    logging.NewConsole(&out),
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	sum, err := pool.Recover(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 8, sum.Total)
	assert.Equal(t, 7, sum.Fixed)
	assert.Equal(t, []string{lost.MasterID}, sum.UnfixedIDs)
	assert.GreaterOrEqual(t, sum.P95, sum.P50)

	require.NotEmpty(t, sum.UnfixedFile)
	assert.Equal(t, "unfixed_master_ids_tas_20240501.txt", filepath.Base(sum.UnfixedFile))
	listed, err := os.ReadFile(sum.UnfixedFile)
	require.NoError(t, err)
	assert.Equal(t, lost.MasterID+"\n", string(listed))

	assert.FileExists(t, BackupName(dbPath, now))

	check, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer check.Close()
	for _, c := range fixable {
		_, name, _ := cmip6.ParseMasterID(c.MasterID)
		got, err := os.ReadFile(filepath.Join(dataDir, c.LocalPath, name))
		require.NoError(t, err)
		assert.Equal(t, name, string(got))
		st, err := check.Status(ctx, c.MasterID)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, st)
	}
	pending, err := check.Pending(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{lost}, pending)

	assert.Contains(t, out.String(), "Files successfully fixed     :  7")
	assert.Contains(t, out.String(), "Files that could not be fixed:  1")
	assert.Contains(t, logs.String(), sum.RunID)
	assert.Contains(t, logs.String(), `"worker":2`)
}

func TestPool_Cancelled(t *testing.T) {
	_, dbPath := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := testutil.Dataset()
	cands := []Candidate{{MasterID: fileMasterID(id, "x.nc"), LocalPath: localPath(id)}}
	sum, err := NewPool(PoolOptions{DBPath: dbPath, DataDir: t.TempDir(), ReportDir: t.TempDir()}).Run(ctx, cands)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Fixed)
	assert.Empty(t, sum.UnfixedIDs)
}

func TestPool_MissingDatabase(t *testing.T) {
	_, err := NewPool(PoolOptions{DBPath: filepath.Join(t.TempDir(), "none.db")}).Recover(context.Background())
	assert.Error(t, err)
}
