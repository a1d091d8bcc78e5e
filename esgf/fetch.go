package esgf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotCatalogued is returned when the index knows no replica of a file.
var ErrNotCatalogued = errors.New("file not found in the search index")

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Client     *Client
	Downloader *Downloader
	// TempDir holds in-flight downloads. Empty means os.TempDir().
	TempDir string
	Console *logging.Console
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Fetcher retrieves catalogued files into dataset directories.
type Fetcher struct {
	opts   FetcherOptions
	logger *slog.Logger
}

// NewFetcher returns a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = NewClient(ClientOptions{Logger: opts.Logger})
	}
	if opts.Downloader == nil {
		opts.Downloader = NewDownloader(DownloaderOptions{Logger: opts.Logger})
	}
	return &Fetcher{opts: opts, logger: opts.Logger.With("component", "Fetcher")}
}

func (f *Fetcher) say(sev logging.Severity, format string, args ...any) {
	if f.opts.Console != nil {
		f.opts.Console.Printf(sev, format, args...)
	}
}

func (f *Fetcher) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if f.opts.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := f.opts.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// FetchFile downloads the named file of the dataset at datasetDir, trying
// each catalogued replica in turn, and returns its final path.
func (f *Fetcher) FetchFile(ctx context.Context, datasetDir, name string) (path string, err error) {
	ctx, end := f.startSpan(ctx, "esgf.Fetcher.FetchFile",
		attribute.String("esgf.dataset_dir", datasetDir), attribute.String("esgf.file", name))
	defer func() { end(err) }()

	id, err := cmip6.ParseDatasetPath(datasetDir)
	if err != nil {
		return "", err
	}
	files, err := f.opts.Client.SearchDataset(ctx, id)
	if err != nil {
		return "", err
	}
	replicas := slices.DeleteFunc(files, func(r File) bool { return r.Filename != name })
	f.say(logging.SeverityInfo, "# of entries found for the file: %d", len(replicas))
	if len(replicas) == 0 {
		return "", fmt.Errorf("%s of %s: %w", name, id, ErrNotCatalogued)
	}
	return f.fetchReplicas(ctx, replicas, filepath.Join(datasetDir, name))
}

// FetchMasterID downloads the file with the given master id into destDir
// and returns its final path.
func (f *Fetcher) FetchMasterID(ctx context.Context, masterID, destDir string) (path string, err error) {
	ctx, end := f.startSpan(ctx, "esgf.Fetcher.FetchMasterID", attribute.String("esgf.master_id", masterID))
	defer func() { end(err) }()

	replicas, err := f.opts.Client.SearchMasterID(ctx, masterID)
	if err != nil {
		return "", err
	}
	f.logger.Info("Found sources of file", "master_id", masterID, "sources", len(replicas))
	if len(replicas) == 0 {
		return "", fmt.Errorf("%s: %w", masterID, ErrNotCatalogued)
	}
	return f.fetchReplicas(ctx, replicas, filepath.Join(destDir, replicas[0].Filename))
}

// fetchReplicas downloads into a private temporary directory, checks the
// digest, moves the file to dest and checks the digest again there. A
// replica failing any step is abandoned for the next one.
func (f *Fetcher) fetchReplicas(ctx context.Context, replicas []File, dest string) (string, error) {
	tmp, err := os.MkdirTemp(f.opts.TempDir, "cmip6kit-fetch-")
	if err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var errs []error
	for i, r := range replicas {
		for _, link := range r.URLs {
			f.say(logging.SeverityInfo, " ---> Attempting download from: %s", r.DataNode)
			f.logger.Info("Attempting retrieval", "source", i+1, "data_node", r.DataNode, "url", link)
			err := f.fetchOne(ctx, r, link, filepath.Join(tmp, r.Filename), dest)
			if err == nil {
				f.say(logging.SeverityOK, " ---> Checksum PASS, file stored at %s", dest)
				return dest, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.DataNode, err))
			if errors.Is(err, core.ErrChecksumMismatch) {
				f.say(logging.SeverityError, " ---> Checksum FAIL")
			} else {
				f.say(logging.SeverityError, " ---> Download unsuccessful: %v", err)
			}
		}
	}
	f.say(logging.SeverityError, " ---> Unable to download this file from any source")
	return "", fmt.Errorf("%s: %w: %w", filepath.Base(dest), core.ErrAllSourcesFailed, errors.Join(errs...))
}

func (f *Fetcher) fetchOne(ctx context.Context, r File, link, tmpPath, dest string) error {
	defer os.Remove(tmpPath)
	if _, err := f.opts.Downloader.Download(ctx, link, tmpPath); err != nil {
		return err
	}
	if err := VerifyChecksum(tmpPath, r.Checksum, r.ChecksumType); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replacing %s: %w", dest, err)
	}
	if err := sys.Move(tmpPath, dest); err != nil {
		return err
	}
	if err := VerifyChecksum(dest, r.Checksum, r.ChecksumType); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

// FetchSummary reports FetchMissing.
type FetchSummary struct {
	Expected   int
	Existing   int
	Downloaded int
	Failed     []string
}

// FetchMissing downloads every catalogued file of the dataset at datasetDir
// that is not present locally. Per-file failures are collected, not
// returned.
func (f *Fetcher) FetchMissing(ctx context.Context, datasetDir string) (FetchSummary, error) {
	var sum FetchSummary
	id, err := cmip6.ParseDatasetPath(datasetDir)
	if err != nil {
		return sum, err
	}
	files, err := f.opts.Client.SearchDataset(ctx, id)
	if err != nil {
		return sum, err
	}

	byName := map[string][]File{}
	var names []string
	for _, r := range files {
		if _, seen := byName[r.Filename]; !seen {
			names = append(names, r.Filename)
		}
		byName[r.Filename] = append(byName[r.Filename], r)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Expected++
		path := filepath.Join(datasetDir, name)
		if _, err := os.Stat(path); err == nil {
			sum.Existing++
			continue
		}
		if _, err := f.fetchReplicas(ctx, byName[name], path); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			f.logger.Error("Fetching file failed", "file", name, "error", err)
			sum.Failed = append(sum.Failed, name)
			continue
		}
		sum.Downloaded++
	}

	f.say(logging.SeverityInfo, "Total files expected : %d", sum.Expected)
	f.say(logging.SeverityInfo, "Total files existing : %d", sum.Existing)
	f.say(logging.SeverityInfo, "Total files failed downloading: %d", len(sum.Failed))
	f.say(logging.SeverityInfo, "Total files downloaded: %d", sum.Downloaded)
	return sum, nil
}
