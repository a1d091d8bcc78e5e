package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/INLOpen/cmip6kit/esgf"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/sys"

	"github.com/caio/go-tdigest/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// DBPath is the status database.
	DBPath string
	// DataDir holds the CMIP6 directory that local paths are relative to.
	DataDir  string
	Variable string
	Workers  int
	// Client and Downloader are templates; every worker builds its own
	// from them with a worker-scoped logger.
	Client     esgf.ClientOptions
	Downloader esgf.DownloaderOptions
	TempDir    string
	// ReportDir receives the list of master ids that could not be fixed.
	ReportDir string
	// SkipBackup disables the database backup Recover takes first.
	SkipBackup bool
	Now        func() time.Time
	Console    *logging.Console
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Result is the outcome for one candidate.
type Result struct {
	Candidate Candidate
	Worker    int
	Path      string
	Err       error
	Duration  time.Duration
}

// Summary is the outcome of a run.
type Summary struct {
	RunID       string
	Total       int
	Fixed       int
	UnfixedIDs  []string
	UnfixedFile string
	// Quantiles of per-file wall time, successful or not.
	P50, P95 time.Duration
	Elapsed  time.Duration
}

// Pool recovers files with a fixed set of workers.
type Pool struct {
	opts   PoolOptions
	logger *slog.Logger
}

// NewPool returns a Pool with defaults filled in.
func NewPool(opts PoolOptions) *Pool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReportDir == "" {
		opts.ReportDir = "."
	}
	return &Pool{opts: opts, logger: opts.Logger.With("component", "RecoveryPool")}
}

func (p *Pool) say(sev logging.Severity, format string, args ...any) {
	if p.opts.Console != nil {
		p.opts.Console.Printf(sev, format, args...)
	}
}

// Recover backs up the status database, reads the pending files and runs
// them through the pool.
func (p *Pool) Recover(ctx context.Context) (Summary, error) {
	store, err := OpenStore(p.opts.DBPath)
	if err != nil {
		return Summary{}, err
	}
	defer store.Close()

	if !p.opts.SkipBackup {
		backup := BackupName(p.opts.DBPath, p.opts.Now())
		p.say(logging.SeverityInfo, "Backing up database to: %s", backup)
		if err := store.Backup(ctx, backup); err != nil {
			return Summary{}, err
		}
	}
	candidates, err := store.Pending(ctx, p.opts.Variable)
	if err != nil {
		return Summary{}, err
	}
	if err := store.Close(); err != nil {
		return Summary{}, err
	}
	return p.Run(ctx, candidates)
}

// Run fetches every candidate. Each worker opens its own store connection
// and marks recovered files Done. A failing candidate does not stop the
// run; only store errors and cancellation do.
func (p *Pool) Run(ctx context.Context, candidates []Candidate) (Summary, error) {
	start := p.opts.Now()
	runID := uuid.NewString()
	p.logger.Info("Recovery started", "run_id", runID, "files", len(candidates), "workers", p.opts.Workers)

	fan := logging.NewFanIn(p.logger.Handler(), 256)
	defer fan.Close()

	results := make(chan Result)
	collected := make(chan Summary, 1)
	go func() { collected <- p.collect(results, len(candidates)) }()

	g, gctx := errgroup.WithContext(ctx)
	for i, span := range Partition(len(candidates), p.opts.Workers) {
		p.logger.Debug("Worker partition", "worker", i, "start", span.Start, "end", span.End)
		if span.Len() == 0 {
			continue
		}
		logger := fan.Logger().With("run_id", runID, "worker", i)
		g.Go(func() error {
			return p.work(gctx, i, candidates[span.Start:span.End], logger, results)
		})
	}
	err := g.Wait()
	close(results)
	sum := <-collected
	sum.RunID = runID
	sum.Elapsed = p.opts.Now().Sub(start)

	if len(sum.UnfixedIDs) > 0 {
		name := fmt.Sprintf("unfixed_master_ids_%s_%s.txt", p.reportTag(), p.opts.Now().Format("20060102"))
		sum.UnfixedFile = filepath.Join(p.opts.ReportDir, name)
		if werr := sys.WriteFileAtomic(sum.UnfixedFile, []byte(strings.Join(sum.UnfixedIDs, "\n")+"\n"), 0o644); werr != nil {
			p.logger.Error("Writing unfixed master ids failed", "path", sum.UnfixedFile, "error", werr)
			sum.UnfixedFile = ""
		}
	}
	p.report(sum)
	if ferr := fan.Close(); ferr != nil {
		p.logger.Warn("Worker log output failed", "error", ferr)
	}
	return sum, err
}

func (p *Pool) reportTag() string {
	if p.opts.Variable != "" {
		return p.opts.Variable
	}
	return "all"
}

func (p *Pool) work(ctx context.Context, worker int, batch []Candidate, logger *slog.Logger, results chan<- Result) error {
	store, err := OpenStore(p.opts.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	clientOpts, dlOpts := p.opts.Client, p.opts.Downloader
	clientOpts.Logger, dlOpts.Logger = logger, logger
	fetcher := esgf.NewFetcher(esgf.FetcherOptions{
		Client:     esgf.NewClient(clientOpts),
		Downloader: esgf.NewDownloader(dlOpts),
		TempDir:    p.opts.TempDir,
		Logger:     logger,
		Tracer:     p.opts.Tracer,
	})

	for _, c := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		began := time.Now()
		logger.Info("Recovering file", "master_id", c.MasterID, "local_path", c.LocalPath)
		res := Result{Candidate: c, Worker: worker}
		res.Path, res.Err = fetcher.FetchMasterID(ctx, c.MasterID, filepath.Join(p.opts.DataDir, c.LocalPath))
		if res.Err == nil {
			if err := store.MarkDone(ctx, c.MasterID); err != nil {
				logger.Error("Updating status failed", "master_id", c.MasterID, "error", err)
				res.Err = err
			} else {
				logger.Info("File recovered", "master_id", c.MasterID, "path", res.Path)
			}
		} else {
			logger.Error("File not recovered", "master_id", c.MasterID, "error", res.Err)
		}
		res.Duration = time.Since(began)

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// collect is the only reader of results.
func (p *Pool) collect(results <-chan Result, total int) Summary {
	sum := Summary{Total: total}
	td, err := tdigest.New()
	if err != nil {
		p.logger.Warn("Duration digest unavailable", "error", err)
	}
	for r := range results {
		if r.Err == nil {
			sum.Fixed++
		} else {
			sum.UnfixedIDs = append(sum.UnfixedIDs, r.Candidate.MasterID)
		}
		if td != nil {
			if err := td.AddWeighted(float64(r.Duration), 1); err != nil {
				p.logger.Warn("tdigest AddWeighted failed", "error", err)
			}
		}
	}
	// Candidates never attempted because the run stopped early.
	if seen := sum.Fixed + len(sum.UnfixedIDs); seen < total {
		p.logger.Warn("Run stopped before all files were attempted", "attempted", seen, "total", total)
	}
	if td != nil && td.Count() > 0 {
		sum.P50 = time.Duration(td.Quantile(0.5))
		sum.P95 = time.Duration(td.Quantile(0.95))
	}
	return sum
}

func (p *Pool) report(sum Summary) {
	p.say(logging.SeverityInfo, "=======================================================================")
	p.say(logging.SeverityInfo, "Files that needed fixing     :  %d", sum.Total)
	p.say(logging.SeverityOK, "Files successfully fixed     :  %d", sum.Fixed)
	p.say(logging.SeverityWarn, "Files that could not be fixed:  %d", len(sum.UnfixedIDs))
	p.say(logging.SeverityInfo, "=======================================================================")
	if len(sum.UnfixedIDs) > 0 {
		p.say(logging.SeverityInfo, "Problematic master IDs:")
		for _, id := range sum.UnfixedIDs {
			p.say(logging.SeverityError, "%s", id)
		}
	}
	p.logger.Info("Recovery finished", "run_id", sum.RunID, "fixed", sum.Fixed, "unfixed", len(sum.UnfixedIDs),
		"p50", sum.P50, "p95", sum.P95, "elapsed", sum.Elapsed)
}
