// Package merge combines the chunk files of a dataset into one file with a
// contiguous time axis.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/ncfile"
	"github.com/INLOpen/cmip6kit/rules"
	"github.com/INLOpen/cmip6kit/yearmonth"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Merge status codes.
const (
	StatusOK            = 0
	StatusDiscontinuity = 1
)

// HistoryFormat is the provenance note written to merged files.
const HistoryFormat = "This file was generated on %s by combining two or more individual files for this dataset."

// Options configures an Engine.
type Options struct {
	// Rules adjusts the expected start of anomalous sources. Nil means
	// rules.Default().
	Rules *rules.Registry
	// Codec and CodecLevel select the block codec of merged files.
	Codec      core.CompressionType
	CodecLevel int
	Layout     Layout
	// Format reads chunks and writes merged files. Nil means
	// ncfile.Default().
	Format ncfile.Format
	// DryRun computes offsets and discontinuities without writing.
	DryRun bool
	// Console receives operator progress lines. May be nil.
	Console *logging.Console
	Logger  *slog.Logger
	Tracer  trace.Tracer
	// Now is the clock used for the provenance note.
	Now func() time.Time

	// Batch settings, used by CombineArchive.
	StagingDir   string
	LockTimeout  time.Duration
	MinFreeBytes uint64
}

// Engine merges datasets. One Engine may be reused for many datasets; a
// single merge is always sequential.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// Gap is a run of missing months between two consecutive chunks.
type Gap struct {
	After  yearmonth.YearMonth
	Before yearmonth.YearMonth
	Months int
}

// Result describes one merge.
type Result struct {
	Output        string
	Files         int
	ExpectedStart yearmonth.YearMonth
	// Rule names the exception rule that set ExpectedStart, if any.
	Rule string
	// Offset is the time index the first chunk was written at.
	Offset int
	Status int
	Gaps   []Gap
	// TimeLen is the length of the merged time axis. Zero on dry runs.
	TimeLen int
	// Written holds the time indices that received data.
	Written *roaring.Bitmap
	DryRun  bool
}

// NewEngine returns an engine.
func NewEngine(opts Options) *Engine {
	if opts.Rules == nil {
		opts.Rules = rules.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Format == nil {
		opts.Format = ncfile.Default()
	}
	return &Engine{opts: opts, logger: opts.Logger.With("component", "MergeEngine")}
}

func (e *Engine) say(sev logging.Severity, format string, args ...any) {
	if e.opts.Console != nil {
		e.opts.Console.Printf(sev, format, args...)
	}
}

// CheckOrder parses the date range of every file and verifies that each
// chunk ends on or after its start and begins after the previous chunk
// ended. Violations return *core.ChunkOrderError.
func CheckOrder(files []string) ([]yearmonth.Range, error) {
	out := make([]yearmonth.Range, len(files))
	for i, f := range files {
		start, end, err := yearmonth.ParseRange(f)
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, &core.ChunkOrderError{File: f, Reason: fmt.Sprintf("ends at %s before it starts at %s", end, start)}
		}
		if i > 0 && !start.After(out[i-1].End) {
			return nil, &core.ChunkOrderError{File: f, Reason: fmt.Sprintf("starts at %s, not after the previous chunk's end %s", start, out[i-1].End)}
		}
		out[i] = yearmonth.Range{Start: start, End: end}
	}
	return out, nil
}

// Combine merges files, which must be in time order, into output. The
// merge is staged: output should not be inside the live dataset directory.
func (e *Engine) Combine(ctx context.Context, files []string, output string) (res *Result, err error) {
	if e.opts.Tracer != nil {
		var span trace.Span
		ctx, span = e.opts.Tracer.Start(ctx, "merge.Engine.Combine", trace.WithAttributes(
			attribute.Int("merge.files", len(files)),
			attribute.String("merge.output", output),
			attribute.Bool("merge.dry_run", e.opts.DryRun),
		))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetAttributes(attribute.Int("merge.offset", res.Offset), attribute.Int("merge.status", res.Status))
			}
			span.End()
		}()
	}

	if len(files) == 0 {
		return nil, errors.New("merge: no files to combine")
	}
	ranges, err := CheckOrder(files)
	if err != nil {
		return nil, err
	}
	name, err := cmip6.ParseChunkName(files[0])
	if err != nil {
		return nil, err
	}
	exp, err := cmip6.LookupExperiment(name.Experiment)
	if err != nil {
		return nil, err
	}

	res = &Result{Output: output, Files: len(files), DryRun: e.opts.DryRun, Written: roaring.New()}
	first := ranges[0]
	res.ExpectedStart, res.Rule = e.opts.Rules.ExpectedStart(rules.NewContext(filepath.Dir(files[0]), exp, first.Start))
	res.Offset = yearmonth.MonthDistance(res.ExpectedStart.AddMonths(-1), first.Start)
	if res.Offset < 0 {
		return nil, &core.ChunkOrderError{
			File:   files[0],
			Reason: fmt.Sprintf("starts at %s, %d months before the expected start %s", first.Start, -res.Offset, res.ExpectedStart),
		}
	}
	log := e.logger.With("output", output)
	if res.Offset > 0 {
		log.Warn("Time series starts late", "first", filepath.Base(files[0]), "expected_start", res.ExpectedStart.String(), "offset", res.Offset)
		e.say(logging.SeverityError, "Discontinuity of %d months at the start of time series.", res.Offset)
		e.say(logging.SeverityError, "Appending contents of first file %s at offset %d", filepath.Base(files[0]), res.Offset)
	} else {
		e.say(logging.SeverityInfo, "Time series will start at index 0 corresponding to %s", res.ExpectedStart)
	}

	if e.opts.DryRun {
		running := first.End
		for i, r := range ranges[1:] {
			if d := yearmonth.MonthDistance(running, r.Start); d > 0 {
				res.Gaps = append(res.Gaps, Gap{After: running, Before: r.Start, Months: d})
				res.Status = StatusDiscontinuity
				e.say(logging.SeverityError, "Discontinuity of %d months between %s and %s (%s).", d, running, r.Start, filepath.Base(files[i+1]))
			}
			running = r.End
		}
		return res, nil
	}

	if err := e.write(ctx, files, ranges, output, res, log); err != nil {
		return nil, err
	}
	if res.Status == StatusOK {
		if err := e.checkLinearity(output, res.Written); err != nil {
			os.Remove(output)
			return nil, err
		}
	}
	log.Info("Files combined", "files", len(files), "time_len", res.TimeLen, "status", res.Status)
	return res, nil
}

func (e *Engine) write(ctx context.Context, files []string, ranges []yearmonth.Range, output string, res *Result, log *slog.Logger) (err error) {
	src, err := e.opts.Format.Open(files[0])
	if err != nil {
		return err
	}
	defer func() {
		if src != nil {
			src.Close()
		}
	}()

	w, err := e.opts.Format.Create(ncfile.WriterOptions{
		Path:       output,
		Codec:      e.opts.Codec,
		CodecLevel: e.opts.CodecLevel,
		Logger:     e.opts.Logger,
		Tracer:     e.opts.Tracer,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	timeVars, staticVars, err := e.opts.Layout.Define(src, w)
	if err != nil {
		return fmt.Errorf("copying structure of %s: %w", files[0], err)
	}
	history := fmt.Sprintf(HistoryFormat, e.opts.Now().Format(time.ANSIC))
	if err := w.SetAttrs(src.Attrs().Without("tracking_id", "history").Set(ncfile.Attribute{Name: "history", Text: history})); err != nil {
		return err
	}

	e.say(logging.SeverityInfo, "---> Copying first file: %s", filepath.Base(files[0]))
	if err := copyStatic(src, w, staticVars); err != nil {
		return fmt.Errorf("copying %s: %w", files[0], err)
	}

	dims := dimLens(src)
	cursor := res.Offset
	running := ranges[0].End
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if d := yearmonth.MonthDistance(running, ranges[i].Start); d > 0 {
				res.Gaps = append(res.Gaps, Gap{After: running, Before: ranges[i].Start, Months: d})
				res.Status = StatusDiscontinuity
				log.Warn("Discontinuity between chunks", "after", running.String(), "before", ranges[i].Start.String(), "months", d)
				e.say(logging.SeverityError, "Discontinuity of %d months between %s and %s.", d, running, ranges[i].Start)
				cursor += d
			}
			src.Close()
			if src, err = e.opts.Format.Open(path); err != nil {
				return err
			}
		}
		steps := src.Len(TimeDim)
		if declared := ranges[i].Months(); steps != declared {
			log.Warn("Chunk time length differs from its name", "file", filepath.Base(path), "steps", steps, "declared_months", declared)
		}
		e.say(logging.SeverityInfo, "---> Appending file: %s from IDX %d to %d", filepath.Base(path), cursor, cursor+steps)
		if err := copyTimeSteps(src, w, timeVars, dims, 0, steps, cursor); err != nil {
			return err
		}
		res.Written.AddRange(uint64(cursor), uint64(cursor+steps))
		cursor += steps
		running = ranges[i].End
	}
	res.TimeLen = cursor

	return w.Finish(ctx)
}

// checkLinearity verifies that the time coordinate increases strictly
// over the written indices.
func (e *Engine) checkLinearity(path string, written *roaring.Bitmap) error {
	r, err := e.opts.Format.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if _, ok := r.Var(TimeDim); !ok {
		return nil
	}
	times, err := r.ReadVar(TimeDim)
	if err != nil {
		return err
	}
	it := written.Iterator()
	prev, havePrev := 0.0, false
	for it.HasNext() {
		i := int(it.Next())
		if i >= len(times) {
			break
		}
		if havePrev && !(times[i] > prev) {
			return fmt.Errorf("%w: %s: time[%d]=%v does not follow %v", core.ErrNonMonotonicTime, path, i, times[i], prev)
		}
		prev, havePrev = times[i], true
	}
	return nil
}
