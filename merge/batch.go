package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/sys"

	"github.com/google/uuid"
)

// BatchOptions selects the datasets CombineArchive works on.
type BatchOptions struct {
	Variable string
	// Experiment restricts the sweep to one experiment when set.
	Experiment string
	// CombineOnly leaves merged files in the staging directory.
	CombineOnly bool
}

// Failure records a dataset that could not be merged.
type Failure struct {
	Dir string
	Err error
}

// BatchSummary totals one CombineArchive sweep.
type BatchSummary struct {
	Datasets          int
	Combined          int
	Single            int
	WithDiscontinuity int
	Failed            int
	// SingleFiles lists the files of datasets that needed no merge.
	SingleFiles []string
	Failures    []Failure
	// StagingDir holds the merged files when CombineOnly is set.
	StagingDir string
}

// CombineArchive merges every fragmented dataset of the selected variable
// below activityRoot. Per-dataset failures are recorded and the sweep
// continues; only configuration, lock and staging errors stop it.
func (e *Engine) CombineArchive(ctx context.Context, activityRoot string, opts BatchOptions) (BatchSummary, error) {
	var sum BatchSummary
	if err := cmip6.ValidateRoot(activityRoot); err != nil {
		return sum, err
	}
	if opts.Experiment != "" {
		if _, err := cmip6.LookupExperiment(opts.Experiment); err != nil {
			return sum, err
		}
	}

	if !e.opts.DryRun {
		release, err := sys.AcquireArchiveLock(activityRoot, e.opts.LockTimeout)
		if err != nil {
			return sum, err
		}
		defer release()
	}

	staging := e.opts.StagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	staging = filepath.Join(staging, "cmip6kit-combine-"+uuid.NewString())
	// A dry run only names files below staging; nothing is created.
	if !e.opts.DryRun {
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return sum, fmt.Errorf("creating staging directory: %w", err)
		}
		if opts.CombineOnly {
			sum.StagingDir = staging
		} else {
			defer os.RemoveAll(staging)
		}
	}

	log := e.logger.With("variable", opts.Variable, "experiment", opts.Experiment, "staging", staging)
	err := cmip6.WalkAtLevel(activityRoot, cmip6.LevelVersion, func(entry cmip6.WalkEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := cmip6.ParseDatasetPath(entry.Dir)
		if err != nil || id.Variable != opts.Variable {
			return nil
		}
		if opts.Experiment != "" && id.Experiment != opts.Experiment {
			return nil
		}
		files := cmip6.ChunkFiles(entry.Files)
		if len(files) == 0 {
			return nil
		}
		slices.Sort(files)
		sum.Datasets++
		if len(files) == 1 {
			sum.Single++
			sum.SingleFiles = append(sum.SingleFiles, filepath.Join(entry.Dir, files[0]))
			return nil
		}

		res, err := e.combineDataset(ctx, entry.Dir, files, staging, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Dir: entry.Dir, Err: err})
			log.Error("Dataset merge failed", "dir", entry.Dir, "error", err)
			e.say(logging.SeverityError, "%s: %v", entry.Dir, err)
			return nil
		}
		sum.Combined++
		if res.Status == StatusDiscontinuity {
			sum.WithDiscontinuity++
		}
		return nil
	})
	if err != nil {
		return sum, err
	}

	if len(sum.SingleFiles) > 0 {
		e.say(logging.SeverityInfo, "Datasets that did not need combining:")
		for _, f := range sum.SingleFiles {
			e.say(logging.SeverityInfo, "%s", f)
		}
	}
	e.say(logging.SeverityInfo, "Total datasets that needed combining  : %d", sum.Combined+sum.Failed)
	e.say(logging.SeverityInfo, "Total datasets that were already good : %d", sum.Single)
	if sum.Failed > 0 {
		e.say(logging.SeverityError, "Total datasets that failed            : %d", sum.Failed)
	}
	log.Info("Combine sweep finished", "datasets", sum.Datasets, "combined", sum.Combined,
		"single", sum.Single, "with_discontinuity", sum.WithDiscontinuity, "failed", sum.Failed)
	return sum, nil
}

func (e *Engine) combineDataset(ctx context.Context, dir string, names []string, staging string, opts BatchOptions) (*Result, error) {
	outName, err := cmip6.CombinedName(names[0], names[len(names)-1])
	if err != nil {
		return nil, err
	}
	e.say(logging.SeverityInfo, "Processing: %s", dir)
	e.say(logging.SeverityInfo, "---> Files to combine: %d", len(names))
	e.say(logging.SeverityInfo, "---> Output filename: %s", outName)

	files := make([]string, len(names))
	var need uint64
	for i, n := range names {
		files[i] = filepath.Join(dir, n)
		if e.opts.DryRun {
			continue
		}
		info, err := os.Stat(files[i])
		if err != nil {
			return nil, err
		}
		need += uint64(info.Size())
	}
	if !e.opts.DryRun {
		if err := sys.EnsureFreeSpace(staging, need+e.opts.MinFreeBytes); err != nil {
			return nil, err
		}
	}

	output := filepath.Join(staging, outName)
	res, err := e.Combine(ctx, files, output)
	if err != nil {
		os.Remove(output)
		return nil, err
	}
	if e.opts.DryRun || opts.CombineOnly {
		return res, nil
	}
	final, err := e.Relocate(dir, output, files)
	if err != nil {
		return nil, err
	}
	res.Output = final
	return res, nil
}
