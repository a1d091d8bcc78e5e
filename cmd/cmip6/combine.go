package main

import (
	"context"
	"fmt"
	"time"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/merge"
	"github.com/INLOpen/cmip6kit/yearmonth"
	"github.com/spf13/cobra"
)

const defaultLockTimeout = 5 * time.Second

type combineOptions struct {
	experiment  string
	root        string
	dryRun      bool
	combineOnly bool
}

func newCombineCmd(a *app) *cobra.Command {
	var opts combineOptions
	cmd := &cobra.Command{
		Use:   "combine <variable>",
		Short: "Merge the chunk files of every fragmented dataset of a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCombine(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.experiment, "experiment", "e", "historical", "Experiment to combine")
	cmd.Flags().StringVar(&opts.root, "root", "", "Archive root (defaults to archive.root)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report offsets and discontinuities without writing")
	cmd.Flags().BoolVar(&opts.combineOnly, "combine-only", false, "Leave merged files in the staging directory")
	return cmd
}

func (a *app) runCombine(ctx context.Context, variable string, opts combineOptions) error {
	activityRoot, err := cmip6.ActivityRoot(a.archiveRoot(opts.root), opts.experiment)
	if err != nil {
		return err
	}
	engine, err := a.mergeEngine(opts.dryRun)
	if err != nil {
		return err
	}
	sum, err := engine.CombineArchive(ctx, activityRoot, merge.BatchOptions{
		Variable:    variable,
		Experiment:  opts.experiment,
		CombineOnly: opts.combineOnly,
	})
	if err != nil {
		return err
	}
	if sum.StagingDir != "" {
		a.console.Printf(logging.SeverityInfo, "Merged files left in %s", sum.StagingDir)
	}
	for _, f := range sum.Failures {
		a.console.Printf(logging.SeverityError, "%s: %v", f.Dir, f.Err)
	}
	if sum.Failed > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d datasets failed to merge", sum.Failed)}
	}
	return nil
}

type trimOptions struct {
	steps    int
	newStart string
	dryRun   bool
}

func newTrimLeadingCmd(a *app) *cobra.Command {
	var opts trimOptions
	cmd := &cobra.Command{
		Use:   "trim-leading <file>",
		Short: "Drop leading time steps from a chunk file and rename it",
		Long: "Trim-leading repairs chunks that repeat the last steps of the previous chunk, " +
			"such as EC-Earth3 files starting in December of the year before.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start yearmonth.YearMonth
			if opts.newStart != "" {
				var err error
				if start, err = yearmonth.Parse(opts.newStart); err != nil {
					return err
				}
			}
			engine, err := a.mergeEngine(opts.dryRun)
			if err != nil {
				return err
			}
			out, err := engine.TrimLeading(cmd.Context(), args[0], opts.steps, start)
			if err != nil {
				return err
			}
			a.console.Printf(logging.SeverityOK, "%s -> %s", args[0], out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.steps, "steps", "n", 1, "Number of leading time steps to drop")
	cmd.Flags().StringVar(&opts.newStart, "new-start", "", "Start token (YYYYMM) of the renamed file; defaults to start + steps")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Only print the new name")
	return cmd
}
