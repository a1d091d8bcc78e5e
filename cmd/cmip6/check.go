package main

import (
	"context"
	"fmt"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/config"
	"github.com/INLOpen/cmip6kit/continuity"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	experiment string
	root       string
	noReview   bool
	noCache    bool
}

func newCheckCmd(a *app) *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check <variable>",
		Short: "Check the temporal continuity of every dataset of a variable",
		Long: "Check reports datasets whose chunk files do not start and end on the experiment " +
			"bounds or leave gaps between them. On a terminal each flagged dataset opens a " +
			"review prompt; accepted datasets are remembered in the cache directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.experiment, "experiment", "e", "historical", "Experiment to check")
	cmd.Flags().StringVar(&opts.root, "root", "", "Archive root (defaults to archive.root)")
	cmd.Flags().BoolVar(&opts.noReview, "no-review", false, "Never prompt, even on a terminal")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Ignore the allow list of reviewed datasets")
	return cmd
}

func (a *app) runCheck(ctx context.Context, variable string, opts checkOptions) error {
	activityRoot, err := cmip6.ActivityRoot(a.archiveRoot(opts.root), opts.experiment)
	if err != nil {
		return err
	}

	var allow *continuity.AllowList
	if !opts.noCache {
		allow, err = continuity.LoadAllowList(continuity.AllowListPath(config.ExpandHome(a.cfg.Archive.CacheDir), variable, opts.experiment))
		if err != nil {
			return err
		}
		a.logger.Debug("Allow list loaded", "path", allow.Path(), "entries", allow.Len())
	}

	var reviewer *continuity.Reviewer
	if !opts.noReview && a.interactive() {
		fetcher := a.fetcher()
		reviewer = continuity.NewReviewer(continuity.ReviewerOptions{
			In:        a.stdin,
			Console:   a.console,
			AllowList: allow,
			Download: func(ctx context.Context, dir string) error {
				_, err := fetcher.FetchMissing(ctx, dir)
				return err
			},
			Logger: a.logger,
		})
	}

	scanner := continuity.NewScanner(continuity.ScannerOptions{
		Checker:   continuity.NewChecker(continuity.CheckerOptions{Logger: a.logger}),
		Console:   a.console,
		AllowList: allow,
		Reviewer:  reviewer,
		Logger:    a.logger,
	})
	sum, err := scanner.Scan(ctx, activityRoot, variable, opts.experiment)
	if err != nil {
		return err
	}
	a.console.Printf(logging.SeverityInfo, "Datasets checked: %d, flagged: %d, unreadable: %d, previously accepted: %d",
		sum.Checked, sum.Flagged, sum.Failed, sum.Skipped)
	if sum.Flagged > 0 || sum.Failed > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d datasets flagged", sum.Flagged+sum.Failed)}
	}
	return nil
}

// archiveRoot returns override or the configured root.
func (a *app) archiveRoot(override string) string {
	if override != "" {
		return config.ExpandHome(override)
	}
	return config.ExpandHome(a.cfg.Archive.Root)
}
