package main

import (
	"fmt"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/config"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/maintenance"
	"github.com/spf13/cobra"
)

type sweepOptions struct {
	experiment string
	variable   string
	activity   string
	root       string
	dryRun     bool
}

func (o *sweepOptions) bind(cmd *cobra.Command, withDryRun bool) {
	cmd.Flags().StringVarP(&o.experiment, "experiment", "e", "", "Only datasets of this experiment")
	cmd.Flags().StringVarP(&o.variable, "variable", "v", "", "Only datasets of this variable")
	cmd.Flags().StringVar(&o.activity, "activity", "", "Activity to sweep (defaults to the experiment's, or CMIP)")
	cmd.Flags().StringVar(&o.root, "root", "", "Archive root (defaults to archive.root)")
	if withDryRun {
		cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Report without moving anything")
	}
}

func (o *sweepOptions) filter() maintenance.Filter {
	return maintenance.Filter{Variable: o.variable, Experiment: o.experiment}
}

// activityRoot picks the activity from --activity, the experiment, or CMIP.
func (a *app) activityRoot(o *sweepOptions) (string, error) {
	root := a.archiveRoot(o.root)
	switch {
	case o.activity != "":
		if !cmip6.IsActivity(o.activity) {
			return "", fmt.Errorf("unknown activity %q, expected one of %v", o.activity, cmip6.Activities)
		}
		return filepath.Join(root, o.activity), nil
	case o.experiment != "":
		return cmip6.ActivityRoot(root, o.experiment)
	default:
		return filepath.Join(root, cmip6.Activities[0]), nil
	}
}

func (a *app) maintainer(dryRun bool) *maintenance.Maintainer {
	return maintenance.New(maintenance.Options{
		QuarantineRoot: config.ExpandHome(a.cfg.Archive.QuarantineDir),
		ServingRoot:    config.ExpandHome(a.cfg.Archive.ServingDir),
		DryRun:         dryRun,
		Console:        a.console,
		Logger:         a.logger,
	})
}

func newDedupeCmd(a *app) *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Keep the newest version of every dataset and quarantine the others",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.activityRoot(&opts)
			if err != nil {
				return err
			}
			sum, err := a.maintainer(opts.dryRun).PruneDuplicateVersions(cmd.Context(), root, opts.filter())
			if err != nil {
				return err
			}
			a.console.Printf(logging.SeverityInfo, "Datasets with several versions: %d, versions quarantined: %d", sum.Datasets, len(sum.Moved))
			if len(sum.Failures) > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d versions not quarantined", len(sum.Failures))}
			}
			return nil
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func newPromoteCmd(a *app) *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Move finished datasets into the serving tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.activityRoot(&opts)
			if err != nil {
				return err
			}
			sum, err := a.maintainer(opts.dryRun).Promote(cmd.Context(), root, opts.filter())
			if err != nil {
				return err
			}
			if len(sum.Failures) > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d datasets not promoted", len(sum.Failures))}
			}
			return nil
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func newEmptyDirsCmd(a *app) *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "empty-dirs",
		Short: "List dataset directories without any files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.activityRoot(&opts)
			if err != nil {
				return err
			}
			dirs, err := a.maintainer(false).EmptyDatasets(cmd.Context(), root, opts.filter())
			if err != nil {
				return err
			}
			a.console.Printf(logging.SeverityInfo, "Empty datasets: %d", len(dirs))
			return nil
		},
	}
	opts.bind(cmd, false)
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count datasets and chunk files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.activityRoot(&opts)
			if err != nil {
				return err
			}
			_, err = a.maintainer(false).CountFiles(cmd.Context(), root, opts.filter())
			return err
		},
	}
	opts.bind(cmd, false)
	return cmd
}

func newConfirmSingleCmd(a *app) *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "confirm-single",
		Short: "Verify that every dataset holds exactly one file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.activityRoot(&opts)
			if err != nil {
				return err
			}
			sum, err := a.maintainer(false).ConfirmSingleFiles(cmd.Context(), root, opts.filter())
			if err != nil {
				return err
			}
			if !sum.OK() {
				return &exitError{code: 1, msg: fmt.Sprintf("%d datasets do not hold exactly one file", len(sum.Offending))}
			}
			a.console.Printf(logging.SeverityOK, "All datasets hold a single file")
			return nil
		},
	}
	opts.bind(cmd, false)
	return cmd
}
