package continuity

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/internal/logging"
)

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Checker *Checker
	Console *logging.Console
	// AllowList suppresses datasets reviewed before. May be nil.
	AllowList *AllowList
	// Reviewer, when set, prompts after every flagged dataset.
	Reviewer *Reviewer
	Logger   *slog.Logger
}

// Scanner runs the checker over every dataset of one variable.
type Scanner struct {
	checker  *Checker
	console  *logging.Console
	allow    *AllowList
	reviewer *Reviewer
	logger   *slog.Logger
}

// Summary counts the datasets a scan visited.
type Summary struct {
	Checked int
	Flagged int
	Failed  int
	Skipped int
	// FlaggedDirs lists flagged datasets in visiting order.
	FlaggedDirs []string
}

// NewScanner returns a scanner.
func NewScanner(opts ScannerOptions) *Scanner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Checker == nil {
		opts.Checker = NewChecker(CheckerOptions{Logger: opts.Logger})
	}
	return &Scanner{
		checker:  opts.Checker,
		console:  opts.Console,
		allow:    opts.AllowList,
		reviewer: opts.Reviewer,
		logger:   opts.Logger.With("component", "ContinuityScanner"),
	}
}

// Scan checks every dataset of variable under the experiment in
// activityRoot. A dataset that cannot be checked is counted as failed and
// the sweep continues; configuration errors stop it before any work.
func (s *Scanner) Scan(ctx context.Context, activityRoot, variable, experiment string) (Summary, error) {
	var sum Summary
	if err := cmip6.ValidateRoot(activityRoot); err != nil {
		return sum, err
	}
	exp, err := cmip6.LookupExperiment(experiment)
	if err != nil {
		return sum, err
	}

	reviewer := s.reviewer
	err = cmip6.WalkAtLevel(activityRoot, cmip6.LevelSource, func(src cmip6.WalkEntry) error {
		if !slices.Contains(src.Subdirs, experiment) {
			return nil
		}
		expRoot := filepath.Join(src.Dir, experiment)
		return cmip6.WalkAtLevel(expRoot, cmip6.LevelUnbounded, func(e cmip6.WalkEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files := cmip6.ChunkFiles(e.Files)
			if len(files) == 0 {
				return nil
			}
			id, err := cmip6.ParseDatasetPath(e.Dir)
			if err != nil || id.Variable != variable {
				return nil
			}
			if s.allow.Contains(e.Dir) {
				sum.Skipped++
				return nil
			}

			sum.Checked++
			res, err := s.checker.Check(e.Dir, files, exp)
			if err != nil {
				sum.Failed++
				s.logger.Warn("Dataset could not be checked", "dir", e.Dir, "error", err)
				s.console.Printf(logging.SeverityError, "%s: %v", e.Dir, err)
				return nil
			}
			if res.OK() {
				return nil
			}
			sum.Flagged++
			sum.FlaggedDirs = append(sum.FlaggedDirs, e.Dir)
			Report(s.console, res)
			s.logger.Info("Dataset flagged", "dir", e.Dir, "status", res.Status(), "findings", len(res.Findings))

			if reviewer == nil {
				return nil
			}
			action, err := reviewer.Review(ctx, e.Dir)
			if err != nil {
				return err
			}
			switch action {
			case ActionEOF:
				reviewer = nil
			case ActionRemoved:
				return cmip6.SkipDir
			}
			return nil
		})
	})
	if err != nil {
		return sum, err
	}
	s.logger.Info("Continuity scan finished", "variable", variable, "experiment", experiment,
		"checked", sum.Checked, "flagged", sum.Flagged, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}
