package continuity

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/rules"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// ErrNoChunks is returned when a dataset has no chunk files to check.
var ErrNoChunks = errors.New("no chunk files")

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	// Rules adjusts expected starts for known anomalous sources. Nil
	// means rules.Default().
	Rules  *rules.Registry
	Logger *slog.Logger
}

// Checker validates chunk date ranges of single datasets.
type Checker struct {
	rules  *rules.Registry
	logger *slog.Logger
}

// NewChecker returns a checker.
func NewChecker(opts CheckerOptions) *Checker {
	if opts.Rules == nil {
		opts.Rules = rules.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Checker{rules: opts.Rules, logger: opts.Logger.With("component", "ContinuityChecker")}
}

// Check validates files of the dataset in datasetDir against exp. Findings
// never produce an error; an unparsable name does, and fails the dataset.
//
// After a start mismatch the observed first month is the baseline for the
// continuity walk, so a wrong start is reported once rather than as a gap.
func (c *Checker) Check(datasetDir string, files []string, exp cmip6.Experiment) (Result, error) {
	res := Result{Dir: datasetDir}
	if len(files) == 0 {
		return res, fmt.Errorf("%s: %w", datasetDir, ErrNoChunks)
	}
	for _, f := range files {
		start, end, err := yearmonth.ParseRange(f)
		if err != nil {
			return res, fmt.Errorf("%s: %w", datasetDir, err)
		}
		res.Ranges = append(res.Ranges, yearmonth.Range{Start: start, End: end})
	}
	slices.SortFunc(res.Ranges, func(a, b yearmonth.Range) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	first, last := res.Ranges[0], res.Ranges[len(res.Ranges)-1]
	expected, rule := c.rules.ExpectedStart(rules.NewContext(datasetDir, exp, first.Start))
	res.Rule = rule
	if rule != "" {
		c.logger.Debug("Exception rule applied", "dir", datasetDir, "rule", rule, "expected_start", expected.String())
	}
	if first.Start != expected {
		res.Findings = append(res.Findings, StartMismatch{Expected: expected, Actual: first.Start})
	}
	if last.End != exp.End {
		res.Findings = append(res.Findings, EndMismatch{Expected: exp.End, Actual: last.End})
	}

	prev := first.End
	for _, r := range res.Ranges[1:] {
		if !yearmonth.IsNextMonth(prev, r.Start) {
			res.Findings = append(res.Findings, Discontinuity{At: r.Start, PreviousEnd: prev})
		}
		prev = r.End
	}
	return res, nil
}
