// Package maintenance holds the archive housekeeping sweeps: version
// de-duplication, promotion to the serving tree and the verification
// counts run after merging.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/internal/logging"
)

// Filter restricts a sweep. Empty fields match everything.
type Filter struct {
	Variable   string
	Experiment string
}

func (f Filter) matches(experiment, variable string) bool {
	return (f.Variable == "" || f.Variable == variable) && (f.Experiment == "" || f.Experiment == experiment)
}

// Options configures a Maintainer.
type Options struct {
	// QuarantineRoot receives superseded versions, mirroring the archive
	// layout below it (<QuarantineRoot>/<activity>/...).
	QuarantineRoot string
	// ServingRoot is the tree finished datasets are promoted to.
	ServingRoot string
	DryRun      bool
	Console     *logging.Console
	Logger      *slog.Logger
}

// Maintainer runs sweeps over one activity root at a time.
type Maintainer struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Maintainer.
func New(opts Options) *Maintainer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Maintainer{opts: opts, logger: opts.Logger.With("component", "Maintenance")}
}

func (m *Maintainer) say(sev logging.Severity, format string, args ...any) {
	if m.opts.Console != nil {
		m.opts.Console.Printf(sev, format, args...)
	}
}

// relSegments returns dir relative to root split into path segments, so
// that segment i sits at DirLevel i+1.
func relSegments(root, dir string) ([]string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, nil
	}
	return strings.Split(filepath.ToSlash(rel), "/"), nil
}

// segment returns the name at level, or "" when dir is shallower.
func segment(parts []string, level cmip6.DirLevel) string {
	if int(level) > len(parts) || level < cmip6.LevelInstitution {
		return ""
	}
	return parts[level-1]
}

// walkLevel validates root and visits the directories at level whose path
// passes filter.
func (m *Maintainer) walkLevel(ctx context.Context, root string, level cmip6.DirLevel, filter Filter, fn func(e cmip6.WalkEntry, parts []string) error) error {
	if err := cmip6.ValidateRoot(root); err != nil {
		return err
	}
	if filter.Experiment != "" {
		if _, err := cmip6.LookupExperiment(filter.Experiment); err != nil {
			return err
		}
	}
	return cmip6.WalkAtLevel(root, level, func(e cmip6.WalkEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		parts, err := relSegments(root, e.Dir)
		if err != nil {
			return fmt.Errorf("locating %s below %s: %w", e.Dir, root, err)
		}
		if len(parts) != int(level) {
			return nil
		}
		if !filter.matches(segment(parts, cmip6.LevelExperiment), segment(parts, cmip6.LevelVariable)) {
			return nil
		}
		return fn(e, parts)
	})
}
