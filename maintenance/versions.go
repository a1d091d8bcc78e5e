package maintenance

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/sys"
)

// VersionMove is one relocated version directory.
type VersionMove struct {
	From string
	To   string
}

// PruneSummary reports a PruneDuplicateVersions sweep.
type PruneSummary struct {
	// Datasets is the number of grid directories with more than one version.
	Datasets int
	Kept     []string
	Moved    []VersionMove
	// Failures holds the versions that could not be moved; the sweep
	// goes on past them.
	Failures []error
}

// PruneDuplicateVersions keeps the lexically last version of every grid
// directory holding more than one and moves the others into the
// quarantine tree.
func (m *Maintainer) PruneDuplicateVersions(ctx context.Context, activityRoot string, filter Filter) (PruneSummary, error) {
	var sum PruneSummary
	if m.opts.QuarantineRoot == "" && !m.opts.DryRun {
		return sum, fmt.Errorf("prune duplicate versions: no quarantine directory configured")
	}
	activity := filepath.Base(filepath.Clean(activityRoot))
	err := m.walkLevel(ctx, activityRoot, cmip6.LevelGrid, filter, func(e cmip6.WalkEntry, parts []string) error {
		if len(e.Subdirs) < 2 {
			return nil
		}
		versions := slices.Clone(e.Subdirs)
		slices.Sort(versions)
		keep := versions[len(versions)-1]
		sum.Datasets++
		sum.Kept = append(sum.Kept, filepath.Join(e.Dir, keep))

		m.say(logging.SeverityInfo, "%s", e.Dir)
		m.say(logging.SeverityOK, "   Keeping version %s", keep)
		dest := filepath.Join(append([]string{m.opts.QuarantineRoot, activity}, parts...)...)
		for _, v := range versions[:len(versions)-1] {
			mv := VersionMove{From: filepath.Join(e.Dir, v), To: filepath.Join(dest, v)}
			m.say(logging.SeverityWarn, "   Removing version %s", v)
			m.say(logging.SeverityInfo, "   Moving contents to %s", dest)
			if !m.opts.DryRun {
				if err := sys.Move(mv.From, mv.To); err != nil {
					sum.Failures = append(sum.Failures, fmt.Errorf("quarantining %s: %w", mv.From, err))
					m.say(logging.SeverityError, "   %v", err)
					m.logger.Warn("Version not quarantined", "from", mv.From, "to", mv.To, "error", err)
					continue
				}
				m.logger.Info("Version quarantined", "from", mv.From, "to", mv.To)
			}
			sum.Moved = append(sum.Moved, mv)
		}
		return nil
	})
	if m.opts.DryRun {
		m.say(logging.SeverityWarn, "******************** DRY RUN COMPLETE ********************")
	}
	return sum, err
}

// PromoteSummary reports a Promote sweep.
type PromoteSummary struct {
	Moved []VersionMove
	// Failures holds datasets skipped because they had several versions
	// or could not be moved.
	Failures []error
}

// Promote moves the single version directory of every matching grid into
// the serving tree and removes the emptied grid and variable directories.
// A grid with several versions is reported with *core.DuplicateVersionsError
// and left in place.
func (m *Maintainer) Promote(ctx context.Context, activityRoot string, filter Filter) (PromoteSummary, error) {
	var sum PromoteSummary
	if m.opts.ServingRoot == "" {
		return sum, fmt.Errorf("promote: no serving directory configured")
	}
	activity := filepath.Base(filepath.Clean(activityRoot))
	err := m.walkLevel(ctx, activityRoot, cmip6.LevelGrid, filter, func(e cmip6.WalkEntry, parts []string) error {
		switch len(e.Subdirs) {
		case 0:
			return nil
		case 1:
		default:
			dupErr := &core.DuplicateVersionsError{Dir: e.Dir, Versions: slices.Clone(e.Subdirs)}
			sum.Failures = append(sum.Failures, dupErr)
			m.say(logging.SeverityError, "%v; prune duplicate versions first", dupErr)
			m.logger.Warn("Dataset not promoted", "dir", e.Dir, "versions", strings.Join(e.Subdirs, ","))
			return nil
		}

		version := e.Subdirs[0]
		mv := VersionMove{
			From: filepath.Join(e.Dir, version),
			To:   filepath.Join(append([]string{m.opts.ServingRoot, activity}, append(parts, version)...)...),
		}
		m.say(logging.SeverityOK, "Source: %s", mv.From)
		m.say(logging.SeverityInfo, "Destination : %s", filepath.Dir(mv.To))
		if !m.opts.DryRun {
			if err := sys.Move(mv.From, mv.To); err != nil {
				sum.Failures = append(sum.Failures, fmt.Errorf("promoting %s: %w", mv.From, err))
				m.say(logging.SeverityError, "%v", err)
				m.logger.Warn("Dataset not promoted", "from", mv.From, "to", mv.To, "error", err)
				return nil
			}
			tableDir := filepath.Dir(filepath.Dir(e.Dir))
			if err := sys.RemoveEmptyParents(e.Dir, tableDir); err != nil {
				sum.Failures = append(sum.Failures, fmt.Errorf("cleaning up after %s: %w", mv.From, err))
				m.logger.Warn("Emptied directories not removed", "dir", e.Dir, "error", err)
			}
			m.logger.Info("Dataset promoted", "from", mv.From, "to", mv.To)
		}
		sum.Moved = append(sum.Moved, mv)
		return nil
	})
	m.say(logging.SeverityInfo, "Moved %d datasets", len(sum.Moved))
	if m.opts.DryRun {
		m.say(logging.SeverityWarn, "******************** DRY RUN COMPLETE ********************")
	}
	return sum, err
}
