package maintenance

import (
	"context"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/internal/logging"
)

// EmptyDatasets lists version directories with no entries at all.
func (m *Maintainer) EmptyDatasets(ctx context.Context, activityRoot string, filter Filter) ([]string, error) {
	var empty []string
	err := m.walkLevel(ctx, activityRoot, cmip6.LevelVersion, filter, func(e cmip6.WalkEntry, _ []string) error {
		if len(e.Subdirs) == 0 && len(e.Files) == 0 {
			empty = append(empty, e.Dir)
			m.say(logging.SeverityWarn, "%s", e.Dir)
		}
		return nil
	})
	return empty, err
}

// CountSummary reports CountFiles.
type CountSummary struct {
	Datasets int
	Files    int
	Empty    []string
}

// CountFiles counts dataset directories and the chunk files in them. After
// a complete merge the two numbers are equal.
func (m *Maintainer) CountFiles(ctx context.Context, activityRoot string, filter Filter) (CountSummary, error) {
	var sum CountSummary
	err := m.walkLevel(ctx, activityRoot, cmip6.LevelVersion, filter, func(e cmip6.WalkEntry, _ []string) error {
		sum.Datasets++
		n := len(cmip6.ChunkFiles(e.Files))
		sum.Files += n
		if n == 0 {
			sum.Empty = append(sum.Empty, e.Dir)
			m.say(logging.SeverityWarn, "%s", e.Dir)
		}
		return nil
	})
	if err != nil {
		return sum, err
	}
	m.say(logging.SeverityInfo, "Datasets searched: %d", sum.Datasets)
	m.say(logging.SeverityInfo, "Files found: %d", sum.Files)
	return sum, nil
}

// DatasetFiles is a dataset directory with its chunk files.
type DatasetFiles struct {
	Dir   string
	Files []string
}

// SingleSummary reports ConfirmSingleFiles.
type SingleSummary struct {
	Datasets int
	// Offending datasets hold zero or several chunk files.
	Offending []DatasetFiles
}

// OK reports whether every dataset holds exactly one file.
func (s SingleSummary) OK() bool { return len(s.Offending) == 0 }

// ConfirmSingleFiles checks that every dataset holds exactly one chunk file.
func (m *Maintainer) ConfirmSingleFiles(ctx context.Context, activityRoot string, filter Filter) (SingleSummary, error) {
	var sum SingleSummary
	err := m.walkLevel(ctx, activityRoot, cmip6.LevelVersion, filter, func(e cmip6.WalkEntry, _ []string) error {
		files := cmip6.ChunkFiles(e.Files)
		sum.Datasets++
		if len(files) != 1 {
			sum.Offending = append(sum.Offending, DatasetFiles{Dir: e.Dir, Files: files})
			m.say(logging.SeverityError, "%s holds %d files", e.Dir, len(files))
			for _, f := range files {
				m.say(logging.SeverityInfo, "   %s", filepath.Base(f))
			}
		}
		return nil
	})
	if err != nil {
		return sum, err
	}
	m.say(logging.SeverityInfo, "Total datasets checked  : %d", sum.Datasets)
	return sum, nil
}
