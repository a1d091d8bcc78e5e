// Package cmip6 knows the CMIP6 archive taxonomy: which activities and
// experiments exist, how deep each semantic level sits below an activity
// root, and how datasets and chunk files are named.
package cmip6

import (
	"path/filepath"
	"slices"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// Activities lists the activity identifiers accepted as archive roots.
var Activities = []string{"CMIP", "ScenarioMIP"}

// DirLevel is the depth of a semantic level below an activity root.
type DirLevel int

const (
	LevelUnbounded DirLevel = iota
	LevelInstitution
	LevelSource
	LevelExperiment
	LevelVariant
	LevelTable
	LevelVariable
	LevelGrid
	LevelVersion
)

var levelNames = [...]string{"unbounded", "institution", "source", "experiment", "variant", "table", "variable", "grid", "version"}

func (l DirLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// Experiment describes the expected calendar span of one experiment.
type Experiment struct {
	ID       string
	Activity string
	Start    yearmonth.YearMonth
	End      yearmonth.YearMonth
}

// Bounds returns the expected span as a Range.
func (e Experiment) Bounds() yearmonth.Range {
	return yearmonth.Range{Start: e.Start, End: e.End}
}

var experiments = map[string]Experiment{
	"historical": {ID: "historical", Activity: "CMIP", Start: yearmonth.New(1850, 1), End: yearmonth.New(2014, 12)},
	"ssp126":     {ID: "ssp126", Activity: "ScenarioMIP", Start: yearmonth.New(2015, 1), End: yearmonth.New(2100, 12)},
	"ssp245":     {ID: "ssp245", Activity: "ScenarioMIP", Start: yearmonth.New(2015, 1), End: yearmonth.New(2100, 12)},
	"ssp370":     {ID: "ssp370", Activity: "ScenarioMIP", Start: yearmonth.New(2015, 1), End: yearmonth.New(2100, 12)},
	"ssp585":     {ID: "ssp585", Activity: "ScenarioMIP", Start: yearmonth.New(2015, 1), End: yearmonth.New(2100, 12)},
}

// LookupExperiment returns the bounds for an experiment id.
func LookupExperiment(id string) (Experiment, error) {
	exp, ok := experiments[id]
	if !ok {
		return Experiment{}, &core.UnknownExperimentError{Experiment: id}
	}
	return exp, nil
}

// ExperimentIDs returns the known experiment ids, sorted.
func ExperimentIDs() []string {
	ids := make([]string, 0, len(experiments))
	for id := range experiments {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ActivityRoot joins the archive root with the activity that owns experiment.
func ActivityRoot(archiveRoot, experiment string) (string, error) {
	exp, err := LookupExperiment(experiment)
	if err != nil {
		return "", err
	}
	return filepath.Join(archiveRoot, exp.Activity), nil
}

// IsActivity reports whether name is a recognised activity identifier.
func IsActivity(name string) bool {
	return slices.Contains(Activities, name)
}

// ValidateRoot fails with *core.InvalidRootError unless the last path
// segment of path is a recognised activity.
func ValidateRoot(path string) error {
	if !IsActivity(filepath.Base(filepath.Clean(path))) {
		return &core.InvalidRootError{Path: path, Allowed: Activities}
	}
	return nil
}
