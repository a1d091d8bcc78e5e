package cmip6

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/INLOpen/cmip6kit/core"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// DatasetID identifies one leaf directory of the archive.
type DatasetID struct {
	Activity    string
	Institution string
	Source      string
	Experiment  string
	Variant     string
	Table       string
	Variable    string
	Grid        string
	Version     string
}

func (d DatasetID) segments() []string {
	return []string{d.Activity, d.Institution, d.Source, d.Experiment, d.Variant, d.Table, d.Variable, d.Grid, d.Version}
}

// RelDir is the dataset directory relative to the archive root
// (the directory that holds the activity directories).
func (d DatasetID) RelDir() string {
	return filepath.Join(d.segments()...)
}

// MasterID is the ESGF dataset id, CMIP6.<activity>...<version>.
func (d DatasetID) MasterID() string {
	return "CMIP6." + strings.Join(d.segments(), ".")
}

func (d DatasetID) String() string { return d.MasterID() }

// ParseDatasetPath reads a dataset identity from any path that contains an
// activity segment followed by the eight taxonomy levels. Trailing segments
// after the version (a file name, for example) are ignored.
func ParseDatasetPath(path string) (DatasetID, error) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if !IsActivity(parts[i]) || len(parts)-i < int(LevelVersion)+1 {
			continue
		}
		p := parts[i : i+int(LevelVersion)+1]
		return DatasetID{
			Activity:    p[0],
			Institution: p[LevelInstitution],
			Source:      p[LevelSource],
			Experiment:  p[LevelExperiment],
			Variant:     p[LevelVariant],
			Table:       p[LevelTable],
			Variable:    p[LevelVariable],
			Grid:        p[LevelGrid],
			Version:     p[LevelVersion],
		}, nil
	}
	return DatasetID{}, fmt.Errorf("path %q does not contain an activity followed by %d taxonomy levels", path, LevelVersion)
}

// ChunkName is the parsed form of
// <var>_<table>_<source>_<experiment>_<variant>_<grid>_<YYYYMM>-<YYYYMM>.nc
type ChunkName struct {
	Variable   string
	Table      string
	Source     string
	Experiment string
	Variant    string
	Grid       string
	Range      yearmonth.Range
}

// ParseChunkName parses a chunk file name (directories are ignored).
func ParseChunkName(name string) (ChunkName, error) {
	base := filepath.Base(name)
	if filepath.Ext(base) != ".nc" {
		return ChunkName{}, &core.MalformedFilenameError{Name: base, Reason: "missing .nc extension"}
	}
	fields := strings.Split(strings.TrimSuffix(base, ".nc"), "_")
	if len(fields) != 7 {
		return ChunkName{}, &core.MalformedFilenameError{Name: base, Reason: fmt.Sprintf("expected 7 '_' separated fields, got %d", len(fields))}
	}
	start, end, err := yearmonth.ParseRange(base)
	if err != nil {
		return ChunkName{}, err
	}
	return ChunkName{
		Variable:   fields[0],
		Table:      fields[1],
		Source:     fields[2],
		Experiment: fields[3],
		Variant:    fields[4],
		Grid:       fields[5],
		Range:      yearmonth.Range{Start: start, End: end},
	}, nil
}

func (c ChunkName) String() string {
	return strings.Join([]string{c.Variable, c.Table, c.Source, c.Experiment, c.Variant, c.Grid, c.Range.String()}, "_") + ".nc"
}

// CombinedName is the canonical name of the file produced by merging the
// chunk sequence first..last: first's prefix up to its last '_', followed by
// first's start token and last's end token.
func CombinedName(first, last string) (string, error) {
	firstBase := filepath.Base(first)
	start, _, err := yearmonth.ParseRange(firstBase)
	if err != nil {
		return "", err
	}
	_, end, err := yearmonth.ParseRange(last)
	if err != nil {
		return "", err
	}
	prefix := firstBase[:strings.LastIndex(firstBase, "_")+1]
	return prefix + start.String() + "-" + end.String() + ".nc", nil
}

// ChunkFiles filters directory entries down to chunk files: ".nc" names
// that are not hidden partial merges.
func ChunkFiles(names []string) []string {
	var out []string
	for _, n := range names {
		base := filepath.Base(n)
		if strings.HasPrefix(base, ".") || filepath.Ext(base) != ".nc" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ParseMasterID splits an ESGF dataset or file master id,
// CMIP6.<activity>...<version>[.<filename>][|<data node>], into the dataset
// identity and the file name ("" for dataset ids).
func ParseMasterID(id string) (DatasetID, string, error) {
	id, _, _ = strings.Cut(id, "|")
	rest, ok := strings.CutPrefix(id, "CMIP6.")
	if !ok {
		return DatasetID{}, "", fmt.Errorf("master id %q does not start with CMIP6", id)
	}
	p := strings.SplitN(rest, ".", int(LevelVersion)+2)
	if len(p) < int(LevelVersion)+1 || !IsActivity(p[0]) || !strings.HasPrefix(p[LevelVersion], "v") {
		return DatasetID{}, "", fmt.Errorf("master id %q is not <activity> followed by %d taxonomy levels", id, LevelVersion)
	}
	d := DatasetID{
		Activity:    p[0],
		Institution: p[LevelInstitution],
		Source:      p[LevelSource],
		Experiment:  p[LevelExperiment],
		Variant:     p[LevelVariant],
		Table:       p[LevelTable],
		Variable:    p[LevelVariable],
		Grid:        p[LevelGrid],
		Version:     p[LevelVersion],
	}
	var file string
	if len(p) > int(LevelVersion)+1 {
		file = p[LevelVersion+1]
	}
	return d, file, nil
}
