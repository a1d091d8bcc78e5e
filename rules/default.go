package rules

import (
	"fmt"
	"path/filepath"

	"github.com/INLOpen/cmip6kit/yearmonth"
)

// ecEarth3LateMembers are the EC-Earth3 historical ensemble members that
// were branched in 1970 rather than 1850.
var ecEarth3LateMembers = func() map[string]struct{} {
	m := make(map[string]struct{}, 50)
	for i := 101; i <= 150; i++ {
		m[fmt.Sprintf("r%di1p1f1", i)] = struct{}{}
	}
	return m
}()

// EcEarth3LateMembers expects r101i1p1f1..r150i1p1f1 of EC-Earth3
// historical to start in January 1970.
var EcEarth3LateMembers = Rule{
	Name:       "ec-earth3-historical-late-members",
	Source:     "EC-Earth3",
	Experiment: "historical",
	Match: func(ctx Context) bool {
		variant := ctx.Dataset.Variant
		if variant == "" {
			variant = variantFromDir(ctx.DatasetDir)
		}
		_, ok := ecEarth3LateMembers[variant]
		return ok
	},
	ExpectedStart: func(Context) yearmonth.YearMonth {
		return yearmonth.New(1970, 1)
	},
}

// EcEarth3DecemberStart covers EC-Earth3 historical files labelled as
// starting in December 1849. The extra leading month is accepted as the
// start of the series instead of being reported as an eleven month gap.
var EcEarth3DecemberStart = Rule{
	Name:       "ec-earth3-historical-december-start",
	Source:     "EC-Earth3",
	Experiment: "historical",
	Match: func(ctx Context) bool {
		return ctx.FirstStart == ctx.Experiment.Start.AddMonths(-1)
	},
	ExpectedStart: func(ctx Context) yearmonth.YearMonth {
		return ctx.Experiment.Start.AddMonths(-1)
	},
}

// Default returns a registry with the known archive anomalies.
func Default() *Registry {
	return NewRegistry(EcEarth3LateMembers, EcEarth3DecemberStart)
}

// variantFromDir finds a variant label among the path segments when the
// directory is not a full taxonomy path.
func variantFromDir(dir string) string {
	for dir != "" && dir != "." && dir != string(filepath.Separator) {
		if _, ok := ecEarth3LateMembers[filepath.Base(dir)]; ok {
			return filepath.Base(dir)
		}
		dir = filepath.Dir(dir)
	}
	return ""
}
