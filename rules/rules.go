// Package rules holds the table of known source anomalies that change the
// expected start of a dataset's time series.
package rules

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/INLOpen/cmip6kit/cmip6"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// Context is what a rule sees about one dataset.
type Context struct {
	// DatasetDir is the dataset directory (or any path inside it).
	DatasetDir string
	Dataset    cmip6.DatasetID
	Experiment cmip6.Experiment
	// FirstStart is the declared start of the earliest chunk, zero when unknown.
	FirstStart yearmonth.YearMonth
}

// NewContext derives a Context from a dataset directory. The dataset
// identity is best effort: paths outside the taxonomy leave it empty and
// only directory-substring matching applies.
func NewContext(datasetDir string, exp cmip6.Experiment, firstStart yearmonth.YearMonth) Context {
	id, _ := cmip6.ParseDatasetPath(datasetDir)
	return Context{DatasetDir: datasetDir, Dataset: id, Experiment: exp, FirstStart: firstStart}
}

// Rule pairs a predicate with an expected-start adjustment. Source is
// matched as a whole path segment of the dataset directory and Experiment
// must equal the dataset's experiment. Match, when set, narrows further.
type Rule struct {
	Name          string
	Source        string
	Experiment    string
	Match         func(Context) bool
	ExpectedStart func(Context) yearmonth.YearMonth
}

func (r Rule) applies(ctx Context) bool {
	if r.Experiment != "" && r.Experiment != ctx.Experiment.ID {
		return false
	}
	if r.Source != "" {
		dir := "/" + strings.Trim(filepath.ToSlash(ctx.DatasetDir), "/") + "/"
		if !strings.Contains(dir, "/"+r.Source+"/") {
			return false
		}
	}
	return r.Match == nil || r.Match(ctx)
}

// Registry evaluates rules in registration order; the first match wins.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry returns a registry holding rules in the given order.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	for _, rule := range rules {
		r.Register(rule)
	}
	return r
}

// Register appends a rule. It panics on a rule without a name or
// adjustment since that is a programming error in the rule table.
func (r *Registry) Register(rule Rule) {
	if rule.Name == "" || rule.ExpectedStart == nil {
		panic(fmt.Sprintf("rules: invalid rule %+v", rule))
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
}

// Lookup returns the first rule that applies to ctx.
func (r *Registry) Lookup(ctx Context) (Rule, bool) {
	if r == nil {
		return Rule{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.applies(ctx) {
			return rule, true
		}
	}
	return Rule{}, false
}

// ExpectedStart returns the expected first month for ctx, and the name of
// the rule that changed it (empty when the experiment bound applies).
func (r *Registry) ExpectedStart(ctx Context) (yearmonth.YearMonth, string) {
	if rule, ok := r.Lookup(ctx); ok {
		return rule.ExpectedStart(ctx), rule.Name
	}
	return ctx.Experiment.Start, ""
}

// Names lists the registered rules in evaluation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}
