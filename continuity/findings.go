// Package continuity checks that the chunk files of a dataset form one
// gap-free monthly series within the experiment's bounds.
package continuity

import (
	"fmt"

	"github.com/INLOpen/cmip6kit/internal/logging"
	"github.com/INLOpen/cmip6kit/yearmonth"
)

// Finding codes. A result's status is the sum of its findings' codes.
const (
	CodeDiscontinuity = -1
	CodeStartMismatch = -2
	CodeEndMismatch   = -3
)

// Finding is one of StartMismatch, EndMismatch or Discontinuity.
type Finding interface {
	Code() int
	String() string
	render(c *logging.Console) string
}

// StartMismatch means the first chunk does not begin at the expected month.
type StartMismatch struct {
	Expected yearmonth.YearMonth
	Actual   yearmonth.YearMonth
}

func (StartMismatch) Code() int { return CodeStartMismatch }

func (f StartMismatch) String() string {
	return fmt.Sprintf("Start year is %d", f.Actual.Year)
}

func (f StartMismatch) render(c *logging.Console) string {
	return fmt.Sprintf("%s is %d", c.Style(logging.SeverityWarn, "Start year"), f.Actual.Year)
}

// EndMismatch means the last chunk does not end at the expected month.
type EndMismatch struct {
	Expected yearmonth.YearMonth
	Actual   yearmonth.YearMonth
}

func (EndMismatch) Code() int { return CodeEndMismatch }

func (f EndMismatch) String() string {
	return fmt.Sprintf("End year is %d", f.Actual.Year)
}

func (f EndMismatch) render(c *logging.Console) string {
	return fmt.Sprintf("%s is %d", c.Style(logging.SeverityWarn, "End year"), f.Actual.Year)
}

// Discontinuity means the chunk starting at At does not follow the
// previous chunk, which ended at PreviousEnd. Overlaps are discontinuities
// too.
type Discontinuity struct {
	At          yearmonth.YearMonth
	PreviousEnd yearmonth.YearMonth
}

func (Discontinuity) Code() int { return CodeDiscontinuity }

func (f Discontinuity) String() string {
	return fmt.Sprintf("Discontinuity at year %d. Previous year was %d", f.At.Year, f.PreviousEnd.Year)
}

func (f Discontinuity) render(c *logging.Console) string {
	return fmt.Sprintf("%s at year %d. Previous year was %d", c.Style(logging.SeverityError, "Discontinuity"), f.At.Year, f.PreviousEnd.Year)
}

// Overlap reports whether the chunk starts on or before the previous end.
func (f Discontinuity) Overlap() bool { return !f.At.After(f.PreviousEnd) }

// Result is the outcome of checking one dataset.
type Result struct {
	Dir      string
	Ranges   []yearmonth.Range
	Findings []Finding
	// Rule names the exception rule that set the expected start, if any.
	Rule string
}

// Status is 0 for a clean dataset, otherwise the sum of finding codes.
func (r Result) Status() int {
	s := 0
	for _, f := range r.Findings {
		s += f.Code()
	}
	return s
}

// OK reports whether there are no findings.
func (r Result) OK() bool { return len(r.Findings) == 0 }

// Discontinuities returns only the discontinuity findings.
func (r Result) Discontinuities() []Discontinuity {
	var out []Discontinuity
	for _, f := range r.Findings {
		if d, ok := f.(Discontinuity); ok {
			out = append(out, d)
		}
	}
	return out
}
