// Package yearmonth implements the YYYYMM tokens embedded in CMIP6 chunk
// file names and the month arithmetic the checker and merge engine rely on.
package yearmonth

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/INLOpen/cmip6kit/core"
)

// YearMonth is a calendar month. The zero value is not a valid token.
type YearMonth struct {
	Year  int
	Month int // 1..12
}

// New builds a YearMonth, normalising months outside 1..12 with year carry.
func New(year, month int) YearMonth {
	return fromIndex(year*12 + month - 1)
}

// Parse parses a six digit YYYYMM token.
func Parse(token string) (YearMonth, error) {
	if len(token) != 6 {
		return YearMonth{}, &core.MalformedFilenameError{Name: token, Reason: "date token must have 6 digits"}
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return YearMonth{}, &core.MalformedFilenameError{Name: token, Reason: "date token is not numeric"}
		}
	}
	year, _ := strconv.Atoi(token[:4])
	month, _ := strconv.Atoi(token[4:])
	if month < 1 || month > 12 {
		return YearMonth{}, &core.MalformedFilenameError{Name: token, Reason: fmt.Sprintf("month %02d out of range", month)}
	}
	return YearMonth{Year: year, Month: month}, nil
}

// MustParse is Parse for constants; it panics on a bad token.
func MustParse(token string) YearMonth {
	ym, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return ym
}

// ParseRange extracts the trailing _YYYYMM-YYYYMM token of a chunk file name.
// Directory components and the extension are ignored.
func ParseRange(filename string) (start, end YearMonth, err error) {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return start, end, &core.MalformedFilenameError{Name: base, Reason: "no _YYYYMM-YYYYMM suffix"}
	}
	from, to, ok := strings.Cut(stem[i+1:], "-")
	if !ok {
		return start, end, &core.MalformedFilenameError{Name: base, Reason: "date range has no '-' separator"}
	}
	if start, err = Parse(from); err != nil {
		return start, end, &core.MalformedFilenameError{Name: base, Reason: "bad start token " + from}
	}
	if end, err = Parse(to); err != nil {
		return start, end, &core.MalformedFilenameError{Name: base, Reason: "bad end token " + to}
	}
	return start, end, nil
}

// Index returns the number of months since year 0, January.
func (ym YearMonth) Index() int {
	return ym.Year*12 + ym.Month - 1
}

func fromIndex(idx int) YearMonth {
	year := idx / 12
	month := idx % 12
	if month < 0 {
		month += 12
		year--
	}
	return YearMonth{Year: year, Month: month + 1}
}

// AddMonths returns ym shifted by n months (n may be negative).
func (ym YearMonth) AddMonths(n int) YearMonth {
	return fromIndex(ym.Index() + n)
}

// Next is AddMonths(1).
func (ym YearMonth) Next() YearMonth { return ym.AddMonths(1) }

// MonthDistance counts the whole months strictly between a and b. It is 0
// when b is the month after a, -1 when they are equal, and more negative the
// further b lies before a. Callers decide what a negative distance means.
func MonthDistance(a, b YearMonth) int {
	return b.Index() - a.Index() - 1
}

// IsNextMonth reports whether b is exactly one calendar month after a.
func IsNextMonth(a, b YearMonth) bool {
	return MonthDistance(a, b) == 0
}

// Compare returns -1, 0 or +1.
func (ym YearMonth) Compare(other YearMonth) int {
	switch a, b := ym.Index(), other.Index(); {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }
func (ym YearMonth) After(other YearMonth) bool  { return ym.Compare(other) > 0 }

// IsZero reports whether ym is the zero value.
func (ym YearMonth) IsZero() bool { return ym == YearMonth{} }

// String renders the YYYYMM token.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d%02d", ym.Year, ym.Month)
}

// Range is an inclusive span of months, as carried by one chunk file.
type Range struct {
	Start YearMonth
	End   YearMonth
}

// Months returns the number of months covered, inclusive of both ends.
func (r Range) Months() int {
	return r.End.Index() - r.Start.Index() + 1
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}
