package ledger

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CLOCK - Injected "now"
// =============================================================================

// Clock supplies the current time. Report windows are computed from it, so
// tests pin it with FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in Location (time.Local when nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// WINDOW - Closed time interval used by reports and list filters
// =============================================================================

type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay is the last millisecond of t's day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func StartOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// =============================================================================
// FILTER RESOLUTION
// =============================================================================

type FilterType string

const (
	FilterDay   FilterType = "day"
	FilterMonth FilterType = "month"
	FilterYear  FilterType = "year"
)

// FilterQuery is the raw, client-supplied window selector.
type FilterQuery struct {
	Type  string
	Date  string // YYYY-MM-DD, for type=day
	Month string // YYYY-MM, for type=month
	Year  string // YYYY, for type=year
}

// IsEmpty reports whether no window was requested at all.
func (q FilterQuery) IsEmpty() bool { return strings.TrimSpace(q.Type) == "" }

// ResolveWindow turns q into a closed local-time window in loc. It is strict:
// an unknown type or a missing or malformed parameter is a *FilterError.
func ResolveWindow(q FilterQuery, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}

	switch FilterType(strings.TrimSpace(q.Type)) {
	case FilterDay:
		if q.Date == "" {
			return Window{}, &FilterError{Field: "date", Message: "Date is required for 'day' filter"}
		}
		d, err := time.ParseInLocation("2006-01-02", q.Date, loc)
		if err != nil {
			return Window{}, &FilterError{Field: "date", Message: "Invalid date format, expected YYYY-MM-DD"}
		}
		return Window{Start: StartOfDay(d), End: EndOfDay(d)}, nil

	case FilterMonth:
		if q.Month == "" {
			return Window{}, &FilterError{Field: "month", Message: "Month is required for 'month' filter"}
		}
		m, err := time.ParseInLocation("2006-01", q.Month, loc)
		if err != nil {
			return Window{}, &FilterError{Field: "month", Message: "Invalid month format, expected YYYY-MM"}
		}
		start := StartOfMonth(m)
		last := start.AddDate(0, 1, -1)
		return Window{Start: start, End: EndOfDay(last)}, nil

	case FilterYear:
		if q.Year == "" {
			return Window{}, &FilterError{Field: "year", Message: "Year is required for 'year' filter"}
		}
		y, err := strconv.Atoi(q.Year)
		if err != nil || y < 1 || y > 9999 {
			return Window{}, &FilterError{Field: "year", Message: "Invalid year format, expected YYYY"}
		}
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end := EndOfDay(time.Date(y, time.December, 31, 0, 0, 0, 0, loc))
		return Window{Start: start, End: end}, nil

	default:
		return Window{}, &FilterError{Field: "type", Message: "Invalid filter type"}
	}
}
