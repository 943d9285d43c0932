package daterange

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format accepted on input and used in output.
const DateLayout = "2006-01-02"

// Filter keywords accepted by the resolver.
const (
	FilterToday     = "today"
	FilterYesterday = "yesterday"
	FilterLastWeek  = "last_week"
	FilterLastMonth = "last_month"
)

// Interval is an inclusive range of calendar dates.
type Interval struct {
	Start time.Time
	End   time.Time
}

// StartDate returns the start formatted as YYYY-MM-DD.
func (i Interval) StartDate() string { return i.Start.Format(DateLayout) }

// EndDate returns the end formatted as YYYY-MM-DD.
func (i Interval) EndDate() string { return i.End.Format(DateLayout) }

// String renders the interval as "<start> to <end>".
func (i Interval) String() string {
	return fmt.Sprintf("%s to %s", i.StartDate(), i.EndDate())
}

// Resolver turns request parameters into a concrete Interval.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a resolver using the server's local clock.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock creates a resolver with a custom clock, mainly for tests.
func NewResolverWithClock(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve applies, in order: filter keyword, explicit from/to pair, single
// sided error, default to today. An unknown filter is ignored.
func (r *Resolver) Resolve(filter, from, to string) (Interval, error) {
	today := localDate(r.now())

	var interval Interval
	switch {
	case filter == FilterToday:
		interval = Interval{Start: today, End: today}
	case filter == FilterYesterday:
		y := today.AddDate(0, 0, -1)
		interval = Interval{Start: y, End: y}
	case filter == FilterLastWeek:
		interval = Interval{Start: today.AddDate(0, 0, -7), End: today}
	case filter == FilterLastMonth:
		interval = Interval{Start: today.AddDate(0, 0, -30), End: today}
	case from != "" && to != "":
		start, err := parseDate("from", from)
		if err != nil {
			return Interval{}, err
		}
		end, err := parseDate("to", to)
		if err != nil {
			return Interval{}, err
		}
		interval = Interval{Start: start, End: end}
	case from != "":
		return Interval{}, &ValidationError{Kind: ErrMissingDateParameter, Field: "to"}
	case to != "":
		return Interval{}, &ValidationError{Kind: ErrMissingDateParameter, Field: "from"}
	default:
		interval = Interval{Start: today, End: today}
	}

	if interval.Start.After(interval.End) {
		return Interval{}, &ValidationError{Kind: ErrInvalidRange}
	}
	return interval, nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, &ValidationError{Kind: ErrInvalidDateFormat, Field: field, Value: value, Err: err}
	}
	return t, nil
}

func localDate(t time.Time) time.Time {
	t = t.In(time.Local)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
