// Package daterange splits inclusive date ranges into calendar-aligned chunks.
package daterange

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Granularity selects the chunk boundary.
type Granularity string

const (
	// HalfMonth splits on the 1st and the 16th, keeping chunks within 16 days.
	HalfMonth Granularity = "half_month"
	Month     Granularity = "month"
	Quarter   Granularity = "quarter"
)

// Range is an inclusive span of calendar days. Start and End are UTC midnights.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day returns a single-day range.
func Day(d time.Time) Range {
	d = truncate(d)
	return Range{Start: d, End: d}
}

// Days returns the number of calendar days in r.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r Range) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date into a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Chunk splits [from, to] into contiguous, non-overlapping ranges whose
// boundaries fall on calendar period edges. Only the first start and the
// last end may fall mid-period.
func Chunk(from, to time.Time, g Granularity) ([]Range, error) {
	from, to = truncate(from), truncate(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s", to.Format(DateLayout), from.Format(DateLayout))
	}

	var months int
	switch g {
	case HalfMonth:
		return chunkHalfMonths(from, to), nil
	case Month:
		months = 1
	case Quarter:
		months = 3
	default:
		return nil, fmt.Errorf("unknown granularity %q", g)
	}

	var chunks []Range
	start := from
	for !start.After(to) {
		end := periodStart(start, months).AddDate(0, months, -1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, Range{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}

	return chunks, nil
}

func chunkHalfMonths(from, to time.Time) []Range {
	var chunks []Range
	start := from
	for !start.After(to) {
		var end time.Time
		if start.Day() <= 15 {
			end = time.Date(start.Year(), start.Month(), 15, 0, 0, 0, 0, time.UTC)
		} else {
			end = periodStart(start, 1).AddDate(0, 1, -1)
		}
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, Range{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}

// periodStart returns the first day of the month or quarter containing d.
func periodStart(d time.Time, months int) time.Time {
	m := int(d.Month()) - 1
	m -= m % months
	return time.Date(d.Year(), time.Month(m+1), 1, 0, 0, 0, 0, time.UTC)
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
