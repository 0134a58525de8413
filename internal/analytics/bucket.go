package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is a bucket granularity.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists every granularity a record is rolled into.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// ErrUnknownPeriod is returned for a period outside daily|weekly|monthly.
var ErrUnknownPeriod = errors.New("analytics: unknown period")

// ParsePeriod normalizes a period name.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
}

// BucketStart returns the start of the bucket containing t. Days are calendar
// days in loc, weeks run Monday through Sunday, months are calendar months.
func BucketStart(p Period, t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	y, m, d := lt.Date()
	switch p {
	case PeriodWeekly:
		offset := (int(lt.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case PeriodMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// BucketEnd returns the exclusive end of the bucket beginning at start.
func BucketEnd(p Period, start time.Time) time.Time {
	y, m, d := start.Date()
	loc := start.Location()
	switch p {
	case PeriodWeekly:
		return time.Date(y, m, d+7, 0, 0, 0, 0, loc)
	case PeriodMonthly:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
}

// PreviousBucketStart returns the start of the bucket immediately before the
// one beginning at start.
func PreviousBucketStart(p Period, start time.Time, loc *time.Location) time.Time {
	return BucketStart(p, start.Add(-time.Nanosecond), loc)
}
