// Package units provides canonical interval constants and calendar helpers.
package units

import (
	"fmt"
	"time"
)

// Unit represents a measurable quantity.
type Unit string

const (
	UnitKWh      Unit = "kWh"
	UnitKW       Unit = "kW"
	UnitKWhPerKW Unit = "kWh/kW"
)

const (
	// IntervalMinutes is the resolution of every canonical series.
	IntervalMinutes = 15
	// Interval is IntervalMinutes as a duration.
	Interval = IntervalMinutes * time.Minute
	// IntervalsPerDay is the number of points in one daily pattern.
	IntervalsPerDay = 24 * 60 / IntervalMinutes
	// ReferenceYear is the non-leap year every stored canonical series is indexed on.
	ReferenceYear = 2023
	// DaysPerReferenceYear is the length of the reference year.
	DaysPerReferenceYear = 365
	// IntervalsPerReferenceYear is the length of a canonical series.
	IntervalsPerReferenceYear = IntervalsPerDay * DaysPerReferenceYear
)

// ReferenceYearStart is the origin of every canonical series.
func ReferenceYearStart() time.Time {
	return time.Date(ReferenceYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// ToReferenceYear keeps month, day and time of day and replaces the year.
// Feb 29 has no counterpart in the reference year and normalizes to Mar 1.
func ToReferenceYear(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(ReferenceYear, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the exclusive end of t's day, i.e. the next midnight.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// Floor rounds t down to a multiple of d since the Unix epoch.
func Floor(t time.Time, d time.Duration) time.Time {
	return t.UTC().Truncate(d)
}

// Ceil rounds t up to a multiple of d since the Unix epoch.
func Ceil(t time.Time, d time.Duration) time.Time {
	f := Floor(t, d)
	if f.Equal(t) {
		return f
	}
	return f.Add(d)
}

// BillingPeriod returns the half-open [start, end) range of a billing month.
func BillingPeriod(year, month int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid billing month %d", month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}
