package timeseries

import (
	"time"

	"gridsim/pkg/units"
)

// Grid returns the half-open 15-minute grid a raw series spanning
// [first, last] is completed onto. The grid starts at first floored to the
// interval and runs for one calendar year, extended to cover last when the
// raw data runs longer. Both ends are hour aligned.
//
// One calendar year holds every month, day and time of day exactly once
// apart from Feb 29, so the grid always fills the reference year.
func Grid(first, last time.Time) []time.Time {
	start := units.Floor(first, units.Interval)

	end := units.Ceil(start.AddDate(1, 0, 0), time.Hour)
	if tail := units.Ceil(last, time.Hour); tail.After(end) {
		end = tail
	}

	n := int(end.Sub(start) / units.Interval)
	grid := make([]time.Time, 0, n)
	for t := start; t.Before(end); t = t.Add(units.Interval) {
		grid = append(grid, t)
	}
	return grid
}
