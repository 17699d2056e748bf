// Package timeseries provides interval series and their completion onto the
// canonical 15-minute grid.
package timeseries

import (
	"sort"
	"time"

	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// Point is one timestamped reading.
type Point struct {
	Time  time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Series is an ordered sequence of points.
type Series []Point

// FromArrays zips parallel timestamp and value slices.
func FromArrays(ts []time.Time, vs []float64) (Series, error) {
	if len(ts) != len(vs) {
		return nil, gserrors.NewDataMismatchError("", len(ts), len(vs))
	}
	s := make(Series, len(ts))
	for i := range ts {
		s[i] = Point{Time: ts[i], Value: vs[i]}
	}
	return s, nil
}

// Validate checks that the series can be interpolated: at least two points
// with strictly increasing timestamps.
func (s Series) Validate() error {
	if len(s) < 2 {
		return gserrors.NewValidationError("", "series needs at least 2 points, got %d", len(s))
	}
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return gserrors.NewValidationError("",
				"timestamps not strictly increasing at index %d (%s after %s)",
				i, s[i].Time.Format(time.RFC3339), s[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Times returns the timestamps.
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Time
	}
	return out
}

// Values returns the values.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Sum adds every value.
func (s Series) Sum() float64 {
	var total float64
	for _, p := range s {
		total += p.Value
	}
	return total
}

// Span is the distance between the first and last timestamp.
func (s Series) Span() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Time.Sub(s[0].Time)
}

// Between returns the points in [start, end).
func (s Series) Between(start, end time.Time) Series {
	out := make(Series, 0)
	for _, p := range s {
		if !p.Time.Before(start) && p.Time.Before(end) {
			out = append(out, p)
		}
	}
	return out
}

// Scale multiplies every value by factor into a new series.
func (s Series) Scale(factor float64) Series {
	out := make(Series, len(s))
	for i, p := range s {
		out[i] = Point{Time: p.Time, Value: p.Value * factor}
	}
	return out
}

// Canonicalize re-indexes a completed series onto the reference year.
// Feb 29 readings are dropped, the first reading wins when two timestamps
// land on the same reference slot, and the result is sorted.
func Canonicalize(s Series) Series {
	seen := make(map[int64]bool, len(s))
	out := make(Series, 0, units.IntervalsPerReferenceYear)
	for _, p := range s {
		t := p.Time.UTC()
		if t.Month() == time.February && t.Day() == 29 {
			continue
		}
		ref := units.ToReferenceYear(t)
		key := ref.Unix()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Point{Time: ref, Value: p.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
