package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

func hourly(start time.Time, values ...float64) Series {
	s := make(Series, len(values))
	for i, v := range values {
		s[i] = Point{Time: start.Add(time.Duration(i) * time.Hour), Value: v}
	}
	return s
}

func TestValidateRejectsShortAndUnordered(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	err := Series{{Time: t0, Value: 1}}.Validate()
	assert.True(t, gserrors.IsValidation(err))

	err = Series{{Time: t0, Value: 1}, {Time: t0, Value: 2}}.Validate()
	assert.True(t, gserrors.IsValidation(err))

	assert.NoError(t, hourly(t0, 1, 2).Validate())
}

func TestFromArraysLengthMismatch(t *testing.T) {
	_, err := FromArrays([]time.Time{time.Now()}, []float64{1, 2})
	assert.True(t, gserrors.IsDataMismatch(err))
}

func TestGridCoversFullYear(t *testing.T) {
	first := time.Date(2023, 3, 10, 10, 7, 0, 0, time.UTC)
	last := first.Add(48 * time.Hour)

	grid := Grid(first, last)

	require.NotEmpty(t, grid)
	assert.Equal(t, time.Date(2023, 3, 10, 10, 0, 0, 0, time.UTC), grid[0])
	// runs through Feb 29 2024 up to the same slot one year later
	assert.Len(t, grid, 366*units.IntervalsPerDay)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 45, 0, 0, time.UTC), grid[len(grid)-1])
}

func TestGridLeapYearAndLongTail(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := Grid(first, first.Add(time.Hour))
	assert.Len(t, grid, 366*units.IntervalsPerDay)

	last := first.AddDate(0, 0, 366).Add(90 * time.Minute)
	grid = Grid(first, last)
	assert.Equal(t, first.AddDate(0, 0, 366).Add(2*time.Hour), grid[len(grid)-1].Add(units.Interval))
}

func TestGridCanonicalizesToReferenceYear(t *testing.T) {
	for _, first := range []time.Time{
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 4, 8, 15, 0, 0, time.UTC),
	} {
		t.Run(first.Format(time.RFC3339), func(t *testing.T) {
			grid := Grid(first, first.Add(48*time.Hour))
			s := make(Series, len(grid))
			for i, ts := range grid {
				s[i] = Point{Time: ts, Value: 1}
			}

			c := Canonicalize(s)
			require.Len(t, c, units.IntervalsPerReferenceYear)
			assert.Equal(t, units.ReferenceYearStart(), c[0].Time)
			for i := 1; i < len(c); i++ {
				require.Equal(t, units.Interval, c[i].Time.Sub(c[i-1].Time))
			}
		})
	}
}

func TestCompleteProducesEvenStrictlyIncreasingGrid(t *testing.T) {
	t0 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	raw := hourly(t0, 1, 3, 2, 5, 4, 6)

	for _, st := range Strategies {
		t.Run(string(st), func(t *testing.T) {
			out, err := NewInterpolator(st).Complete(raw)
			require.NoError(t, err)

			require.True(t, len(out) >= 2)
			for i := 1; i < len(out); i++ {
				assert.Equal(t, units.Interval, out[i].Time.Sub(out[i-1].Time))
			}
			assert.False(t, out[0].Time.After(raw[0].Time))
			assert.False(t, out[len(out)-1].Time.Before(raw[len(raw)-1].Time))
		})
	}
}

func TestLinearHitsControlPointsAndMidpoints(t *testing.T) {
	t0 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	out, err := NewInterpolator(Linear).Complete(hourly(t0, 0, 4))
	require.NoError(t, err)

	assert.InDelta(t, 0, out[0].Value, 1e-9)
	assert.InDelta(t, 1, out[1].Value, 1e-9)
	assert.InDelta(t, 2, out[2].Value, 1e-9)
	assert.InDelta(t, 4, out[4].Value, 1e-9)
}

func TestCompleteRejectsInvalid(t *testing.T) {
	_, err := NewInterpolator(Akima1D).Complete(nil)
	assert.True(t, gserrors.IsValidation(err))
}

func TestParseStrategy(t *testing.T) {
	st, err := ParseStrategy("pchip")
	require.NoError(t, err)
	assert.Equal(t, PChip, st)

	_, err = ParseStrategy("quadratic")
	assert.Error(t, err)
}

func TestCanonicalizeDropsLeapDayAndDuplicates(t *testing.T) {
	s := Series{
		{Time: time.Date(2024, 2, 28, 23, 45, 0, 0, time.UTC), Value: 1},
		{Time: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Value: 2},
		{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 3},
		{Time: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Value: 4},
	}

	out := Canonicalize(s)

	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2023, 2, 28, 23, 45, 0, 0, time.UTC), out[0].Time)
	assert.Equal(t, 3.0, out[1].Value)
}

func TestBetweenIsHalfOpen(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s := hourly(t0, 1, 2, 3)

	got := s.Between(t0, t0.Add(2*time.Hour))
	assert.Len(t, got, 2)
	assert.Equal(t, 3.0, got.Sum())
}
