package ingestion

import (
	"time"

	"gridsim/internal/timeseries"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// MaxSpanDays bounds how much history one file may carry
const MaxSpanDays = 366

// ValidateOptions configures raw file validation
type ValidateOptions struct {
	// MinDays is the shortest span a file must cover
	MinDays int
	// MaxIntervalHours is the widest gap tolerated between readings
	MaxIntervalHours int
	// FifteenMinute demands every gap be exactly one interval
	FifteenMinute bool
}

// DefaultValidateOptions returns the default options
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{
		MinDays:          1,
		MaxIntervalHours: 24,
	}
}

// ValidateRaw checks a parsed meter file before it is completed. The series
// must be sorted.
func ValidateRaw(s timeseries.Series, opts ValidateOptions) error {
	if len(s) < 2 {
		return gserrors.NewValidationError("", "file needs at least 2 readings, got %d", len(s))
	}

	first, last := s[0].Time, s[len(s)-1].Time
	if !first.Before(last) {
		return gserrors.NewValidationError("", "first timestamp %s is not before last %s",
			first.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	days := int(last.Sub(first).Hours() / 24)
	if days > MaxSpanDays {
		return gserrors.NewValidationError("", "data spans %d days, at most %d allowed", days, MaxSpanDays)
	}
	if days < opts.MinDays {
		return gserrors.NewValidationError("", "data must span at least %d days, got %d", opts.MinDays, days)
	}

	if opts.FifteenMinute {
		for i := 1; i < len(s); i++ {
			if gap := s[i].Time.Sub(s[i-1].Time); gap != units.Interval {
				return gserrors.NewValidationError("", "reading %d is %s after the previous one, expected %s",
					i, gap, units.Interval)
			}
		}
		return nil
	}

	limit := time.Duration(opts.MaxIntervalHours) * time.Hour
	for i := 1; i < len(s); i++ {
		gap := s[i].Time.Sub(s[i-1].Time)
		if gap <= 0 {
			return gserrors.NewValidationError("", "duplicate timestamp %s at reading %d",
				s[i].Time.Format(time.RFC3339), i)
		}
		if gap > limit {
			return gserrors.NewValidationError("", "gap of %s before reading %d exceeds %d hours",
				gap, i, opts.MaxIntervalHours)
		}
	}
	return nil
}
