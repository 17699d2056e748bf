package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// TimeOfDay is an offset from midnight with second precision.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = v
	}
	return TimeOfDay(vals[0]*3600 + vals[1]*60 + vals[2]), nil
}

// TimeOfDayOf extracts the time of day of t in UTC.
func TimeOfDayOf(t time.Time) TimeOfDay {
	t = t.UTC()
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Window is a labeled time-of-day range with its own rates.
type Window struct {
	Label      string
	Start      TimeOfDay
	End        TimeOfDay
	ImportRate decimal.Decimal
	ExportRate decimal.Decimal
}

// Contains reports whether tod falls in the window. A window whose start is
// after its end wraps midnight. A window whose start equals its end is empty.
func (w Window) Contains(tod TimeOfDay) bool {
	return MatchesWindow(w.Start, w.End, tod)
}

// MatchesWindow is the window test on raw bounds.
func MatchesWindow(start, end, tod TimeOfDay) bool {
	if start <= end {
		return tod >= start && tod < end
	}
	return tod >= start || tod < end
}

// windowsFromPeriods converts stored periods, keeping their order.
func windowsFromPeriods(periods []api.TOUPeriod) ([]Window, error) {
	windows := make([]Window, 0, len(periods))
	for _, p := range periods {
		start, err := ParseTimeOfDay(p.StartTime)
		if err != nil {
			return nil, gserrors.NewValidationError(p.Label, "bad start time").Wrap(err)
		}
		end, err := ParseTimeOfDay(p.EndTime)
		if err != nil {
			return nil, gserrors.NewValidationError(p.Label, "bad end time").Wrap(err)
		}
		w := Window{
			Label:      p.Label,
			Start:      start,
			End:        end,
			ImportRate: decimal.NewFromFloat(p.ImportRatePerKWh),
			ExportRate: decimal.NewFromFloat(p.ExportRatePerKWh),
		}
		if w.ImportRate.IsNegative() || w.ExportRate.IsNegative() {
			return nil, gserrors.NewValidationError(p.Label, "window rates must be non-negative")
		}
		windows = append(windows, w)
	}
	return windows, nil
}
