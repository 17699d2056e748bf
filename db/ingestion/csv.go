// Package ingestion turns raw meter files into canonical load series. Files
// are read whole, validated, completed onto the 15-minute grid and stored.
package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridsim/internal/timeseries"
	gserrors "gridsim/pkg/errors"
)

// DefaultLayouts are tried in order; the first that parses every row wins
var DefaultLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"02.01.2006 15:04",
}

// ParseCSV reads a meter file whose first column is a timestamp and second
// column is consumption in kWh. Extra columns are ignored. A first row whose
// timestamp and value both fail to parse is taken as a header.
func ParseCSV(r io.Reader, layouts []string) (timeseries.Series, error) {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, gserrors.NewValidationError("", "unreadable csv: %v", err)
	}
	records = dropBlank(records)
	if len(records) > 0 && isHeader(records[0], layouts) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, gserrors.NewValidationError("", "file contains no readings")
	}

	stamps := make([]string, len(records))
	values := make([]float64, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, gserrors.NewValidationError("", "line %d: expected at least 2 columns, got %d", i+1, len(rec))
		}
		stamps[i] = strings.TrimSpace(rec[0])
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, gserrors.NewValidationError("", "line %d: value %q is not numeric", i+1, rec[1])
		}
		values[i] = v
	}

	times, err := parseTimes(stamps, layouts)
	if err != nil {
		return nil, err
	}

	series, err := timeseries.FromArrays(times, values)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	return series, nil
}

// parseTimes finds the single layout that parses the whole column
func parseTimes(stamps []string, layouts []string) ([]time.Time, error) {
	for _, layout := range layouts {
		times, ok := parseAll(stamps, layout)
		if ok {
			return times, nil
		}
	}
	return nil, gserrors.NewValidationError("", "timestamps match none of the layouts %q", layouts)
}

func parseAll(stamps []string, layout string) ([]time.Time, bool) {
	out := make([]time.Time, len(stamps))
	for i, s := range stamps {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return nil, false
		}
		out[i] = t.UTC()
	}
	return out, true
}

func isHeader(rec []string, layouts []string) bool {
	if len(rec) < 2 {
		return false
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err == nil {
		return false
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, strings.TrimSpace(rec[0])); err == nil {
			return false
		}
	}
	return true
}

func dropBlank(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// describe renders a short label for log lines
func describe(s timeseries.Series) string {
	if len(s) == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d points %s..%s", len(s), s[0].Time.Format(time.RFC3339), s[len(s)-1].Time.Format(time.RFC3339))
}
