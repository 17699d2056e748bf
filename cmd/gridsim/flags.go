package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gsapi "gridsim/pkg/api"
)

// parseTOUPeriod reads "label,HH:MM,HH:MM,import,export"
func parseTOUPeriod(s string) (gsapi.TOUPeriod, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: want label,start,end,import,export", s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: empty label", s)
	}
	for _, clock := range parts[1:3] {
		if _, err := parseClock(clock); err != nil {
			return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: %w", s, err)
		}
	}

	imp, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: import rate: %w", s, err)
	}
	exp, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: export rate: %w", s, err)
	}
	if imp < 0 || exp < 0 {
		return gsapi.TOUPeriod{}, fmt.Errorf("invalid period %q: rates must not be negative", s)
	}

	return gsapi.TOUPeriod{
		Label:            parts[0],
		StartTime:        parts[1],
		EndTime:          parts[2],
		ImportRatePerKWh: imp,
		ExportRatePerKWh: exp,
	}, nil
}

func parseClock(s string) (time.Time, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q is not HH:MM or HH:MM:SS", s)
}

// parseOccupant reads "profile:count"; a bare profile counts one occupant
func parseOccupant(s string) (gsapi.PersonProfileItem, error) {
	name, count, found := strings.Cut(strings.TrimSpace(s), ":")
	profile, err := gsapi.ParseWorkProfileType(name)
	if err != nil {
		return gsapi.PersonProfileItem{}, err
	}
	item := gsapi.PersonProfileItem{ProfileType: profile, Count: 1}
	if found {
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n < 0 {
			return gsapi.PersonProfileItem{}, fmt.Errorf("invalid occupant count in %q", s)
		}
		item.Count = n
	}
	return item, nil
}
