package pattern

import (
	"gridsim/pkg/api"
)

// HourRange is a half-open [From, To) range of hours. From > To wraps midnight.
type HourRange struct {
	From int
	To   int
}

// Contains reports whether hour falls in the range.
func (r HourRange) Contains(hour int) bool {
	if r.From <= r.To {
		return hour >= r.From && hour < r.To
	}
	return hour >= r.From || hour < r.To
}

// Adjustment multiplies every point whose hour falls in any of Hours.
// An empty Hours list applies to the whole day.
type Adjustment struct {
	Hours  []HourRange
	Factor float64
}

func (a Adjustment) applies(hour int) bool {
	if len(a.Hours) == 0 {
		return true
	}
	for _, r := range a.Hours {
		if r.Contains(hour) {
			return true
		}
	}
	return false
}

// Profile is an ordered list of adjustments applied in sequence.
type Profile struct {
	Name        string
	Adjustments []Adjustment
}

// Apply runs every adjustment over the daily pattern in place.
func (p Profile) Apply(pattern []float64) {
	for i := range pattern {
		hour := hourOf(i)
		for _, a := range p.Adjustments {
			if a.applies(hour) {
				pattern[i] *= a.Factor
			}
		}
	}
}

// BaseProfile is the household-wide time-of-day shape applied once before
// any occupant.
var BaseProfile = Profile{
	Name: "base",
	Adjustments: []Adjustment{
		{Hours: []HourRange{{From: 23, To: 6}}, Factor: 0.5},
		{Hours: []HourRange{{From: 19, To: 22}}, Factor: 1.3},
		{Hours: []HourRange{{From: 6, To: 8}}, Factor: 1.2},
	},
}

// DefaultProfiles returns the per-occupant profile table.
func DefaultProfiles() map[api.WorkProfileType]Profile {
	return map[api.WorkProfileType]Profile{
		api.WorksAtHome: {
			Name:        "Works at home",
			Adjustments: []Adjustment{{Hours: []HourRange{{From: 9, To: 17}}, Factor: 1.15}},
		},
		api.DayWorkerOutside: {
			Name:        "Day worker outside",
			Adjustments: []Adjustment{{Hours: []HourRange{{From: 9, To: 17}}, Factor: 0.6}},
		},
		api.NightWorkerOutside: {
			Name: "Night worker outside",
			Adjustments: []Adjustment{
				{Hours: []HourRange{{From: 22, To: 6}}, Factor: 0.3},
				{Hours: []HourRange{{From: 8, To: 12}, {From: 14, To: 18}}, Factor: 1.25},
			},
		},
		api.Unspecified: {
			Name:        "Unspecified",
			Adjustments: []Adjustment{{Factor: 1.05}},
		},
	}
}
