// Package pattern synthesizes annual consumption patterns for templates
// from household occupancy.
package pattern

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridsim/internal/timeseries"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// TemplateReader resolves a consumption template.
type TemplateReader interface {
	// GetTemplate returns nil, nil when the template does not exist
	GetTemplate(ctx context.Context, id int64) (*api.ConsumptionTemplate, error)
}

// Store persists template patterns. ReplacePatterns must delete the old
// pattern and insert the new one in a single transaction.
type Store interface {
	TemplateReader
	ReplacePatterns(ctx context.Context, templateID int64, series timeseries.Series) error
}

// TemplateHouses lists the houses whose load is drawn from a template
type TemplateHouses interface {
	GetHouseIDsByTemplateID(ctx context.Context, templateID int64) ([]uuid.UUID, error)
}

// CacheInvalidator drops stale prepared profiles
type CacheInvalidator interface {
	Invalidate(houseID uuid.UUID) error
}

// Synthesizer builds and persists template patterns.
type Synthesizer struct {
	store    Store
	profiles map[api.WorkProfileType]Profile
	houses   TemplateHouses
	cache    CacheInvalidator
	logger   zerolog.Logger
}

// NewSynthesizer creates a synthesizer with the default profile table.
func NewSynthesizer(store Store) *Synthesizer {
	return &Synthesizer{
		store:    store,
		profiles: DefaultProfiles(),
		logger:   zerolog.Nop(),
	}
}

// WithLogger sets the logger.
func (s *Synthesizer) WithLogger(l zerolog.Logger) *Synthesizer {
	s.logger = l
	return s
}

// WithCache drops the cached profiles of a template's houses after its
// pattern is replaced
func (s *Synthesizer) WithCache(c CacheInvalidator, houses TemplateHouses) *Synthesizer {
	s.cache = c
	s.houses = houses
	return s
}

// WithProfile overrides or adds the profile for a work profile type.
func (s *Synthesizer) WithProfile(t api.WorkProfileType, p Profile) *Synthesizer {
	s.profiles[t] = p
	return s
}

// Result summarizes a generation.
type Result struct {
	TemplateID     int64     `json:"template_id"`
	TargetDailyKWh float64   `json:"target_daily_kwh"`
	DailyTotalKWh  float64   `json:"daily_total_kwh"`
	Points         int       `json:"points"`
	Occupants      int       `json:"occupants"`
	Daily          []float64 `json:"daily_pattern"`
}

// DailyPattern builds the normalized 96-point day for the given occupants.
// A pattern summing to zero is returned unnormalized.
func (s *Synthesizer) DailyPattern(items []api.PersonProfileItem, targetDailyKWh float64) ([]float64, error) {
	if targetDailyKWh < 0 {
		return nil, gserrors.NewValidationError("", "target daily energy must be non-negative, got %v", targetDailyKWh)
	}

	pattern := make([]float64, units.IntervalsPerDay)
	for i := range pattern {
		pattern[i] = 1.0
	}
	BaseProfile.Apply(pattern)

	for _, item := range items {
		if item.Count < 0 {
			return nil, gserrors.NewValidationError(string(item.ProfileType), "occupant count must be non-negative, got %d", item.Count)
		}
		profile, ok := s.profiles[item.ProfileType]
		if !ok {
			return nil, gserrors.NewValidationError(string(item.ProfileType), "unknown work profile type")
		}
		for n := 0; n < item.Count; n++ {
			profile.Apply(pattern)
		}
	}

	var sum float64
	for _, v := range pattern {
		sum += v
	}
	if sum == 0 {
		return pattern, nil
	}

	factor := targetDailyKWh / sum
	for i := range pattern {
		pattern[i] *= factor
	}
	return pattern, nil
}

// AnnualPattern replicates a daily pattern across the reference year.
func AnnualPattern(daily []float64) timeseries.Series {
	out := make(timeseries.Series, 0, len(daily)*units.DaysPerReferenceYear)
	t := units.ReferenceYearStart()
	for d := 0; d < units.DaysPerReferenceYear; d++ {
		for _, v := range daily {
			out = append(out, timeseries.Point{Time: t, Value: v})
			t = t.Add(units.Interval)
		}
	}
	return out
}

// Generate synthesizes the template's pattern and replaces the stored one.
func (s *Synthesizer) Generate(ctx context.Context, templateID int64, items []api.PersonProfileItem) (*Result, error) {
	tmpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, gserrors.NewNotFoundError("consumption template", strconv.FormatInt(templateID, 10))
	}

	daily, err := s.DailyPattern(items, tmpl.TargetDailyKWh)
	if err != nil {
		return nil, err
	}
	annual := AnnualPattern(daily)

	start := time.Now()
	if err := s.store.ReplacePatterns(ctx, templateID, annual); err != nil {
		return nil, fmt.Errorf("failed to replace patterns for template %d: %w", templateID, err)
	}

	s.invalidate(ctx, templateID)

	result := &Result{
		TemplateID:     templateID,
		TargetDailyKWh: tmpl.TargetDailyKWh,
		Points:         len(annual),
		Daily:          daily,
	}
	for _, v := range daily {
		result.DailyTotalKWh += v
	}
	for _, item := range items {
		result.Occupants += item.Count
	}

	s.logger.Info().
		Int64("template_id", templateID).
		Int("points", result.Points).
		Int("occupants", result.Occupants).
		Float64("daily_kwh", result.DailyTotalKWh).
		Dur("persist", time.Since(start)).
		Msg("template pattern regenerated")

	return result, nil
}

// invalidate drops cached profiles built on the old pattern. Failures leave
// entries to expire with their TTL and are only logged.
func (s *Synthesizer) invalidate(ctx context.Context, templateID int64) {
	if s.cache == nil || s.houses == nil {
		return
	}
	ids, err := s.houses.GetHouseIDsByTemplateID(ctx, templateID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("template_id", templateID).Msg("failed to list template houses")
		return
	}
	for _, id := range ids {
		if err := s.cache.Invalidate(id); err != nil {
			s.logger.Warn().Err(err).Str("house_id", id.String()).Msg("failed to invalidate cached profile")
		}
	}
}

// hourOf maps a daily pattern index to its hour of day.
func hourOf(i int) int {
	return (i * units.IntervalMinutes) / 60
}
