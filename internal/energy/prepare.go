package energy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridsim/internal/timeseries"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// ProfileSource yields the profile of a house.
type ProfileSource interface {
	HouseProfile(ctx context.Context, houseID uuid.UUID) (*HouseProfile, error)
}

// LoadProfileReader resolves which series backs a house's load.
type LoadProfileReader interface {
	// GetLoadProfileByHouseID returns nil, nil when the house has none
	GetLoadProfileByHouseID(ctx context.Context, houseID uuid.UUID) (*api.LoadProfile, error)
}

// PatternReader reads a template's stored annual pattern.
type PatternReader interface {
	GetPatternsByTemplateID(ctx context.Context, templateID int64) (timeseries.Series, error)
}

// SeriesReader reads file-derived load series and the solar reference.
type SeriesReader interface {
	GetLoadSeries(ctx context.Context, profileID uuid.UUID) (timeseries.Series, error)
	GetSolarReference(ctx context.Context, siteID int64) (timeseries.Series, error)
}

// SolarReader resolves a house's solar installation.
type SolarReader interface {
	// GetSolarInstallation returns nil, nil when the house has no panels
	GetSolarInstallation(ctx context.Context, houseID uuid.UUID) (*api.SolarInstallation, error)
}

// Sources bundles the stores a Preparer reads from.
type Sources struct {
	LoadProfiles LoadProfileReader
	Patterns     PatternReader
	Series       SeriesReader
	Solar        SolarReader
}

// PreparerConfig configures profile preparation.
type PreparerConfig struct {
	// SolarSiteID selects the per-kW generation reference series.
	SolarSiteID int64
}

// DefaultPreparerConfig returns the default configuration.
func DefaultPreparerConfig() PreparerConfig {
	return PreparerConfig{SolarSiteID: 1}
}

// Preparer builds house profiles from the stored load and solar series.
type Preparer struct {
	src    Sources
	cfg    PreparerConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewPreparer creates a preparer.
func NewPreparer(src Sources, cfg PreparerConfig) *Preparer {
	return &Preparer{
		src:    src,
		cfg:    cfg,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
}

// WithLogger sets the logger.
func (p *Preparer) WithLogger(l zerolog.Logger) *Preparer {
	p.logger = l
	return p
}

// WithClock sets the clock used to age solar installations.
func (p *Preparer) WithClock(now func() time.Time) *Preparer {
	p.now = now
	return p
}

// HouseProfile loads the house's load series, derives its solar series and
// joins them. A house without solar panels generates nothing; a house
// without a load profile is not found.
func (p *Preparer) HouseProfile(ctx context.Context, houseID uuid.UUID) (*HouseProfile, error) {
	load, err := p.loadSeries(ctx, houseID)
	if err != nil {
		return nil, err
	}
	if len(load) == 0 {
		return &HouseProfile{HouseID: houseID}, nil
	}

	solar, err := p.solarSeries(ctx, houseID, load)
	if err != nil {
		return nil, err
	}

	return NewHouseProfile(houseID, load, solar)
}

func (p *Preparer) loadSeries(ctx context.Context, houseID uuid.UUID) (timeseries.Series, error) {
	lp, err := p.src.LoadProfiles.GetLoadProfileByHouseID(ctx, houseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile of house %s: %w", houseID, err)
	}
	if lp == nil {
		return nil, gserrors.NewNotFoundError("load profile", houseID.String())
	}

	switch lp.Source {
	case api.LoadFromFile:
		s, err := p.src.Series.GetLoadSeries(ctx, lp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read load series %s: %w", lp.ID, err)
		}
		return s, nil
	case api.LoadFromTemplate:
		if lp.TemplateID == nil {
			return nil, gserrors.NewValidationError(lp.ID.String(), "template load profile has no template")
		}
		s, err := p.src.Patterns.GetPatternsByTemplateID(ctx, *lp.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %d pattern: %w", *lp.TemplateID, err)
		}
		return s, nil
	default:
		return nil, gserrors.NewValidationError(lp.ID.String(), "unsupported load source %q", lp.Source)
	}
}

func (p *Preparer) solarSeries(ctx context.Context, houseID uuid.UUID, load timeseries.Series) (timeseries.Series, error) {
	inst, err := p.src.Solar.GetSolarInstallation(ctx, houseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solar installation of house %s: %w", houseID, err)
	}
	if inst == nil || inst.InstalledCapacityKW <= 0 {
		return load.Scale(0), nil
	}

	ref, err := p.src.Series.GetSolarReference(ctx, p.cfg.SolarSiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to read solar reference %d: %w", p.cfg.SolarSiteID, err)
	}

	eff := SolarEfficiency(inst, p.now())
	p.logger.Debug().
		Str("house_id", houseID.String()).
		Float64("capacity_kw", inst.InstalledCapacityKW).
		Float64("efficiency", eff).
		Msg("scaling solar reference")

	return ref.Scale(inst.InstalledCapacityKW * eff), nil
}
