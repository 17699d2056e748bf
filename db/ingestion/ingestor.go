package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridsim/internal/timeseries"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// Opener opens a meter file by URI
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Archiver keeps a copy of accepted raw files
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

// ProfileStore resolves houses and records their load profiles
type ProfileStore interface {
	GetNodeByID(ctx context.Context, id uuid.UUID) (*api.Node, error)
	CreateLoadProfile(ctx context.Context, p *api.LoadProfile) error
}

// SeriesStore persists canonical series
type SeriesStore interface {
	InsertLoadSeries(ctx context.Context, profileID uuid.UUID, series timeseries.Series) error
	DeleteLoadSeries(ctx context.Context, profileID uuid.UUID) error
	CountLoadPoints(ctx context.Context, profileID uuid.UUID) (int, error)
	InsertSolarReference(ctx context.Context, siteID int64, series timeseries.Series) error
}

// CacheInvalidator drops stale prepared profiles
type CacheInvalidator interface {
	Invalidate(houseID uuid.UUID) error
	// InvalidateAll drops every profile; a new solar reference touches all houses
	InvalidateAll() error
}

// Metrics counts stored points
type Metrics interface {
	PointsIngested(n int)
}

type nopMetrics struct{}

func (nopMetrics) PointsIngested(int) {}

// Config holds ingestion configuration
type Config struct {
	Layouts         []string
	Validate        ValidateOptions
	DefaultStrategy timeseries.Strategy
}

// DefaultConfig returns default ingestion configuration
func DefaultConfig() *Config {
	return &Config{
		Layouts:         DefaultLayouts,
		Validate:        DefaultValidateOptions(),
		DefaultStrategy: timeseries.Linear,
	}
}

// Request describes one meter file upload
type Request struct {
	HouseID uuid.UUID
	Name    string
	// URI is a local path or s3://bucket/key
	URI string
	// FifteenMinute declares the file already sits on the 15-minute grid
	FifteenMinute bool
	// Strategy overrides the configured kernel
	Strategy timeseries.Strategy
}

// Result tracks the outcome of one ingestion
type Result struct {
	ProfileID    uuid.UUID           `json:"profile_id"`
	HouseID      uuid.UUID           `json:"house_node_id"`
	RawPoints    int                 `json:"raw_points"`
	StoredPoints int                 `json:"stored_points"`
	Interpolated bool                `json:"interpolated"`
	Strategy     timeseries.Strategy `json:"strategy,omitempty"`
	ArchiveKey   string              `json:"archive_key,omitempty"`
	Duration     time.Duration       `json:"duration_ns"`
}

// MeterIngestor validates raw meter files and stores them as canonical
// load series
type MeterIngestor struct {
	cfg      *Config
	opener   Opener
	profiles ProfileStore
	series   SeriesStore
	archive  Archiver
	cache    CacheInvalidator
	metrics  Metrics
	logger   zerolog.Logger
}

// NewMeterIngestor creates an ingestor
func NewMeterIngestor(cfg *Config, opener Opener, profiles ProfileStore, series SeriesStore) *MeterIngestor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MeterIngestor{
		cfg:      cfg,
		opener:   opener,
		profiles: profiles,
		series:   series,
		metrics:  nopMetrics{},
		logger:   zerolog.Nop(),
	}
}

// WithArchive keeps a copy of every accepted file
func (m *MeterIngestor) WithArchive(a Archiver) *MeterIngestor {
	m.archive = a
	return m
}

// WithCache sets the profile cache invalidated after each upload
func (m *MeterIngestor) WithCache(c CacheInvalidator) *MeterIngestor {
	m.cache = c
	return m
}

// WithMetrics sets the point counter
func (m *MeterIngestor) WithMetrics(metrics Metrics) *MeterIngestor {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// WithLogger sets the logger
func (m *MeterIngestor) WithLogger(l zerolog.Logger) *MeterIngestor {
	m.logger = l
	return m
}

// Ingest reads the file named by req.URI and stores it for req.HouseID
func (m *MeterIngestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	if m.opener == nil {
		return nil, gserrors.NewValidationError(req.URI, "no file source configured")
	}
	rc, err := m.opener.Open(ctx, req.URI)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return m.IngestReader(ctx, req, rc)
}

// IngestReader stores an already opened file. The whole file is read before
// anything is parsed.
func (m *MeterIngestor) IngestReader(ctx context.Context, req Request, r io.Reader) (*Result, error) {
	start := time.Now()

	if err := m.checkHouse(ctx, req.HouseID); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read meter file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, gserrors.NewValidationError(req.HouseID.String(), "meter file is empty")
	}

	raw, err := ParseCSV(bytes.NewReader(data), m.cfg.Layouts)
	if err != nil {
		return nil, withResource(err, req.HouseID)
	}
	opts := m.cfg.Validate
	opts.FifteenMinute = req.FifteenMinute
	if err := ValidateRaw(raw, opts); err != nil {
		return nil, withResource(err, req.HouseID)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = m.cfg.DefaultStrategy
	}
	canonical, interpolated, err := Complete(raw, req.FifteenMinute, strategy)
	if err != nil {
		return nil, withResource(err, req.HouseID)
	}

	result := &Result{
		ProfileID:    uuid.New(),
		HouseID:      req.HouseID,
		RawPoints:    len(raw),
		StoredPoints: len(canonical),
		Interpolated: interpolated,
	}
	if interpolated {
		result.Strategy = strategy
	}

	if err := m.store(ctx, req, result, canonical); err != nil {
		return nil, err
	}

	if m.archive != nil {
		key := fmt.Sprintf("load-profiles/%s/%s.csv", req.HouseID, result.ProfileID)
		if err := m.archive.Archive(ctx, key, data); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("failed to archive meter file")
		} else {
			result.ArchiveKey = key
		}
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(req.HouseID); err != nil {
			m.logger.Warn().Err(err).Str("house_id", req.HouseID.String()).Msg("failed to invalidate cached profile")
		}
	}
	m.metrics.PointsIngested(len(canonical))

	result.Duration = time.Since(start)
	m.logger.Info().
		Str("house_id", req.HouseID.String()).
		Str("profile_id", result.ProfileID.String()).
		Str("raw", describe(raw)).
		Int("stored_points", result.StoredPoints).
		Bool("interpolated", interpolated).
		Dur("duration", result.Duration).
		Msg("meter file ingested")

	return result, nil
}

// store writes the series before the profile row so a house never points at
// a missing series
func (m *MeterIngestor) store(ctx context.Context, req Request, result *Result, canonical timeseries.Series) error {
	if err := m.series.InsertLoadSeries(ctx, result.ProfileID, canonical); err != nil {
		return fmt.Errorf("failed to insert load series: %w", err)
	}
	if err := m.verify(ctx, result.ProfileID, len(canonical)); err != nil {
		m.discard(ctx, result.ProfileID)
		return err
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("meter upload %s", time.Now().UTC().Format("2006-01-02"))
	}
	profile := &api.LoadProfile{
		ID:      result.ProfileID,
		HouseID: req.HouseID,
		Name:    name,
		Source:  api.LoadFromFile,
	}
	if err := m.profiles.CreateLoadProfile(ctx, profile); err != nil {
		m.discard(ctx, result.ProfileID)
		return fmt.Errorf("failed to create load profile: %w", err)
	}
	return nil
}

// verify checks every point landed
func (m *MeterIngestor) verify(ctx context.Context, profileID uuid.UUID, want int) error {
	got, err := m.series.CountLoadPoints(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to verify load series: %w", err)
	}
	if got != want {
		return gserrors.NewDataMismatchError(profileID.String(), want, got)
	}
	return nil
}

func (m *MeterIngestor) discard(ctx context.Context, profileID uuid.UUID) {
	if err := m.series.DeleteLoadSeries(context.WithoutCancel(ctx), profileID); err != nil {
		m.logger.Error().Err(err).Str("profile_id", profileID.String()).Msg("failed to remove orphaned load series")
	}
}

func (m *MeterIngestor) checkHouse(ctx context.Context, houseID uuid.UUID) error {
	node, err := m.profiles.GetNodeByID(ctx, houseID)
	if err != nil {
		return fmt.Errorf("failed to resolve house %s: %w", houseID, err)
	}
	if node == nil {
		return gserrors.NewNotFoundError("house", houseID.String())
	}
	if !node.IsHouse() {
		return gserrors.NewValidationError(houseID.String(), "node is a %s, not a house", node.Type)
	}
	return nil
}

// IngestSolarReference stores a per-kW generation file as the reference
// series of a site
func (m *MeterIngestor) IngestSolarReference(ctx context.Context, siteID int64, r io.Reader, strategy timeseries.Strategy) (int, error) {
	raw, err := ParseCSV(r, m.cfg.Layouts)
	if err != nil {
		return 0, err
	}
	if err := ValidateRaw(raw, m.cfg.Validate); err != nil {
		return 0, err
	}
	if strategy == "" {
		strategy = m.cfg.DefaultStrategy
	}
	canonical, _, err := Complete(raw, false, strategy)
	if err != nil {
		return 0, err
	}
	if err := m.series.InsertSolarReference(ctx, siteID, canonical); err != nil {
		return 0, fmt.Errorf("failed to insert solar reference: %w", err)
	}
	if m.cache != nil {
		if err := m.cache.InvalidateAll(); err != nil {
			m.logger.Warn().Err(err).Int64("site_id", siteID).Msg("failed to flush cached profiles")
		}
	}
	m.metrics.PointsIngested(len(canonical))
	m.logger.Info().Int64("site_id", siteID).Int("points", len(canonical)).Msg("solar reference ingested")
	return len(canonical), nil
}

// Complete turns a validated raw series into a canonical reference-year
// series. A 15-minute series that already fills the reference year is kept
// as read; anything else is interpolated first.
func Complete(raw timeseries.Series, fifteenMinute bool, strategy timeseries.Strategy) (timeseries.Series, bool, error) {
	if fifteenMinute {
		if c := timeseries.Canonicalize(raw); len(c) == units.IntervalsPerReferenceYear {
			return c, false, nil
		}
	}

	completed, err := timeseries.NewInterpolator(strategy).Complete(raw)
	if err != nil {
		return nil, false, err
	}
	c := timeseries.Canonicalize(completed)
	if len(c) != units.IntervalsPerReferenceYear {
		return nil, false, gserrors.NewDataMismatchError("", units.IntervalsPerReferenceYear, len(c))
	}
	return c, true, nil
}

// withResource tags validation errors with the house they concern
func withResource(err error, houseID uuid.UUID) error {
	var e *gserrors.Error
	if errors.As(err, &e) && e.ResourceID == "" {
		e.ResourceID = houseID.String()
	}
	return err
}
