package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gridsim/internal/timeseries"
	"gridsim/pkg/api"
)

// =============================================================================
// CONSUMPTION TEMPLATES
// =============================================================================

// CreateTemplate inserts a template and sets its id
func (s *Store) CreateTemplate(ctx context.Context, t *api.ConsumptionTemplate) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO simulation_engine.consumption_templates (name, power_kw)
		VALUES ($1, $2)
		RETURNING id`, t.Name, t.TargetDailyKWh,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate returns nil, nil when the template does not exist
func (s *Store) GetTemplate(ctx context.Context, id int64) (*api.ConsumptionTemplate, error) {
	var t api.ConsumptionTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, power_kw
		FROM simulation_engine.consumption_templates
		WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.TargetDailyKWh)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %d: %w", id, err)
	}
	return &t, nil
}

// ReplacePatterns deletes a template's pattern and bulk-loads the new one in
// one transaction, so a failure leaves the previous pattern in place.
func (s *Store) ReplacePatterns(ctx context.Context, templateID int64, series timeseries.Series) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM simulation_engine.consumption_pattern WHERE template_id = $1`, templateID,
		); err != nil {
			return fmt.Errorf("failed to delete patterns: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("simulation_engine", "consumption_pattern", "template_id", "ts", "value"))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		for _, p := range series {
			if _, err := stmt.ExecContext(ctx, templateID, p.Time.UTC(), p.Value); err != nil {
				stmt.Close()
				return fmt.Errorf("failed to copy pattern point: %w", err)
			}
		}
		// An argument-less Exec flushes the COPY buffer
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to flush patterns: %w", err)
		}
		return stmt.Close()
	})
}

// GetPatternsByTemplateID returns the template's pattern ordered by time
func (s *Store) GetPatternsByTemplateID(ctx context.Context, templateID int64) (timeseries.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value
		FROM simulation_engine.consumption_pattern
		WHERE template_id = $1
		ORDER BY ts`, templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var series timeseries.Series
	for rows.Next() {
		var p timeseries.Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.Time = p.Time.UTC()
		series = append(series, p)
	}
	return series, rows.Err()
}

// =============================================================================
// LOAD PROFILES AND SOLAR
// =============================================================================

// CreateLoadProfile inserts a load profile. The newest profile of a house wins.
func (s *Store) CreateLoadProfile(ctx context.Context, p *api.LoadProfile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var templateID sql.NullInt64
	if p.TemplateID != nil {
		templateID = sql.NullInt64{Int64: *p.TemplateID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_engine.load_profiles (id, house_node_id, name, source, template_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.HouseID, p.Name, string(p.Source), templateID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create load profile: %w", err)
	}
	return nil
}

// GetLoadProfileByHouseID returns the newest profile, or nil, nil when the house has none
func (s *Store) GetLoadProfileByHouseID(ctx context.Context, houseID uuid.UUID) (*api.LoadProfile, error) {
	var (
		p          api.LoadProfile
		source     string
		templateID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, house_node_id, name, source, template_id, created_at
		FROM simulation_engine.load_profiles
		WHERE house_node_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, houseID,
	).Scan(&p.ID, &p.HouseID, &p.Name, &source, &templateID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get load profile for house %s: %w", houseID, err)
	}

	p.Source = api.LoadSource(source)
	if templateID.Valid {
		p.TemplateID = &templateID.Int64
	}
	return &p, nil
}

// GetHouseIDsByTemplateID lists the houses with a load profile built from the template
func (s *Store) GetHouseIDsByTemplateID(ctx context.Context, templateID int64) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT house_node_id
		FROM simulation_engine.load_profiles
		WHERE template_id = $1`, templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list houses for template %d: %w", templateID, err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan house id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSolarInstallation returns nil, nil when the house has no panels
func (s *Store) GetSolarInstallation(ctx context.Context, houseID uuid.UUID) (*api.SolarInstallation, error) {
	var inst api.SolarInstallation
	err := s.db.QueryRowContext(ctx, `
		SELECT house_node_id, installed_capacity_kw, tracking, installed_on
		FROM simulation_engine.solar_installations
		WHERE house_node_id = $1`, houseID,
	).Scan(&inst.HouseID, &inst.InstalledCapacityKW, &inst.Tracking, &inst.InstalledOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solar installation for house %s: %w", houseID, err)
	}
	return &inst, nil
}

// SaveSolarInstallation inserts or replaces a house's installation
func (s *Store) SaveSolarInstallation(ctx context.Context, inst *api.SolarInstallation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_engine.solar_installations (house_node_id, installed_capacity_kw, tracking, installed_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (house_node_id) DO UPDATE SET
			installed_capacity_kw = EXCLUDED.installed_capacity_kw,
			tracking              = EXCLUDED.tracking,
			installed_on          = EXCLUDED.installed_on`,
		inst.HouseID, inst.InstalledCapacityKW, inst.Tracking, inst.InstalledOn,
	)
	if err != nil {
		return fmt.Errorf("failed to save solar installation: %w", err)
	}
	return nil
}
