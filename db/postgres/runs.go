package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gridsim/pkg/api"
)

// =============================================================================
// SIMULATION RUNS
// =============================================================================

// CreateRun inserts a run in the created state
func (s *Store) CreateRun(ctx context.Context, run *api.SimulationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = api.RunCreated
	}
	if run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_engine.simulation_runs (
			id, run_name, topology_root_node_id, billing_cycle_month, billing_cycle_year,
			status, simulation_start_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Name, run.RootNodeID, run.BillingMonth, run.BillingYear, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns nil, nil when the run does not exist
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*api.SimulationRun, error) {
	var (
		run     api.SimulationRun
		status  string
		started pq.NullTime
		ended   pq.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_name, topology_root_node_id, billing_cycle_month, billing_cycle_year,
		       status, simulation_start_timestamp, simulation_end_timestamp
		FROM simulation_engine.simulation_runs
		WHERE id = $1`, id,
	).Scan(&run.ID, &run.Name, &run.RootNodeID, &run.BillingMonth, &run.BillingYear, &status, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	run.Status = api.RunStatus(status)
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if ended.Valid {
		run.EndedAt = &ended.Time
	}
	return &run, nil
}

// UpdateRunStatus records the final status and end timestamp
func (s *Store) UpdateRunStatus(ctx context.Context, id uuid.UUID, status api.RunStatus, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE simulation_engine.simulation_runs
		SET status = $2, simulation_end_timestamp = $3
		WHERE id = $1`,
		id, string(status), endedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s does not exist", id)
	}
	return nil
}

// =============================================================================
// TARIFFS
// =============================================================================

// GetSelectedPolicy returns nil, nil when the run has no policy
func (s *Store) GetSelectedPolicy(ctx context.Context, runID uuid.UUID) (*api.SelectedPolicy, error) {
	var (
		p          api.SelectedPolicy
		policyType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, policy_type, fixed_charge_per_kw, fac_charge_per_kwh_imported, tax_rate_on_energy_charges
		FROM simulation_engine.simulation_selected_policies
		WHERE run_id = $1`, runID,
	).Scan(&p.RunID, &policyType, &p.FixedChargePerKW, &p.FACPerKWhImported, &p.TaxRateOnEnergyCharges)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selected policy: %w", err)
	}
	p.Type = api.PolicyType(policyType)
	return &p, nil
}

// GetNetMeteringParams returns nil, nil when the run has none
func (s *Store) GetNetMeteringParams(ctx context.Context, runID uuid.UUID) (*api.NetMeteringParams, error) {
	var p api.NetMeteringParams
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, retail_price_per_kwh
		FROM simulation_engine.net_metering_policy_params
		WHERE run_id = $1`, runID,
	).Scan(&p.RunID, &p.RetailPricePerKWh)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get net metering params: %w", err)
	}
	return &p, nil
}

// GetGrossMeteringParams returns nil, nil when the run has none
func (s *Store) GetGrossMeteringParams(ctx context.Context, runID uuid.UUID) (*api.GrossMeteringParams, error) {
	var p api.GrossMeteringParams
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, import_retail_price_per_kwh, export_wholesale_price_per_kwh
		FROM simulation_engine.gross_metering_policy_params
		WHERE run_id = $1`, runID,
	).Scan(&p.RunID, &p.ImportRetailPricePerKWh, &p.ExportWholesalePricePerKWh)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gross metering params: %w", err)
	}
	return &p, nil
}

// GetTimeOfUsePeriods returns the run's windows in configured order
func (s *Store) GetTimeOfUsePeriods(ctx context.Context, runID uuid.UUID) ([]api.TOUPeriod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time_period_label, to_char(start_time, 'HH24:MI:SS'), to_char(end_time, 'HH24:MI:SS'),
		       import_retail_rate_per_kwh, export_wholesale_rate_per_kwh
		FROM simulation_engine.tou_rate_policy_params
		WHERE run_id = $1
		ORDER BY sort_order, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query time-of-use periods: %w", err)
	}
	defer rows.Close()

	var periods []api.TOUPeriod
	for rows.Next() {
		var p api.TOUPeriod
		if err := rows.Scan(&p.Label, &p.StartTime, &p.EndTime, &p.ImportRatePerKWh, &p.ExportRatePerKWh); err != nil {
			return nil, fmt.Errorf("failed to scan time-of-use period: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// PolicyParams carries the policy-specific records saved with a selected policy.
// Only the record matching the policy type is written.
type PolicyParams struct {
	Net     *api.NetMeteringParams
	Gross   *api.GrossMeteringParams
	Periods []api.TOUPeriod
}

// SaveSelectedPolicy replaces the run's policy and its parameters atomically
func (s *Store) SaveSelectedPolicy(ctx context.Context, p *api.SelectedPolicy, params PolicyParams) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"simulation_selected_policies",
			"net_metering_policy_params",
			"gross_metering_policy_params",
			"tou_rate_policy_params",
		} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM simulation_engine.`+table+` WHERE run_id = $1`, p.RunID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO simulation_engine.simulation_selected_policies (
				run_id, policy_type, fixed_charge_per_kw, fac_charge_per_kwh_imported, tax_rate_on_energy_charges
			) VALUES ($1, $2, $3, $4, $5)`,
			p.RunID, string(p.Type), p.FixedChargePerKW, p.FACPerKWhImported, p.TaxRateOnEnergyCharges,
		); err != nil {
			return fmt.Errorf("failed to insert selected policy: %w", err)
		}

		switch p.Type {
		case api.PolicySimpleNet:
			if params.Net == nil {
				return nil
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO simulation_engine.net_metering_policy_params (run_id, retail_price_per_kwh)
				VALUES ($1, $2)`, p.RunID, params.Net.RetailPricePerKWh)
			if err != nil {
				return fmt.Errorf("failed to insert net metering params: %w", err)
			}
		case api.PolicyGross:
			if params.Gross == nil {
				return nil
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO simulation_engine.gross_metering_policy_params (
					run_id, import_retail_price_per_kwh, export_wholesale_price_per_kwh
				) VALUES ($1, $2, $3)`,
				p.RunID, params.Gross.ImportRetailPricePerKWh, params.Gross.ExportWholesalePricePerKWh)
			if err != nil {
				return fmt.Errorf("failed to insert gross metering params: %w", err)
			}
		case api.PolicyTimeOfUse:
			for i, period := range params.Periods {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO simulation_engine.tou_rate_policy_params (
						run_id, time_period_label, start_time, end_time,
						import_retail_rate_per_kwh, export_wholesale_rate_per_kwh, sort_order
					) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					p.RunID, period.Label, period.StartTime, period.EndTime,
					period.ImportRatePerKWh, period.ExportRatePerKWh, i)
				if err != nil {
					return fmt.Errorf("failed to insert time-of-use period %q: %w", period.Label, err)
				}
			}
		}
		return nil
	})
}
