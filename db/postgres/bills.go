package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridsim/pkg/api"
)

// CreateBill stores a bill. A second bill for the same run and house
// replaces the first and keeps its id.
func (s *Store) CreateBill(ctx context.Context, bill *api.HouseBill) (uuid.UUID, error) {
	if bill.ID == uuid.Nil {
		bill.ID = uuid.New()
	}

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO simulation_engine.house_bills (
			id, simulation_run_id, house_node_id, policy_type,
			total_energy_imported_kwh, total_energy_exported_kwh, net_energy_balance_kwh,
			calculated_bill_amount, bill_details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (simulation_run_id, house_node_id) DO UPDATE SET
			policy_type               = EXCLUDED.policy_type,
			total_energy_imported_kwh = EXCLUDED.total_energy_imported_kwh,
			total_energy_exported_kwh = EXCLUDED.total_energy_exported_kwh,
			net_energy_balance_kwh    = EXCLUDED.net_energy_balance_kwh,
			calculated_bill_amount    = EXCLUDED.calculated_bill_amount,
			bill_details              = EXCLUDED.bill_details,
			created_at                = EXCLUDED.created_at
		RETURNING id`,
		bill.ID, bill.RunID, bill.HouseID, string(bill.PolicyType),
		bill.TotalImportedKWh, bill.TotalExportedKWh, bill.NetBalanceKWh,
		bill.Amount.StringFixed(2), []byte(bill.Details), bill.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create bill: %w", err)
	}
	return id, nil
}

// ListBillsByRun returns a run's bills ordered by house
func (s *Store) ListBillsByRun(ctx context.Context, runID uuid.UUID) ([]*api.HouseBill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, simulation_run_id, house_node_id, policy_type,
		       total_energy_imported_kwh, total_energy_exported_kwh, net_energy_balance_kwh,
		       calculated_bill_amount::text, bill_details, created_at
		FROM simulation_engine.house_bills
		WHERE simulation_run_id = $1
		ORDER BY house_node_id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	bills := make([]*api.HouseBill, 0)
	for rows.Next() {
		var (
			b          api.HouseBill
			policyType string
			amount     string
			details    []byte
		)
		if err := rows.Scan(
			&b.ID, &b.RunID, &b.HouseID, &policyType,
			&b.TotalImportedKWh, &b.TotalExportedKWh, &b.NetBalanceKWh,
			&amount, &details, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		b.PolicyType = api.PolicyType(policyType)
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid bill amount %q: %w", amount, err)
		}
		b.Details = details
		bills = append(bills, &b)
	}
	return bills, rows.Err()
}
