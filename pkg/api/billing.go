package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EnergySummary is the imported/exported energy of a house or subtree over a range.
type EnergySummary struct {
	ImportedKWh float64 `json:"imported_kwh"`
	ExportedKWh float64 `json:"exported_kwh"`
}

// Add returns the component-wise sum.
func (s EnergySummary) Add(o EnergySummary) EnergySummary {
	return EnergySummary{
		ImportedKWh: s.ImportedKWh + o.ImportedKWh,
		ExportedKWh: s.ExportedKWh + o.ExportedKWh,
	}
}

// Rounded returns the summary rounded half away from zero to 2 decimal places.
func (s EnergySummary) Rounded() EnergySummary {
	return EnergySummary{
		ImportedKWh: decimal.NewFromFloat(s.ImportedKWh).Round(2).InexactFloat64(),
		ExportedKWh: decimal.NewFromFloat(s.ExportedKWh).Round(2).InexactFloat64(),
	}
}

// HouseBill is the persisted outcome of billing one house in one run.
type HouseBill struct {
	ID               uuid.UUID       `json:"id"`
	RunID            uuid.UUID       `json:"simulation_run_id"`
	HouseID          uuid.UUID       `json:"house_node_id"`
	PolicyType       PolicyType      `json:"policy_type"`
	TotalImportedKWh float64         `json:"total_energy_imported_kwh"`
	TotalExportedKWh float64         `json:"total_energy_exported_kwh"`
	NetBalanceKWh    float64         `json:"net_energy_balance_kwh"`
	Amount           decimal.Decimal `json:"calculated_bill_amount"`
	Details          json.RawMessage `json:"bill_details"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SkippedHouse records a house a run could not bill.
type SkippedHouse struct {
	HouseID uuid.UUID `json:"house_node_id"`
	Reason  string    `json:"reason"`
	Error   string    `json:"error"`
}

// RunResult summarises a finished simulation run.
type RunResult struct {
	RunID        uuid.UUID       `json:"simulation_run_id"`
	Status       RunStatus       `json:"status"`
	PolicyType   PolicyType      `json:"policy_type,omitempty"`
	BillingMonth int             `json:"billing_cycle_month"`
	BillingYear  int             `json:"billing_cycle_year"`
	HousesTotal  int             `json:"houses_total"`
	BillsCreated int             `json:"bills_created"`
	Skipped      []SkippedHouse  `json:"skipped_houses"`
	TotalBilled  decimal.Decimal `json:"total_billed"`
	Bills        []*HouseBill    `json:"bills,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      time.Time       `json:"ended_at"`
}
