// Package api defines the plain records exchanged between the engine and its stores.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType classifies a topology node.
type NodeType string

const (
	NodeSubstation  NodeType = "SUBSTATION"
	NodeTransformer NodeType = "TRANSFORMER"
	NodeHouse       NodeType = "HOUSE"
)

// Node is a topology element. Houses are always leaves.
type Node struct {
	ID           uuid.UUID  `json:"id"`
	ParentID     *uuid.UUID `json:"parent_id,omitempty"`
	SubstationID *uuid.UUID `json:"substation_id,omitempty"`
	Type         NodeType   `json:"node_type"`
	Name         string     `json:"name"`
	ConnectionKW *float64   `json:"connection_kw,omitempty"` // sanctioned load for houses
}

// IsHouse reports whether the node is a house.
func (n Node) IsHouse() bool {
	return n.Type == NodeHouse
}

// RunStatus is the lifecycle state of a simulation run.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SimulationRun is one billing simulation over a topology subtree.
type SimulationRun struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"run_name"`
	RootNodeID   uuid.UUID  `json:"topology_root_node_id"`
	BillingMonth int        `json:"billing_cycle_month"`
	BillingYear  int        `json:"billing_cycle_year"`
	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"simulation_start_timestamp,omitempty"`
	EndedAt      *time.Time `json:"simulation_end_timestamp,omitempty"`
}

// PolicyType discriminates the tariff a run is billed under.
type PolicyType string

const (
	PolicySimpleNet PolicyType = "SIMPLE_NET"
	PolicyGross     PolicyType = "GROSS_METERING"
	PolicyTimeOfUse PolicyType = "TOU_RATE"
)

// ParsePolicyType accepts the canonical names case-insensitively.
func ParsePolicyType(s string) (PolicyType, error) {
	switch PolicyType(strings.ToUpper(strings.TrimSpace(s))) {
	case PolicySimpleNet:
		return PolicySimpleNet, nil
	case PolicyGross:
		return PolicyGross, nil
	case PolicyTimeOfUse:
		return PolicyTimeOfUse, nil
	}
	return "", fmt.Errorf("unknown policy type %q", s)
}

// SelectedPolicy is the per-run tariff choice plus the shared tariff fields.
type SelectedPolicy struct {
	RunID                  uuid.UUID  `json:"run_id"`
	Type                   PolicyType `json:"policy_type"`
	FixedChargePerKW       float64    `json:"fixed_charge_per_kw"`
	FACPerKWhImported      float64    `json:"fac_charge_per_kwh_imported"`
	TaxRateOnEnergyCharges float64    `json:"tax_rate_on_energy_charges"`
}

// NetMeteringParams holds the simple net metering rate.
type NetMeteringParams struct {
	RunID             uuid.UUID `json:"run_id"`
	RetailPricePerKWh float64   `json:"retail_price_per_kwh"`
}

// GrossMeteringParams holds separate import and export prices.
type GrossMeteringParams struct {
	RunID                      uuid.UUID `json:"run_id"`
	ImportRetailPricePerKWh    float64   `json:"import_retail_price_per_kwh"`
	ExportWholesalePricePerKWh float64   `json:"export_wholesale_price_per_kwh"`
}

// TOUPeriod is one labeled time-of-day window. StartTime and EndTime are
// "HH:MM" or "HH:MM:SS"; a window with StartTime after EndTime wraps midnight.
type TOUPeriod struct {
	Label            string  `json:"time_period_label"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	ImportRatePerKWh float64 `json:"import_retail_rate_per_kwh"`
	ExportRatePerKWh float64 `json:"export_wholesale_rate_per_kwh"`
}
