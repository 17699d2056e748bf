// Package billing provides the tariff strategies that turn energy summaries
// into itemized house bills.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridsim/internal/energy"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// PolicyStore reads tariff parameters keyed by run id. Every getter
// returns nil, nil when the record does not exist.
type PolicyStore interface {
	GetSelectedPolicy(ctx context.Context, runID uuid.UUID) (*api.SelectedPolicy, error)
	GetNetMeteringParams(ctx context.Context, runID uuid.UUID) (*api.NetMeteringParams, error)
	GetGrossMeteringParams(ctx context.Context, runID uuid.UUID) (*api.GrossMeteringParams, error)
	GetTimeOfUsePeriods(ctx context.Context, runID uuid.UUID) ([]api.TOUPeriod, error)
}

// BillSink persists house bills.
type BillSink interface {
	CreateBill(ctx context.Context, bill *api.HouseBill) (uuid.UUID, error)
}

// PolicyConfig is the resolved tariff of a run: shared fields plus the
// parameters of the selected policy.
type PolicyConfig struct {
	Type             api.PolicyType
	FixedChargePerKW decimal.Decimal
	FACPerKWh        decimal.Decimal
	TaxRate          decimal.Decimal

	// SIMPLE_NET
	RetailPricePerKWh decimal.Decimal

	// GROSS_METERING
	ImportPricePerKWh decimal.Decimal
	ExportPricePerKWh decimal.Decimal

	// TOU_RATE
	Windows []Window
}

// BillInput is everything a strategy needs to bill one house.
type BillInput struct {
	HouseID          uuid.UUID
	Summary          api.EnergySummary
	SanctionedLoadKW float64
	Month            int
	Year             int
	Profile          *energy.HouseProfile
}

// Breakdown is the itemized bill. Amounts are rounded to cents; totals are
// computed before rounding.
type Breakdown struct {
	HouseID          uuid.UUID       `json:"house_node_id"`
	BillingMonth     int             `json:"billing_cycle_month"`
	BillingYear      int             `json:"billing_cycle_year"`
	PolicyType       api.PolicyType  `json:"policy_type"`
	TotalImportedKWh decimal.Decimal `json:"total_imported_kwh"`
	TotalExportedKWh decimal.Decimal `json:"total_exported_kwh"`

	EnergyCharges    decimal.Decimal `json:"energy_charges"`
	ExportCredit     decimal.Decimal `json:"total_export_credit"`
	FixedChargePerKW decimal.Decimal `json:"fixed_charge_per_kw"`
	SanctionedLoadKW decimal.Decimal `json:"sanctioned_load_kw"`
	FixedCharges     decimal.Decimal `json:"fixed_charges"`
	FACPerKWh        decimal.Decimal `json:"fac_charge_per_kwh"`
	FACCharges       decimal.Decimal `json:"fac_charges"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxAmount        decimal.Decimal `json:"tax_amount_on_energy"`
	Arrears          decimal.Decimal `json:"arrears"`
	Total            decimal.Decimal `json:"total_bill_amount_calculated"`

	Net   *NetDetails   `json:"net_metering,omitempty"`
	Gross *GrossDetails `json:"gross_metering,omitempty"`
	TOU   *TOUDetails   `json:"time_of_use,omitempty"`
}

// Strategy is one tariff calculator.
type Strategy interface {
	// PolicyType returns the discriminator this strategy handles
	PolicyType() api.PolicyType

	// PolicyConfig merges the run's policy parameters with the shared fields
	PolicyConfig(ctx context.Context, runID uuid.UUID, common api.SelectedPolicy) (*PolicyConfig, error)

	// CalculateBillComponents is a pure function of its inputs
	CalculateBillComponents(cfg *PolicyConfig, in BillInput) (*Breakdown, error)

	// StoreBillDetails persists the breakdown as a house bill
	StoreBillDetails(ctx context.Context, runID, houseID uuid.UUID, b *Breakdown) (*api.HouseBill, error)
}

// Engine dispatches to strategies by policy type
type Engine struct {
	strategies map[api.PolicyType]Strategy
}

// NewEngine creates an engine with no strategies registered
func NewEngine() *Engine {
	return &Engine{
		strategies: make(map[api.PolicyType]Strategy),
	}
}

// NewDefaultEngine creates an engine with the three built-in tariffs
func NewDefaultEngine(policies PolicyStore, bills BillSink) *Engine {
	e := NewEngine()
	RegisterDefaultStrategies(e, policies, bills)
	return e
}

// RegisterDefaultStrategies registers the net, gross and time-of-use tariffs
func RegisterDefaultStrategies(e *Engine, policies PolicyStore, bills BillSink) {
	b := base{policies: policies, bills: bills, now: time.Now}
	e.RegisterStrategies(
		&NetMetering{base: b},
		&GrossMetering{base: b},
		&TimeOfUse{base: b},
	)
}

// RegisterStrategy adds a strategy, replacing any for the same policy type
func (e *Engine) RegisterStrategy(s Strategy) {
	e.strategies[s.PolicyType()] = s
}

// RegisterStrategies adds multiple strategies
func (e *Engine) RegisterStrategies(strategies ...Strategy) {
	for _, s := range strategies {
		e.RegisterStrategy(s)
	}
}

// Strategy returns the strategy for a policy type
func (e *Engine) Strategy(t api.PolicyType) (Strategy, error) {
	s, ok := e.strategies[t]
	if !ok {
		return nil, gserrors.NewValidationError(string(t), "no billing strategy registered for policy type")
	}
	return s, nil
}

// =============================================================================
// SHARED STRATEGY PLUMBING
// =============================================================================

type base struct {
	policies PolicyStore
	bills    BillSink
	now      func() time.Time
}

// commonConfig converts and validates the shared tariff fields
func (b base) commonConfig(t api.PolicyType, runID uuid.UUID, common api.SelectedPolicy) (*PolicyConfig, error) {
	cfg := &PolicyConfig{
		Type:             t,
		FixedChargePerKW: decimal.NewFromFloat(common.FixedChargePerKW),
		FACPerKWh:        decimal.NewFromFloat(common.FACPerKWhImported),
		TaxRate:          decimal.NewFromFloat(common.TaxRateOnEnergyCharges),
	}
	if err := nonNegative(runID, map[string]decimal.Decimal{
		"fixed_charge_per_kw":         cfg.FixedChargePerKW,
		"fac_charge_per_kwh_imported": cfg.FACPerKWh,
		"tax_rate_on_energy_charges":  cfg.TaxRate,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StoreBillDetails persists a breakdown through the bill sink
func (b base) StoreBillDetails(ctx context.Context, runID, houseID uuid.UUID, bd *Breakdown) (*api.HouseBill, error) {
	details, err := json.Marshal(bd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bill details: %w", err)
	}

	imported := bd.TotalImportedKWh.InexactFloat64()
	exported := bd.TotalExportedKWh.InexactFloat64()
	bill := &api.HouseBill{
		ID:               uuid.New(),
		RunID:            runID,
		HouseID:          houseID,
		PolicyType:       bd.PolicyType,
		TotalImportedKWh: imported,
		TotalExportedKWh: exported,
		NetBalanceKWh:    bd.TotalImportedKWh.Sub(bd.TotalExportedKWh).InexactFloat64(),
		Amount:           bd.Total,
		Details:          details,
		CreatedAt:        b.now(),
	}

	id, err := b.bills.CreateBill(ctx, bill)
	if err != nil {
		return nil, fmt.Errorf("failed to store bill for house %s: %w", houseID, err)
	}
	bill.ID = id
	return bill, nil
}

// newBreakdown fills the fields every tariff shares. The fixed charge is
// independent of energy so it is computed here.
func newBreakdown(cfg *PolicyConfig, in BillInput, imported, exported decimal.Decimal) (*Breakdown, decimal.Decimal) {
	load := decimal.NewFromFloat(in.SanctionedLoadKW)
	fixed := cfg.FixedChargePerKW.Mul(load)

	return &Breakdown{
		HouseID:          in.HouseID,
		BillingMonth:     in.Month,
		BillingYear:      in.Year,
		PolicyType:       cfg.Type,
		TotalImportedKWh: quantity(imported),
		TotalExportedKWh: quantity(exported),
		FixedChargePerKW: cfg.FixedChargePerKW,
		SanctionedLoadKW: load,
		FixedCharges:     money(fixed),
		FACPerKWh:        cfg.FACPerKWh,
		TaxRate:          cfg.TaxRate,
		Arrears:          decimal.Zero,
	}, fixed
}

// taxOn returns tax on a positive base, zero otherwise
func taxOn(amount, rate decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(rate)
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func nonNegative(runID uuid.UUID, fields map[string]decimal.Decimal) error {
	for name, v := range fields {
		if v.IsNegative() {
			return gserrors.NewValidationError(runID.String(), "%s must be non-negative, got %s", name, v)
		}
	}
	return nil
}
