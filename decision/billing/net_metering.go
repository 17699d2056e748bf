package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// NetDetails are the simple net metering specific figures.
type NetDetails struct {
	NetUsageKWh       decimal.Decimal `json:"net_usage_kwh"`
	RetailRatePerKWh  decimal.Decimal `json:"retail_rate_per_kwh"`
	CreditAmount      decimal.Decimal `json:"credit_amount_calculated"`
	CreditCarriedOver bool            `json:"credit_carried_over"`
}

// NetMetering bills the positive net of import over export at a single
// retail rate. Surplus export is reported as a credit but not deducted.
type NetMetering struct {
	base
}

// PolicyType implements Strategy.
func (s *NetMetering) PolicyType() api.PolicyType { return api.PolicySimpleNet }

// PolicyConfig implements Strategy.
func (s *NetMetering) PolicyConfig(ctx context.Context, runID uuid.UUID, common api.SelectedPolicy) (*PolicyConfig, error) {
	cfg, err := s.commonConfig(api.PolicySimpleNet, runID, common)
	if err != nil {
		return nil, err
	}

	params, err := s.policies.GetNetMeteringParams(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load net metering parameters: %w", err)
	}
	if params == nil {
		return nil, gserrors.NewNotFoundError("net metering parameters", runID.String())
	}

	cfg.RetailPricePerKWh = decimal.NewFromFloat(params.RetailPricePerKWh)
	if err := nonNegative(runID, map[string]decimal.Decimal{"retail_price_per_kwh": cfg.RetailPricePerKWh}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalculateBillComponents implements Strategy.
func (s *NetMetering) CalculateBillComponents(cfg *PolicyConfig, in BillInput) (*Breakdown, error) {
	imported := decimal.NewFromFloat(in.Summary.ImportedKWh)
	exported := decimal.NewFromFloat(in.Summary.ExportedKWh)
	net := imported.Sub(exported)

	energyCharge := decimal.Zero
	credit := decimal.Zero
	if net.IsPositive() {
		energyCharge = net.Mul(cfg.RetailPricePerKWh)
	} else if net.IsNegative() {
		credit = net.Abs().Mul(cfg.RetailPricePerKWh)
	}

	bd, fixed := newBreakdown(cfg, in, imported, exported)
	fac := imported.Mul(cfg.FACPerKWh)
	tax := taxOn(energyCharge, cfg.TaxRate)
	arrears := decimal.Zero
	total := energyCharge.Add(fixed).Add(fac).Add(tax).Sub(arrears)

	bd.EnergyCharges = money(energyCharge)
	bd.ExportCredit = decimal.Zero
	bd.FACCharges = money(fac)
	bd.TaxAmount = money(tax)
	bd.Total = money(total)
	bd.Net = &NetDetails{
		NetUsageKWh:       quantity(net),
		RetailRatePerKWh:  cfg.RetailPricePerKWh,
		CreditAmount:      money(credit),
		CreditCarriedOver: credit.IsPositive(),
	}
	return bd, nil
}
