package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// GrossDetails are the gross metering specific figures.
type GrossDetails struct {
	ImportPricePerKWh decimal.Decimal `json:"import_retail_price_kwh"`
	ExportPricePerKWh decimal.Decimal `json:"export_wholesale_price_kwh"`
}

// GrossMetering charges all imports at retail and credits all exports at
// the wholesale price.
type GrossMetering struct {
	base
}

// PolicyType implements Strategy.
func (s *GrossMetering) PolicyType() api.PolicyType { return api.PolicyGross }

// PolicyConfig implements Strategy.
func (s *GrossMetering) PolicyConfig(ctx context.Context, runID uuid.UUID, common api.SelectedPolicy) (*PolicyConfig, error) {
	cfg, err := s.commonConfig(api.PolicyGross, runID, common)
	if err != nil {
		return nil, err
	}

	params, err := s.policies.GetGrossMeteringParams(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load gross metering parameters: %w", err)
	}
	if params == nil {
		return nil, gserrors.NewNotFoundError("gross metering parameters", runID.String())
	}

	cfg.ImportPricePerKWh = decimal.NewFromFloat(params.ImportRetailPricePerKWh)
	cfg.ExportPricePerKWh = decimal.NewFromFloat(params.ExportWholesalePricePerKWh)
	if err := nonNegative(runID, map[string]decimal.Decimal{
		"import_retail_price_per_kwh":    cfg.ImportPricePerKWh,
		"export_wholesale_price_per_kwh": cfg.ExportPricePerKWh,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalculateBillComponents implements Strategy.
func (s *GrossMetering) CalculateBillComponents(cfg *PolicyConfig, in BillInput) (*Breakdown, error) {
	imported := decimal.NewFromFloat(in.Summary.ImportedKWh)
	exported := decimal.NewFromFloat(in.Summary.ExportedKWh)

	importCharge := imported.Mul(cfg.ImportPricePerKWh)
	exportCredit := exported.Mul(cfg.ExportPricePerKWh)

	bd, fixed := newBreakdown(cfg, in, imported, exported)
	fac := imported.Mul(cfg.FACPerKWh)
	tax := taxOn(importCharge, cfg.TaxRate)
	total := importCharge.Add(fixed).Add(fac).Add(tax).Sub(exportCredit)

	bd.EnergyCharges = money(importCharge)
	bd.ExportCredit = money(exportCredit)
	bd.FACCharges = money(fac)
	bd.TaxAmount = money(tax)
	bd.Total = money(total)
	bd.Gross = &GrossDetails{
		ImportPricePerKWh: cfg.ImportPricePerKWh,
		ExportPricePerKWh: cfg.ExportPricePerKWh,
	}
	return bd, nil
}
