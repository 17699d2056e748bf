package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// PeriodDetail is the energy and money attributed to one window.
type PeriodDetail struct {
	Label        string          `json:"period_label"`
	StartTime    string          `json:"start_time"`
	EndTime      string          `json:"end_time"`
	ImportedKWh  decimal.Decimal `json:"imported_kwh"`
	ExportedKWh  decimal.Decimal `json:"exported_kwh"`
	ImportRate   decimal.Decimal `json:"import_rate_per_kwh"`
	ExportRate   decimal.Decimal `json:"export_rate_per_kwh"`
	ImportCost   decimal.Decimal `json:"import_cost_period"`
	ExportCredit decimal.Decimal `json:"export_credit_period"`
}

// TOUDetails are the time-of-use specific figures.
type TOUDetails struct {
	Periods []PeriodDetail `json:"tou_period_details"`
}

// TimeOfUse prices each interval of the billing month at the rates of the
// windows its time of day falls in. Overlapping windows each count the
// interval.
type TimeOfUse struct {
	base
}

// PolicyType implements Strategy.
func (s *TimeOfUse) PolicyType() api.PolicyType { return api.PolicyTimeOfUse }

// PolicyConfig implements Strategy.
func (s *TimeOfUse) PolicyConfig(ctx context.Context, runID uuid.UUID, common api.SelectedPolicy) (*PolicyConfig, error) {
	cfg, err := s.commonConfig(api.PolicyTimeOfUse, runID, common)
	if err != nil {
		return nil, err
	}

	periods, err := s.policies.GetTimeOfUsePeriods(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load time-of-use periods: %w", err)
	}
	if len(periods) == 0 {
		return nil, gserrors.NewNotFoundError("time-of-use periods", runID.String())
	}

	cfg.Windows, err = windowsFromPeriods(periods)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalculateBillComponents implements Strategy. The month filter ignores the
// calendar year, matching the reference-year indexing of profiles.
func (s *TimeOfUse) CalculateBillComponents(cfg *PolicyConfig, in BillInput) (*Breakdown, error) {
	if in.Profile == nil {
		return nil, gserrors.NewDataMismatchError(in.HouseID.String(), 0)
	}

	type acc struct{ imported, exported decimal.Decimal }
	perWindow := make([]acc, len(cfg.Windows))
	for i := range perWindow {
		perWindow[i] = acc{decimal.Zero, decimal.Zero}
	}

	month := time.Month(in.Month)
	for _, iv := range in.Profile.Intervals {
		if iv.Time.UTC().Month() != month {
			continue
		}
		tod := TimeOfDayOf(iv.Time)
		for i, w := range cfg.Windows {
			if w.Contains(tod) {
				perWindow[i].imported = perWindow[i].imported.Add(decimal.NewFromFloat(iv.Imported))
				perWindow[i].exported = perWindow[i].exported.Add(decimal.NewFromFloat(iv.Exported))
			}
		}
	}

	overallImported, overallExported := decimal.Zero, decimal.Zero
	importCost, exportCredit := decimal.Zero, decimal.Zero
	details := make([]PeriodDetail, len(cfg.Windows))
	for i, w := range cfg.Windows {
		a := perWindow[i]
		cost := a.imported.Mul(w.ImportRate)
		credit := a.exported.Mul(w.ExportRate)

		overallImported = overallImported.Add(a.imported)
		overallExported = overallExported.Add(a.exported)
		importCost = importCost.Add(cost)
		exportCredit = exportCredit.Add(credit)

		details[i] = PeriodDetail{
			Label:        w.Label,
			StartTime:    w.Start.String(),
			EndTime:      w.End.String(),
			ImportedKWh:  quantity(a.imported),
			ExportedKWh:  quantity(a.exported),
			ImportRate:   w.ImportRate,
			ExportRate:   w.ExportRate,
			ImportCost:   money(cost),
			ExportCredit: money(credit),
		}
	}

	bd, fixed := newBreakdown(cfg, in, overallImported, overallExported)
	fac := overallImported.Mul(cfg.FACPerKWh)
	tax := taxOn(importCost, cfg.TaxRate)
	total := importCost.Add(fixed).Add(fac).Add(tax).Sub(exportCredit)

	bd.EnergyCharges = money(importCost)
	bd.ExportCredit = money(exportCredit)
	bd.FACCharges = money(fac)
	bd.TaxAmount = money(tax)
	bd.Total = money(total)
	bd.TOU = &TOUDetails{Periods: details}
	return bd, nil
}
