package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsim/internal/energy"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
)

// ===== fakes =====

type memoryPolicies struct {
	selected map[uuid.UUID]*api.SelectedPolicy
	net      map[uuid.UUID]*api.NetMeteringParams
	gross    map[uuid.UUID]*api.GrossMeteringParams
	tou      map[uuid.UUID][]api.TOUPeriod
	err      error
}

func newMemoryPolicies() *memoryPolicies {
	return &memoryPolicies{
		selected: make(map[uuid.UUID]*api.SelectedPolicy),
		net:      make(map[uuid.UUID]*api.NetMeteringParams),
		gross:    make(map[uuid.UUID]*api.GrossMeteringParams),
		tou:      make(map[uuid.UUID][]api.TOUPeriod),
	}
}

func (m *memoryPolicies) GetSelectedPolicy(ctx context.Context, runID uuid.UUID) (*api.SelectedPolicy, error) {
	return m.selected[runID], m.err
}

func (m *memoryPolicies) GetNetMeteringParams(ctx context.Context, runID uuid.UUID) (*api.NetMeteringParams, error) {
	return m.net[runID], m.err
}

func (m *memoryPolicies) GetGrossMeteringParams(ctx context.Context, runID uuid.UUID) (*api.GrossMeteringParams, error) {
	return m.gross[runID], m.err
}

func (m *memoryPolicies) GetTimeOfUsePeriods(ctx context.Context, runID uuid.UUID) ([]api.TOUPeriod, error) {
	return m.tou[runID], m.err
}

type memoryBills struct {
	bills []*api.HouseBill
}

func (m *memoryBills) CreateBill(ctx context.Context, bill *api.HouseBill) (uuid.UUID, error) {
	m.bills = append(m.bills, bill)
	return bill.ID, nil
}

// ===== helpers =====

var common = api.SelectedPolicy{
	FixedChargePerKW:       10,
	FACPerKWhImported:      0.1,
	TaxRateOnEnergyCharges: 0.09,
}

func scenarioInput() BillInput {
	return BillInput{
		HouseID:          uuid.New(),
		Summary:          api.EnergySummary{ImportedKWh: 150.75, ExportedKWh: 50.25},
		SanctionedLoadKW: 5,
		Month:            3,
		Year:             2024,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func setup(t *testing.T) (*Engine, *memoryPolicies, *memoryBills, uuid.UUID) {
	policies := newMemoryPolicies()
	bills := &memoryBills{}
	runID := uuid.New()
	policies.net[runID] = &api.NetMeteringParams{RunID: runID, RetailPricePerKWh: 5.2}
	policies.gross[runID] = &api.GrossMeteringParams{RunID: runID, ImportRetailPricePerKWh: 6, ExportWholesalePricePerKWh: 4}
	policies.tou[runID] = []api.TOUPeriod{{Label: "day", StartTime: "06:00", EndTime: "18:00", ImportRatePerKWh: 4, ExportRatePerKWh: 2}}
	return NewDefaultEngine(policies, bills), policies, bills, runID
}

func config(t *testing.T, e *Engine, pt api.PolicyType, runID uuid.UUID) (Strategy, *PolicyConfig) {
	s, err := e.Strategy(pt)
	require.NoError(t, err)
	cfg, err := s.PolicyConfig(context.Background(), runID, common)
	require.NoError(t, err)
	return s, cfg
}

// ===== simple net metering =====

func TestNetMeteringScenario(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicySimpleNet, runID)

	bd, err := s.CalculateBillComponents(cfg, scenarioInput())
	require.NoError(t, err)

	assertDec(t, "100.5", bd.Net.NetUsageKWh)
	assertDec(t, "522.6", bd.EnergyCharges)
	assertDec(t, "50", bd.FixedCharges)
	assertDec(t, "15.08", bd.FACCharges)
	assertDec(t, "47.03", bd.TaxAmount)
	assertDec(t, "0", bd.Arrears)
	assertDec(t, "634.71", bd.Total)
	assert.Equal(t, api.PolicySimpleNet, bd.PolicyType)
}

func TestNetMeteringCreditIsNotDeducted(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicySimpleNet, runID)

	in := scenarioInput()
	in.Summary = api.EnergySummary{ImportedKWh: 10, ExportedKWh: 30}
	bd, err := s.CalculateBillComponents(cfg, in)
	require.NoError(t, err)

	assertDec(t, "0", bd.EnergyCharges)
	assertDec(t, "0", bd.TaxAmount)
	assertDec(t, "104", bd.Net.CreditAmount)
	assert.True(t, bd.Net.CreditCarriedOver)
	// fixed 50 + fac 1
	assertDec(t, "51", bd.Total)
}

// ===== gross metering =====

func TestGrossMeteringScenario(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicyGross, runID)

	bd, err := s.CalculateBillComponents(cfg, scenarioInput())
	require.NoError(t, err)

	assertDec(t, "904.5", bd.EnergyCharges)
	assertDec(t, "201", bd.ExportCredit)
	assertDec(t, "50", bd.FixedCharges)
	assertDec(t, "15.08", bd.FACCharges)
	assertDec(t, "81.41", bd.TaxAmount)

	// 904.5 + 50 + 15.075 + 81.405 - 201
	assertDec(t, "849.98", bd.Total)
}

func TestGrossMeteringNoImportMeansNoTax(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicyGross, runID)

	in := scenarioInput()
	in.Summary = api.EnergySummary{ImportedKWh: 0, ExportedKWh: 100}
	bd, err := s.CalculateBillComponents(cfg, in)
	require.NoError(t, err)

	assertDec(t, "0", bd.TaxAmount)
	assertDec(t, "-350", bd.Total)
}

// ===== time of use =====

// monthProfile puts `kwh` of import in every interval of March between
// fromHour and toHour, and nothing elsewhere. April gets the same load to
// prove the month filter.
func monthProfile(t *testing.T, fromHour, toHour int, kwh float64) *energy.HouseProfile {
	p := &energy.HouseProfile{HouseID: uuid.New()}
	for _, m := range []time.Month{time.March, time.April} {
		for d := 1; d <= 30; d++ {
			for q := 0; q < 96; q++ {
				ts := time.Date(2023, m, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(q) * 15 * time.Minute)
				iv := energy.Interval{Time: ts}
				h := ts.Hour()
				if h >= fromHour && h < toHour {
					iv.Load, iv.Imported = kwh, kwh
				}
				p.Intervals = append(p.Intervals, iv)
			}
		}
	}
	return p
}

func TestTimeOfUseSingleWindowScenario(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicyTimeOfUse, runID)

	in := scenarioInput()
	in.Profile = monthProfile(t, 6, 18, 0.5)
	bd, err := s.CalculateBillComponents(cfg, in)
	require.NoError(t, err)

	// 30 days * 48 intervals * 0.5 kWh
	imported := dec("720")
	assertDec(t, imported.String(), bd.TotalImportedKWh)
	assertDec(t, imported.Mul(dec("4")).String(), bd.EnergyCharges)
	require.Len(t, bd.TOU.Periods, 1)
	assertDec(t, "2880", bd.TOU.Periods[0].ImportCost)
	assert.Equal(t, "06:00:00", bd.TOU.Periods[0].StartTime)

	// 2880 + 50 + 72 + 259.2
	assertDec(t, "3261.2", bd.Total)
}

func TestTimeOfUseWrapAroundWindow(t *testing.T) {
	_, policies, _, runID := setup(t)
	policies.tou[runID] = []api.TOUPeriod{
		{Label: "day", StartTime: "06:00", EndTime: "22:00", ImportRatePerKWh: 4, ExportRatePerKWh: 2},
		{Label: "night", StartTime: "22:00", EndTime: "06:00", ImportRatePerKWh: 1, ExportRatePerKWh: 0.5},
	}
	e := NewDefaultEngine(policies, &memoryBills{})
	s, cfg := config(t, e, api.PolicyTimeOfUse, runID)

	in := scenarioInput()
	in.Profile = monthProfile(t, 0, 24, 1)
	bd, err := s.CalculateBillComponents(cfg, in)
	require.NoError(t, err)

	// every interval lands in exactly one window
	assertDec(t, "2880", bd.TotalImportedKWh)
	assertDec(t, "1920", bd.TOU.Periods[0].ImportedKWh)
	assertDec(t, "960", bd.TOU.Periods[1].ImportedKWh)
}

func TestTimeOfUseMissingProfile(t *testing.T) {
	e, _, _, runID := setup(t)
	s, cfg := config(t, e, api.PolicyTimeOfUse, runID)

	_, err := s.CalculateBillComponents(cfg, scenarioInput())
	assert.True(t, gserrors.IsDataMismatch(err))
}

func TestWindowMatching(t *testing.T) {
	six, _ := ParseTimeOfDay("06:00")
	eighteen, _ := ParseTimeOfDay("18:00")
	assert.True(t, MatchesWindow(six, eighteen, six))
	assert.False(t, MatchesWindow(six, eighteen, eighteen))
	assert.True(t, MatchesWindow(eighteen, six, TimeOfDay(23*3600)))
	assert.True(t, MatchesWindow(eighteen, six, TimeOfDay(0)))
	assert.False(t, MatchesWindow(eighteen, six, TimeOfDay(12*3600)))
	assert.False(t, MatchesWindow(six, six, six))

	_, err := ParseTimeOfDay("24:00")
	assert.Error(t, err)
	tod, err := ParseTimeOfDay("07:30:15")
	require.NoError(t, err)
	assert.Equal(t, "07:30:15", tod.String())
}

// ===== configuration =====

func TestPolicyConfigErrors(t *testing.T) {
	e, policies, _, _ := setup(t)
	ctx := context.Background()
	unknownRun := uuid.New()

	for _, pt := range []api.PolicyType{api.PolicySimpleNet, api.PolicyGross, api.PolicyTimeOfUse} {
		s, err := e.Strategy(pt)
		require.NoError(t, err)
		_, err = s.PolicyConfig(ctx, unknownRun, common)
		assert.True(t, gserrors.IsNotFound(err), pt)
	}

	s, _ := e.Strategy(api.PolicyGross)
	bad := common
	bad.TaxRateOnEnergyCharges = -1
	policies.gross[unknownRun] = &api.GrossMeteringParams{ImportRetailPricePerKWh: 1}
	_, err := s.PolicyConfig(ctx, unknownRun, bad)
	assert.True(t, gserrors.IsValidation(err))

	policies.tou[unknownRun] = []api.TOUPeriod{{Label: "x", StartTime: "25:00", EndTime: "01:00"}}
	s, _ = e.Strategy(api.PolicyTimeOfUse)
	_, err = s.PolicyConfig(ctx, unknownRun, common)
	assert.True(t, gserrors.IsValidation(err))

	policies.err = errors.New("db down")
	_, err = s.PolicyConfig(ctx, unknownRun, common)
	assert.ErrorIs(t, err, policies.err)

	_, err = e.Strategy("FLAT_RATE")
	assert.True(t, gserrors.IsValidation(err))
}

// ===== determinism and persistence =====

func TestCalculationIsDeterministic(t *testing.T) {
	e, _, _, runID := setup(t)
	in := scenarioInput()
	in.Profile = monthProfile(t, 6, 18, 0.3)

	for _, pt := range []api.PolicyType{api.PolicySimpleNet, api.PolicyGross, api.PolicyTimeOfUse} {
		s, cfg := config(t, e, pt, runID)
		a, err := s.CalculateBillComponents(cfg, in)
		require.NoError(t, err)
		b, err := s.CalculateBillComponents(cfg, in)
		require.NoError(t, err)
		assert.True(t, a.Total.Equal(b.Total), pt)
	}
}

func TestStoreBillDetails(t *testing.T) {
	e, _, bills, runID := setup(t)
	s, cfg := config(t, e, api.PolicySimpleNet, runID)
	in := scenarioInput()

	bd, err := s.CalculateBillComponents(cfg, in)
	require.NoError(t, err)
	bill, err := s.StoreBillDetails(context.Background(), runID, in.HouseID, bd)
	require.NoError(t, err)

	require.Len(t, bills.bills, 1)
	assert.Equal(t, runID, bill.RunID)
	assert.Equal(t, in.HouseID, bill.HouseID)
	assertDec(t, "634.71", bill.Amount)
	assert.InDelta(t, 100.5, bill.NetBalanceKWh, 1e-9)

	var details map[string]any
	require.NoError(t, json.Unmarshal(bill.Details, &details))
	assert.Equal(t, "634.71", details["total_bill_amount_calculated"])
	assert.Equal(t, "SIMPLE_NET", details["policy_type"])
	assert.Contains(t, details, "net_metering")
}
