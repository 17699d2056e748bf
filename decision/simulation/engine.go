// Package simulation provides the Bill Simulation Orchestrator.
// It resolves a run's tariff and topology, bills every house under the
// run's root node and finalizes the run status.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gridsim/decision/billing"
	"gridsim/internal/energy"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// DefaultSanctionedLoadKW is billed when a house has no usable connection_kw.
const DefaultSanctionedLoadKW = 5.0

// RunStore reads and finalizes simulation runs
type RunStore interface {
	// GetRun returns nil, nil when the run does not exist
	GetRun(ctx context.Context, id uuid.UUID) (*api.SimulationRun, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status api.RunStatus, endedAt time.Time) error
}

// Publisher streams bill and run events. Failures never fail a run.
type Publisher interface {
	PublishBill(ctx context.Context, bill *api.HouseBill) error
	PublishRunFinished(ctx context.Context, result *api.RunResult) error
}

// Recorder receives run level metrics
type Recorder interface {
	RunFinished(status api.RunStatus, d time.Duration)
	BillCreated(policy api.PolicyType)
	HouseSkipped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(api.RunStatus, time.Duration) {}
func (nopRecorder) BillCreated(api.PolicyType) {}
func (nopRecorder) HouseSkipped(string) {}

// Engine is the Bill Simulation Orchestrator
type Engine struct {
	runs       RunStore
	policies   billing.PolicyStore
	topology   energy.Topology
	profiles   energy.ProfileSource
	aggregator *energy.Aggregator
	billing    *billing.Engine

	publisher Publisher
	metrics   Recorder
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates a new orchestrator
func NewEngine(runs RunStore, policies billing.PolicyStore, topology energy.Topology, profiles energy.ProfileSource, bills *billing.Engine) *Engine {
	return &Engine{
		runs:       runs,
		policies:   policies,
		topology:   topology,
		profiles:   profiles,
		aggregator: energy.NewAggregator(topology, profiles),
		billing:    bills,
		metrics:    nopRecorder{},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
}

// WithPublisher adds event publishing
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// WithMetrics adds a metrics recorder
func (e *Engine) WithMetrics(r Recorder) *Engine {
	if r != nil {
		e.metrics = r
	}
	return e
}

// WithLogger sets the logger
func (e *Engine) WithLogger(l zerolog.Logger) *Engine {
	e.logger = l
	e.aggregator = e.aggregator.WithLogger(l)
	return e
}

// WithClock overrides time.Now
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// plan is everything resolved before the first house is billed
type plan struct {
	run      *api.SimulationRun
	strategy billing.Strategy
	config   *billing.PolicyConfig
	houses   []api.Node
	start    time.Time
	end      time.Time
}

// Run simulates billing for one run. The run must be in the created state.
// Configuration errors mark the run failed and are returned; per-house
// errors skip that house and are reported in the result.
func (e *Engine) Run(ctx context.Context, runID uuid.UUID) (*api.RunResult, error) {
	startedAt := e.now()

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return nil, gserrors.NewNotFoundError("simulation run", runID.String())
	}
	if run.Status != api.RunCreated {
		return nil, gserrors.NewValidationError(runID.String(), "run is %s, only created runs can be simulated", run.Status)
	}

	result := &api.RunResult{
		RunID:        runID,
		BillingMonth: run.BillingMonth,
		BillingYear:  run.BillingYear,
		Skipped:      make([]api.SkippedHouse, 0),
		TotalBilled:  decimal.Zero,
		Bills:        make([]*api.HouseBill, 0),
		StartedAt:    startedAt,
	}

	log := e.logger.With().Str("run_id", runID.String()).Logger()
	log.Info().
		Int("month", run.BillingMonth).
		Int("year", run.BillingYear).
		Str("root_node_id", run.RootNodeID.String()).
		Msg("simulation started")

	p, err := e.resolve(ctx, run)
	if err != nil {
		return result, e.fail(ctx, result, err)
	}
	result.PolicyType = p.strategy.PolicyType()
	result.HousesTotal = len(p.houses)

	// Houses are billed strictly in sequence
	for _, house := range p.houses {
		if err := ctx.Err(); err != nil {
			return result, e.fail(ctx, result, err)
		}

		bill, err := e.billHouse(ctx, p, house)
		if err != nil {
			reason := skipReason(err)
			result.Skipped = append(result.Skipped, api.SkippedHouse{
				HouseID: house.ID,
				Reason:  reason,
				Error:   err.Error(),
			})
			e.metrics.HouseSkipped(reason)
			log.Warn().
				Err(err).
				Str("house_id", house.ID.String()).
				Str("reason", reason).
				Msg("house skipped")
			continue
		}

		result.BillsCreated++
		result.TotalBilled = result.TotalBilled.Add(bill.Amount)
		result.Bills = append(result.Bills, bill)
		e.metrics.BillCreated(bill.PolicyType)
		e.publishBill(ctx, bill)
	}

	endedAt := e.now()
	if err := e.runs.UpdateRunStatus(ctx, runID, api.RunCompleted, endedAt); err != nil {
		return result, fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	result.Status = api.RunCompleted
	result.EndedAt = endedAt
	e.metrics.RunFinished(api.RunCompleted, endedAt.Sub(startedAt))
	e.publishRun(ctx, result)

	log.Info().
		Str("policy", string(result.PolicyType)).
		Int("houses", result.HousesTotal).
		Int("bills", result.BillsCreated).
		Int("skipped", len(result.Skipped)).
		Str("total_billed", result.TotalBilled.StringFixed(2)).
		Dur("elapsed", endedAt.Sub(startedAt)).
		Msg("simulation completed")

	return result, nil
}

// resolve loads the tariff, the billing period and the house list
func (e *Engine) resolve(ctx context.Context, run *api.SimulationRun) (*plan, error) {
	start, end, err := units.BillingPeriod(run.BillingYear, run.BillingMonth)
	if err != nil {
		return nil, gserrors.NewValidationError(run.ID.String(), "%v", err)
	}

	selected, err := e.policies.GetSelectedPolicy(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load selected policy: %w", err)
	}
	if selected == nil {
		return nil, gserrors.NewNotFoundError("selected policy", run.ID.String())
	}

	strategy, err := e.billing.Strategy(selected.Type)
	if err != nil {
		return nil, err
	}
	cfg, err := strategy.PolicyConfig(ctx, run.ID, *selected)
	if err != nil {
		return nil, err
	}

	root, err := e.topology.GetNodeByID(ctx, run.RootNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root node: %w", err)
	}
	if root == nil {
		return nil, gserrors.NewNotFoundError("topology root node", run.RootNodeID.String())
	}

	houses, err := e.aggregator.HousesUnder(ctx, *root)
	if err != nil {
		return nil, err
	}

	return &plan{
		run:      run,
		strategy: strategy,
		config:   cfg,
		houses:   houses,
		start:    start,
		end:      end,
	}, nil
}

// billHouse prices and stores the bill of one house
func (e *Engine) billHouse(ctx context.Context, p *plan, house api.Node) (*api.HouseBill, error) {
	profile, err := e.profiles.HouseProfile(ctx, house.ID)
	if err != nil {
		return nil, err
	}

	in := billing.BillInput{
		HouseID:          house.ID,
		Summary:          energy.SumProfile(profile, p.start, p.end),
		SanctionedLoadKW: SanctionedLoad(house),
		Month:            p.run.BillingMonth,
		Year:             p.run.BillingYear,
		Profile:          profile,
	}

	breakdown, err := p.strategy.CalculateBillComponents(p.config, in)
	if err != nil {
		return nil, err
	}
	return p.strategy.StoreBillDetails(ctx, p.run.ID, house.ID, breakdown)
}

// fail marks the run failed and returns cause. The status update runs even
// when ctx was cancelled.
func (e *Engine) fail(ctx context.Context, result *api.RunResult, cause error) error {
	endedAt := e.now()
	result.Status = api.RunFailed
	result.Error = cause.Error()
	result.EndedAt = endedAt

	e.logger.Error().
		Err(cause).
		Str("run_id", result.RunID.String()).
		Str("code", gserrors.CodeOf(cause)).
		Msg("simulation failed")

	bg := context.WithoutCancel(ctx)
	if err := e.runs.UpdateRunStatus(bg, result.RunID, api.RunFailed, endedAt); err != nil {
		e.logger.Error().Err(err).Str("run_id", result.RunID.String()).Msg("failed to mark run failed")
	}
	e.metrics.RunFinished(api.RunFailed, endedAt.Sub(result.StartedAt))
	e.publishRun(bg, result)
	return cause
}

func (e *Engine) publishBill(ctx context.Context, bill *api.HouseBill) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishBill(ctx, bill); err != nil {
		e.logger.Warn().Err(err).Str("bill_id", bill.ID.String()).Msg("failed to publish bill event")
	}
}

func (e *Engine) publishRun(ctx context.Context, result *api.RunResult) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishRunFinished(ctx, result); err != nil {
		e.logger.Warn().Err(err).Str("run_id", result.RunID.String()).Msg("failed to publish run event")
	}
}

// SanctionedLoad returns the house's connection_kw, or the default when it
// is missing or not positive.
func SanctionedLoad(house api.Node) float64 {
	if house.ConnectionKW == nil || *house.ConnectionKW <= 0 {
		return DefaultSanctionedLoadKW
	}
	return *house.ConnectionKW
}

// skipReason maps an error to a metrics label
func skipReason(err error) string {
	switch {
	case gserrors.IsNotFound(err):
		return "not_found"
	case gserrors.IsDataMismatch(err):
		return "data_mismatch"
	case gserrors.IsValidation(err):
		return "validation"
	default:
		return "error"
	}
}
