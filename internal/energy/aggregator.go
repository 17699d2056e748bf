package energy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// Topology is the node lookup the aggregator walks.
type Topology interface {
	// GetNodeByID returns nil, nil for an unknown id
	GetNodeByID(ctx context.Context, id uuid.UUID) (*api.Node, error)
	// GetHousesByParentNodeID returns every house in the node's subtree
	GetHousesByParentNodeID(ctx context.Context, id uuid.UUID) ([]api.Node, error)
	GetHousesBySubstationID(ctx context.Context, id uuid.UUID) ([]api.Node, error)
}

// Aggregator sums imported and exported energy for houses and subtrees.
type Aggregator struct {
	topology Topology
	profiles ProfileSource
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(topology Topology, profiles ProfileSource) *Aggregator {
	return &Aggregator{
		topology: topology,
		profiles: profiles,
		logger:   zerolog.Nop(),
	}
}

// WithLogger sets the logger.
func (a *Aggregator) WithLogger(l zerolog.Logger) *Aggregator {
	a.logger = l
	return a
}

// Aggregate sums energy over [start, end) for a house, or for every house
// under any other node.
func (a *Aggregator) Aggregate(ctx context.Context, nodeID uuid.UUID, start, end time.Time) (api.EnergySummary, error) {
	node, err := a.node(ctx, nodeID)
	if err != nil {
		return api.EnergySummary{}, err
	}

	houses, err := a.HousesUnder(ctx, *node)
	if err != nil {
		return api.EnergySummary{}, err
	}

	var total api.EnergySummary
	for _, h := range houses {
		s, err := a.house(ctx, h.ID, start, end)
		if err != nil {
			return api.EnergySummary{}, err
		}
		total = total.Add(s)
	}
	return total, nil
}

// HouseSummary aggregates a single house over whole days from startDate to
// endDate inclusive, rounded to 2 decimal places.
func (a *Aggregator) HouseSummary(ctx context.Context, houseID uuid.UUID, startDate, endDate time.Time) (api.EnergySummary, error) {
	node, err := a.node(ctx, houseID)
	if err != nil {
		return api.EnergySummary{}, err
	}
	// a node of another type is not a house either
	if !node.IsHouse() {
		return api.EnergySummary{}, gserrors.NewNotFoundError("house", houseID.String())
	}
	sum, err := a.house(ctx, houseID, units.StartOfDay(startDate), units.EndOfDay(endDate))
	if err != nil {
		return api.EnergySummary{}, err
	}
	return sum.Rounded(), nil
}

// NodeSummary aggregates any node over whole days from startDate to endDate
// inclusive. Houses are summed exactly and only the total is rounded.
func (a *Aggregator) NodeSummary(ctx context.Context, nodeID uuid.UUID, startDate, endDate time.Time) (api.EnergySummary, error) {
	sum, err := a.Aggregate(ctx, nodeID, units.StartOfDay(startDate), units.EndOfDay(endDate))
	if err != nil {
		return api.EnergySummary{}, err
	}
	return sum.Rounded(), nil
}

// HousesUnder lists the houses a node covers. A house covers itself. A
// substation whose subtree query is empty falls back to the houses directly
// registered against it.
func (a *Aggregator) HousesUnder(ctx context.Context, node api.Node) ([]api.Node, error) {
	if node.IsHouse() {
		return []api.Node{node}, nil
	}

	houses, err := a.topology.GetHousesByParentNodeID(ctx, node.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list houses under %s: %w", node.ID, err)
	}
	if len(houses) == 0 && node.Type == api.NodeSubstation {
		houses, err = a.topology.GetHousesBySubstationID(ctx, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list houses of substation %s: %w", node.ID, err)
		}
	}

	seen := make(map[uuid.UUID]bool, len(houses))
	out := make([]api.Node, 0, len(houses))
	for _, h := range houses {
		if !h.IsHouse() || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out, nil
}

func (a *Aggregator) node(ctx context.Context, id uuid.UUID) (*api.Node, error) {
	node, err := a.topology.GetNodeByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node %s: %w", id, err)
	}
	if node == nil {
		return nil, gserrors.NewNotFoundError("node", id.String())
	}
	return node, nil
}

// house sums one house. A house whose profile is missing or inconsistent
// contributes zeros.
func (a *Aggregator) house(ctx context.Context, houseID uuid.UUID, start, end time.Time) (api.EnergySummary, error) {
	profile, err := a.profiles.HouseProfile(ctx, houseID)
	if err != nil {
		if gserrors.IsNotFound(err) || gserrors.IsDataMismatch(err) {
			a.logger.Warn().
				Err(err).
				Str("house_id", houseID.String()).
				Msg("house has no usable profile, counting zero energy")
			return api.EnergySummary{}, nil
		}
		return api.EnergySummary{}, err
	}
	return SumProfile(profile, start, end), nil
}
