package energy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsim/internal/timeseries"
	"gridsim/internal/topology"
	"gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/units"
)

// ===== fakes =====

type fakeProfiles struct {
	profiles map[uuid.UUID]*HouseProfile
	errs     map[uuid.UUID]error
}

func (f *fakeProfiles) HouseProfile(ctx context.Context, houseID uuid.UUID) (*HouseProfile, error) {
	if err := f.errs[houseID]; err != nil {
		return nil, err
	}
	if p, ok := f.profiles[houseID]; ok {
		return p, nil
	}
	return &HouseProfile{HouseID: houseID}, nil
}

type fakeSources struct {
	loadProfiles map[uuid.UUID]*api.LoadProfile
	loadSeries   map[uuid.UUID]timeseries.Series
	patterns     map[int64]timeseries.Series
	solarRef     timeseries.Series
	installs     map[uuid.UUID]*api.SolarInstallation
}

func (f *fakeSources) GetLoadProfileByHouseID(ctx context.Context, houseID uuid.UUID) (*api.LoadProfile, error) {
	return f.loadProfiles[houseID], nil
}

func (f *fakeSources) GetPatternsByTemplateID(ctx context.Context, templateID int64) (timeseries.Series, error) {
	return f.patterns[templateID], nil
}

func (f *fakeSources) GetLoadSeries(ctx context.Context, profileID uuid.UUID) (timeseries.Series, error) {
	return f.loadSeries[profileID], nil
}

func (f *fakeSources) GetSolarReference(ctx context.Context, siteID int64) (timeseries.Series, error) {
	return f.solarRef, nil
}

func (f *fakeSources) GetSolarInstallation(ctx context.Context, houseID uuid.UUID) (*api.SolarInstallation, error) {
	return f.installs[houseID], nil
}

func (f *fakeSources) sources() Sources {
	return Sources{LoadProfiles: f, Patterns: f, Series: f, Solar: f}
}

// ===== helpers =====

// constantSeries covers the reference year with a constant value per interval.
func constantSeries(v float64) timeseries.Series {
	s := make(timeseries.Series, units.IntervalsPerReferenceYear)
	t := units.ReferenceYearStart()
	for i := range s {
		s[i] = timeseries.Point{Time: t, Value: v}
		t = t.Add(units.Interval)
	}
	return s
}

func mustProfile(t *testing.T, id uuid.UUID, load, solar float64) *HouseProfile {
	p, err := NewHouseProfile(id, constantSeries(load), constantSeries(solar))
	require.NoError(t, err)
	return p
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ===== profile =====

func TestHouseProfileDerivedColumns(t *testing.T) {
	p := mustProfile(t, uuid.New(), 1.0, 0.25)

	iv := p.Intervals[0]
	assert.Equal(t, 0.75, iv.Imported)
	assert.Equal(t, 0.0, iv.Exported)
	assert.Equal(t, -0.75, iv.SolarOffset)
	assert.Equal(t, 0.75, iv.NetUsage)

	p = mustProfile(t, uuid.New(), 0.25, 1.0)
	assert.Equal(t, 0.75, p.Intervals[0].Exported)
	assert.Equal(t, 0.0, p.Intervals[0].Imported)
}

func TestHouseProfileLengthMismatch(t *testing.T) {
	_, err := NewHouseProfile(uuid.New(), constantSeries(1), constantSeries(1)[:10])
	assert.True(t, gserrors.IsDataMismatch(err))
}

func TestSumProfileDiscardsYear(t *testing.T) {
	p := mustProfile(t, uuid.New(), 1.0, 0)

	jan2023 := SumProfile(p, day(2023, 1, 1), day(2023, 2, 1))
	jan2031 := SumProfile(p, day(2031, 1, 1), day(2031, 2, 1))

	assert.InDelta(t, 31*96.0, jan2023.ImportedKWh, 1e-6)
	assert.Equal(t, jan2023, jan2031)
}

func TestSumProfileAcrossNewYear(t *testing.T) {
	p := mustProfile(t, uuid.New(), 1.0, 0)

	dec := SumProfile(p, day(2024, 12, 1), day(2025, 1, 1))
	assert.InDelta(t, 31*96.0, dec.ImportedKWh, 1e-6)

	winter := SumProfile(p, day(2024, 12, 31), day(2025, 1, 2))
	assert.InDelta(t, 2*96.0, winter.ImportedKWh, 1e-6)
}

func TestSumProfileEmptyAndInvertedRange(t *testing.T) {
	assert.Equal(t, api.EnergySummary{}, SumProfile(&HouseProfile{}, day(2023, 1, 1), day(2023, 2, 1)))

	p := mustProfile(t, uuid.New(), 1.0, 0)
	assert.Equal(t, api.EnergySummary{}, SumProfile(p, day(2023, 3, 1), day(2023, 2, 1)))
}

func TestSolarEfficiency(t *testing.T) {
	asOf := day(2024, 1, 1)

	fixed := &api.SolarInstallation{InstalledOn: asOf}
	assert.InDelta(t, 1.0, SolarEfficiency(fixed, asOf), 1e-9)

	tracking := &api.SolarInstallation{Tracking: true, InstalledOn: asOf}
	assert.InDelta(t, 1.2, SolarEfficiency(tracking, asOf), 1e-9)

	tenYears := &api.SolarInstallation{InstalledOn: asOf.AddDate(-10, 0, 0)}
	assert.InDelta(t, 0.94, SolarEfficiency(tenYears, asOf), 1e-3)

	ancient := &api.SolarInstallation{Tracking: true, InstalledOn: asOf.AddDate(-200, 0, 0)}
	assert.InDelta(t, 0.6, SolarEfficiency(ancient, asOf), 1e-9)

	assert.Zero(t, SolarEfficiency(nil, asOf))
}

// ===== preparer =====

func TestPreparerFileLoadWithSolar(t *testing.T) {
	house := uuid.New()
	lp := &api.LoadProfile{ID: uuid.New(), HouseID: house, Source: api.LoadFromFile}
	now := day(2024, 6, 1)
	src := &fakeSources{
		loadProfiles: map[uuid.UUID]*api.LoadProfile{house: lp},
		loadSeries:   map[uuid.UUID]timeseries.Series{lp.ID: constantSeries(1.0)},
		solarRef:     constantSeries(0.1),
		installs: map[uuid.UUID]*api.SolarInstallation{
			house: {HouseID: house, InstalledCapacityKW: 5, Tracking: true, InstalledOn: now},
		},
	}

	p, err := NewPreparer(src.sources(), DefaultPreparerConfig()).
		WithClock(func() time.Time { return now }).
		HouseProfile(context.Background(), house)
	require.NoError(t, err)

	// 0.1 kWh/kW * 5 kW * 1.2
	assert.InDelta(t, 0.6, p.Intervals[0].Solar, 1e-9)
	assert.InDelta(t, 0.4, p.Intervals[0].Imported, 1e-9)
}

func TestPreparerTemplateLoadWithoutSolar(t *testing.T) {
	house := uuid.New()
	tmpl := int64(4)
	src := &fakeSources{
		loadProfiles: map[uuid.UUID]*api.LoadProfile{
			house: {ID: uuid.New(), HouseID: house, Source: api.LoadFromTemplate, TemplateID: &tmpl},
		},
		patterns: map[int64]timeseries.Series{tmpl: constantSeries(0.5)},
	}

	p, err := NewPreparer(src.sources(), DefaultPreparerConfig()).HouseProfile(context.Background(), house)
	require.NoError(t, err)
	assert.Equal(t, units.IntervalsPerReferenceYear, p.Len())
	assert.Zero(t, p.Intervals[100].Solar)
	assert.Equal(t, 0.5, p.Intervals[100].Imported)
}

func TestPreparerErrors(t *testing.T) {
	house := uuid.New()
	src := &fakeSources{loadProfiles: map[uuid.UUID]*api.LoadProfile{}}
	prep := NewPreparer(src.sources(), DefaultPreparerConfig())

	_, err := prep.HouseProfile(context.Background(), house)
	assert.True(t, gserrors.IsNotFound(err))

	src.loadProfiles[house] = &api.LoadProfile{ID: uuid.New(), Source: api.LoadFromEngine}
	_, err = prep.HouseProfile(context.Background(), house)
	assert.True(t, gserrors.IsValidation(err))

	lp := &api.LoadProfile{ID: uuid.New(), Source: api.LoadFromFile}
	src.loadProfiles[house] = lp
	src.loadSeries = map[uuid.UUID]timeseries.Series{lp.ID: constantSeries(1)}
	src.solarRef = constantSeries(1)[:96]
	src.installs = map[uuid.UUID]*api.SolarInstallation{house: {InstalledCapacityKW: 3}}
	_, err = prep.HouseProfile(context.Background(), house)
	assert.True(t, gserrors.IsDataMismatch(err))
}

// ===== aggregator =====

type tree struct {
	sub, tr1, tr2    api.Node
	h1, h2, h3, lone api.Node
	empty            api.Node
	graph            *topology.Graph
}

func buildTree(t *testing.T) *tree {
	tr := &tree{}
	tr.sub = api.Node{ID: uuid.New(), Type: api.NodeSubstation}
	tr.tr1 = api.Node{ID: uuid.New(), Type: api.NodeTransformer, ParentID: &tr.sub.ID}
	tr.tr2 = api.Node{ID: uuid.New(), Type: api.NodeTransformer, ParentID: &tr.sub.ID}
	tr.h1 = api.Node{ID: uuid.New(), Type: api.NodeHouse, ParentID: &tr.tr1.ID}
	tr.h2 = api.Node{ID: uuid.New(), Type: api.NodeHouse, ParentID: &tr.tr1.ID}
	tr.h3 = api.Node{ID: uuid.New(), Type: api.NodeHouse, ParentID: &tr.tr2.ID}
	tr.empty = api.Node{ID: uuid.New(), Type: api.NodeSubstation}
	other := api.Node{ID: uuid.New(), Type: api.NodeSubstation}
	tr.lone = api.Node{ID: uuid.New(), Type: api.NodeHouse, SubstationID: &other.ID}

	g, err := topology.NewGraphBuilder().Build([]api.Node{tr.sub, tr.tr1, tr.tr2, tr.h1, tr.h2, tr.h3, tr.empty, other, tr.lone})
	require.NoError(t, err)
	tr.graph = g
	return tr
}

func TestAggregateAdditivity(t *testing.T) {
	tr := buildTree(t)
	profiles := &fakeProfiles{profiles: map[uuid.UUID]*HouseProfile{
		tr.h1.ID: mustProfile(t, tr.h1.ID, 1.0, 0.2),
		tr.h2.ID: mustProfile(t, tr.h2.ID, 0.1, 0.5),
		tr.h3.ID: mustProfile(t, tr.h3.ID, 0.3, 0.3),
	}}
	agg := NewAggregator(tr.graph, profiles)
	ctx := context.Background()
	start, end := day(2023, 5, 1), day(2023, 5, 8)

	parent, err := agg.Aggregate(ctx, tr.sub.ID, start, end)
	require.NoError(t, err)

	var sum api.EnergySummary
	for _, h := range []api.Node{tr.h1, tr.h2, tr.h3} {
		s, err := agg.Aggregate(ctx, h.ID, start, end)
		require.NoError(t, err)
		sum = sum.Add(s)
	}
	assert.InDelta(t, sum.ImportedKWh, parent.ImportedKWh, 1e-6)
	assert.InDelta(t, sum.ExportedKWh, parent.ExportedKWh, 1e-6)

	t1, err := agg.Aggregate(ctx, tr.tr1.ID, start, end)
	require.NoError(t, err)
	t2, err := agg.Aggregate(ctx, tr.tr2.ID, start, end)
	require.NoError(t, err)
	assert.InDelta(t, parent.ImportedKWh, t1.Add(t2).ImportedKWh, 1e-6)
}

func TestAggregateEdges(t *testing.T) {
	tr := buildTree(t)
	profiles := &fakeProfiles{
		profiles: map[uuid.UUID]*HouseProfile{tr.lone.ID: mustProfile(t, tr.lone.ID, 1, 0)},
		errs: map[uuid.UUID]error{
			tr.h2.ID: gserrors.NewDataMismatchError(tr.h2.ID.String(), 1, 2),
			tr.h3.ID: gserrors.NewNotFoundError("load profile", tr.h3.ID.String()),
		},
	}
	agg := NewAggregator(tr.graph, profiles)
	ctx := context.Background()
	start, end := day(2023, 1, 1), day(2023, 1, 2)

	_, err := agg.Aggregate(ctx, uuid.New(), start, end)
	assert.True(t, gserrors.IsNotFound(err))

	s, err := agg.Aggregate(ctx, tr.empty.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, api.EnergySummary{}, s)

	s, err = agg.Aggregate(ctx, tr.sub.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, api.EnergySummary{}, s)

	profiles.errs[tr.h1.ID] = errors.New("connection refused")
	_, err = agg.Aggregate(ctx, tr.sub.ID, start, end)
	assert.Error(t, err)
}

func TestSubstationFallback(t *testing.T) {
	tr := buildTree(t)
	agg := NewAggregator(tr.graph, &fakeProfiles{})

	other := *tr.lone.SubstationID
	node, err := tr.graph.GetNodeByID(context.Background(), other)
	require.NoError(t, err)

	houses, err := agg.HousesUnder(context.Background(), *node)
	require.NoError(t, err)
	assert.Equal(t, []api.Node{tr.lone}, houses)
}

func TestHouseAndNodeSummaries(t *testing.T) {
	tr := buildTree(t)
	profiles := &fakeProfiles{profiles: map[uuid.UUID]*HouseProfile{
		tr.h1.ID: mustProfile(t, tr.h1.ID, 1.0, 0),
	}}
	agg := NewAggregator(tr.graph, profiles)
	ctx := context.Background()

	s, err := agg.HouseSummary(ctx, tr.h1.ID, day(2023, 4, 2), day(2023, 4, 2))
	require.NoError(t, err)
	assert.InDelta(t, 96.0, s.ImportedKWh, 1e-9)

	_, err = agg.HouseSummary(ctx, tr.tr1.ID, day(2023, 4, 2), day(2023, 4, 2))
	assert.True(t, gserrors.IsNotFound(err))
	assert.Equal(t, "house not found", err.(*gserrors.Error).Message)

	_, err = agg.HouseSummary(ctx, uuid.New(), day(2023, 4, 2), day(2023, 4, 2))
	assert.True(t, gserrors.IsNotFound(err))

	s, err = agg.NodeSummary(ctx, tr.tr1.ID, day(2023, 4, 2), day(2023, 4, 3))
	require.NoError(t, err)
	assert.InDelta(t, 192.0, s.ImportedKWh, 1e-9)
}

func TestSummariesRoundToCentsButSumsStayExact(t *testing.T) {
	tr := buildTree(t)
	profile := mustProfile(t, tr.h1.ID, 0.0123, 0)
	agg := NewAggregator(tr.graph, &fakeProfiles{profiles: map[uuid.UUID]*HouseProfile{tr.h1.ID: profile}})
	ctx := context.Background()

	exact := SumProfile(profile, day(2023, 4, 2), day(2023, 4, 3))
	assert.InDelta(t, 1.1808, exact.ImportedKWh, 1e-9)

	s, err := agg.HouseSummary(ctx, tr.h1.ID, day(2023, 4, 2), day(2023, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, 1.18, s.ImportedKWh)
	assert.Equal(t, 0.0, s.ExportedKWh)

	s, err = agg.NodeSummary(ctx, tr.tr1.ID, day(2023, 4, 2), day(2023, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, 2.36, s.ImportedKWh)

	raw, err := agg.Aggregate(ctx, tr.tr1.ID, day(2023, 4, 2), day(2023, 4, 4))
	require.NoError(t, err)
	assert.InDelta(t, 2.3616, raw.ImportedKWh, 1e-9)
}
