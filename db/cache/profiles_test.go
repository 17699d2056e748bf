package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsim/internal/energy"
	"gridsim/internal/timeseries"
	gserrors "gridsim/pkg/errors"
)

type countingSource struct {
	calls    int
	profiles map[uuid.UUID]*energy.HouseProfile
	err      error
}

func (s *countingSource) HouseProfile(ctx context.Context, houseID uuid.UUID) (*energy.HouseProfile, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[houseID]
	if !ok {
		return nil, gserrors.NewNotFoundError("load profile", houseID.String())
	}
	return p, nil
}

type counters struct{ hits, misses int }

func (c *counters) CacheHit()  { c.hits++ }
func (c *counters) CacheMiss() { c.misses++ }

func sampleProfile(t *testing.T, houseID uuid.UUID) *energy.HouseProfile {
	t.Helper()
	origin := time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC)
	load := timeseries.Series{
		{Time: origin, Value: 1.5},
		{Time: origin.Add(15 * time.Minute), Value: 0.5},
	}
	solar := timeseries.Series{
		{Time: origin, Value: 0.5},
		{Time: origin.Add(15 * time.Minute), Value: 2},
	}
	p, err := energy.NewHouseProfile(houseID, load, solar)
	require.NoError(t, err)
	return p
}

func newCache(t *testing.T, src energy.ProfileSource) (*ProfileCache, *counters) {
	t.Helper()
	m := &counters{}
	c, err := New(&Config{InMemory: true, TTL: time.Hour}, src)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c.WithMetrics(m), m
}

func TestCacheServesRepeatedLookups(t *testing.T) {
	houseID := uuid.New()
	src := &countingSource{profiles: map[uuid.UUID]*energy.HouseProfile{houseID: sampleProfile(t, houseID)}}
	c, m := newCache(t, src)
	ctx := context.Background()

	first, err := c.HouseProfile(ctx, houseID)
	require.NoError(t, err)
	second, err := c.HouseProfile(ctx, houseID)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 1, m.misses)
	assert.Equal(t, first.Intervals, second.Intervals)
	assert.Equal(t, 1.0, second.Intervals[0].Imported)
	assert.Equal(t, 1.5, second.Intervals[1].Exported)
}

func TestInvalidateForcesReload(t *testing.T) {
	houseID := uuid.New()
	src := &countingSource{profiles: map[uuid.UUID]*energy.HouseProfile{houseID: sampleProfile(t, houseID)}}
	c, _ := newCache(t, src)
	ctx := context.Background()

	_, err := c.HouseProfile(ctx, houseID)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(houseID))
	_, err = c.HouseProfile(ctx, houseID)
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestInvalidateAllReloadsEveryHouse(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	src := &countingSource{profiles: map[uuid.UUID]*energy.HouseProfile{
		a: sampleProfile(t, a),
		b: sampleProfile(t, b),
	}}
	c, m := newCache(t, src)
	ctx := context.Background()

	for _, id := range []uuid.UUID{a, b, a, b} {
		_, err := c.HouseProfile(ctx, id)
		require.NoError(t, err)
	}
	require.Equal(t, 2, src.calls)

	require.NoError(t, c.InvalidateAll())
	for _, id := range []uuid.UUID{a, b} {
		_, err := c.HouseProfile(ctx, id)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, src.calls)
	assert.Equal(t, 2, m.hits)
	assert.Equal(t, 4, m.misses)
}

func TestErrorsAreNotCached(t *testing.T) {
	houseID := uuid.New()
	src := &countingSource{profiles: map[uuid.UUID]*energy.HouseProfile{}}
	c, _ := newCache(t, src)
	ctx := context.Background()

	_, err := c.HouseProfile(ctx, houseID)
	assert.True(t, gserrors.IsNotFound(err))

	src.err = errors.New("database unavailable")
	_, err = c.HouseProfile(ctx, houseID)
	assert.EqualError(t, err, "database unavailable")
	assert.Equal(t, 2, src.calls)
}

func TestEmptyProfileRoundTrips(t *testing.T) {
	houseID := uuid.New()
	empty := &energy.HouseProfile{HouseID: houseID}
	src := &countingSource{profiles: map[uuid.UUID]*energy.HouseProfile{houseID: empty}}
	c, _ := newCache(t, src)

	_, err := c.HouseProfile(context.Background(), houseID)
	require.NoError(t, err)
	p, err := c.HouseProfile(context.Background(), houseID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, houseID, p.HouseID)
}
