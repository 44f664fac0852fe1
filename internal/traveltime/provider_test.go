package traveltime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
)

func testStations(t *testing.T) *model.StationTable {
	t.Helper()
	st, err := model.NewStationTable([]model.Station{
		{Code: "A", Lat: 35.00, Lon: 139.00, Dep: -0.1, SCorr: 0.05, PCorr: 0.01},
		{Code: "B", Lat: 35.20, Lon: 139.10, Dep: 0.0},
		{Code: "C", Lat: 34.90, Lon: 139.30, Dep: -0.3},
		{Code: "D", Lat: 35.10, Lon: 138.80, Dep: 0.2},
	})
	require.NoError(t, err)
	return st
}

func TestNewHalfSpace(t *testing.T) {
	m, err := NewHalfSpace(6, 3.5, model.PhaseS)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, m.velocity(), 0)

	_, err = NewHalfSpace(0, 3.5, model.PhaseS)
	assert.Error(t, err)
	_, err = NewHalfSpace(6, 3.5, "X")
	assert.Error(t, err)
}

func TestHalfSpace_TravelTime(t *testing.T) {
	m := &HalfSpace{Vp: 6, Vs: 3, Phase: model.PhaseS}
	s := model.Station{Code: "X", Lat: 35, Lon: 139, Dep: 0, SCorr: 0.5}
	// Directly below the station: t = depth/v + correction.
	assert.InDelta(t, 9.0/3+0.5, m.TravelTime(s, model.Hypocenter{Lat: 35, Lon: 139, Dep: 9}), 1e-12)

	m.Phase = model.PhaseP
	assert.InDelta(t, 9.0/6, m.TravelTime(s, model.Hypocenter{Lat: 35, Lon: 139, Dep: 9}), 1e-12)
}

func TestHalfSpace_PartialsMatchFiniteDifferences(t *testing.T) {
	st := testStations(t)
	m := &HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}
	h := model.Hypocenter{Lat: 35.05, Lon: 139.07, Dep: 8.5}

	tbl, err := m.Derivatives(context.Background(), st, nil, h)
	require.NoError(t, err)
	require.Len(t, tbl.Partials, st.Len())

	const step = 1e-6
	for i, s := range st.Stations {
		assert.InDelta(t, m.TravelTime(s, h), tbl.TravelTime[i], 1e-12)

		fd := func(dh model.Hypocenter, d float64) float64 {
			plus := model.Hypocenter{Lat: h.Lat + dh.Lat*d, Lon: h.Lon + dh.Lon*d, Dep: h.Dep + dh.Dep*d}
			minus := model.Hypocenter{Lat: h.Lat - dh.Lat*d, Lon: h.Lon - dh.Lon*d, Dep: h.Dep - dh.Dep*d}
			return (m.TravelTime(s, plus) - m.TravelTime(s, minus)) / (2 * d)
		}
		assert.InDelta(t, fd(model.Hypocenter{Lon: 1}, step), tbl.Partials[i][0], 1e-5, "lon %s", s.Code)
		assert.InDelta(t, fd(model.Hypocenter{Lat: 1}, step), tbl.Partials[i][1], 1e-5, "lat %s", s.Code)
		assert.InDelta(t, fd(model.Hypocenter{Dep: 1}, step), tbl.Partials[i][2], 1e-6, "dep %s", s.Code)
	}
}

func TestHalfSpace_UsedSubset(t *testing.T) {
	st := testStations(t)
	m := &HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}
	tbl, err := m.Derivatives(context.Background(), st, []int{2}, model.Hypocenter{Lat: 35, Lon: 139.1, Dep: 5})
	require.NoError(t, err)

	assert.Zero(t, tbl.TravelTime[0])
	assert.Equal(t, [3]float64{}, tbl.Partials[1])
	assert.Positive(t, tbl.TravelTime[2])
}

func TestHalfSpace_Errors(t *testing.T) {
	st := testStations(t)
	m := &HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}

	_, err := m.Derivatives(context.Background(), st, []int{7}, model.Hypocenter{Lat: 35, Lon: 139, Dep: 5})
	assert.True(t, fault.IsData(err))

	_, err = m.Derivatives(context.Background(), st, []int{1}, model.Hypocenter{Lat: 35.2, Lon: 139.1, Dep: 0})
	require.Error(t, err)
	assert.True(t, fault.IsData(err))
	assert.Contains(t, err.Error(), "coincides")
}

type countingProvider struct {
	mu    sync.Mutex
	calls int
	next  Provider
}

func (c *countingProvider) Derivatives(ctx context.Context, st *model.StationTable, used []int, h model.Hypocenter) (*Table, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Derivatives(ctx, st, used, h)
}

func TestCached(t *testing.T) {
	st := testStations(t)
	inner := &countingProvider{next: &HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}}
	c, err := NewCached(inner, CacheConfig{})
	require.NoError(t, err)
	defer c.Close()

	h := model.Hypocenter{Lat: 35.05, Lon: 139.07, Dep: 8.5}
	first, err := c.Derivatives(context.Background(), st, []int{0, 1}, h)
	require.NoError(t, err)
	c.Wait()

	second, err := c.Derivatives(context.Background(), st, []int{0, 1}, h)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// A different station set or a moved hypocenter is a distinct entry.
	_, err = c.Derivatives(context.Background(), st, []int{0}, h)
	require.NoError(t, err)
	_, err = c.Derivatives(context.Background(), st, []int{0, 1}, model.Hypocenter{Lat: h.Lat, Lon: h.Lon, Dep: h.Dep + 1e-9})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCached_ErrorsNotCached(t *testing.T) {
	st := testStations(t)
	inner := &countingProvider{next: &HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}}
	c, err := NewCached(inner, CacheConfig{NumCounters: 100, MaxCost: 1 << 16})
	require.NoError(t, err)
	defer c.Close()

	h := model.Hypocenter{Lat: 35.2, Lon: 139.1, Dep: 0}
	for range 2 {
		_, err = c.Derivatives(context.Background(), st, []int{1}, h)
		require.Error(t, err)
		c.Wait()
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCacheKey(t *testing.T) {
	h := model.Hypocenter{Lat: 1, Lon: 2, Dep: 3}
	assert.NotEqual(t, cacheKey(h, nil), cacheKey(h, []int{}))
	assert.NotEqual(t, cacheKey(h, []int{1, 23}), cacheKey(h, []int{12, 3}))
	assert.Equal(t, cacheKey(h, []int{4}), cacheKey(model.Hypocenter{Lat: 1, Lon: 2, Dep: 3}, []int{4}))
}
