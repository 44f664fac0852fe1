package reloc

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/traveltime"
	"github.com/sells-group/tdreloc/internal/tripdiff"
)

// ringStations places stations around (35, 139) at several radii and
// elevations so depth is resolvable.
func ringStations(t *testing.T) *model.StationTable {
	t.Helper()
	var sts []model.Station
	radii := []float64{0.05, 0.12, 0.25, 0.4}
	for i := range 12 {
		ang := float64(i) * math.Pi / 6
		r := radii[i%len(radii)]
		sts = append(sts, model.Station{
			Code:  "S" + string(rune('A'+i)),
			Lat:   35 + r*math.Sin(ang),
			Lon:   139 + r*math.Cos(ang),
			Dep:   -0.1 * float64(i%3),
			SCorr: 0.01 * float64(i%4),
		})
	}
	st, err := model.NewStationTable(sts)
	require.NoError(t, err)
	return st
}

var halfSpace = &traveltime.HalfSpace{Vp: 6, Vs: 3.5, Phase: model.PhaseS}

// synthLags computes noise-free lag rows at the true hypocenter.
func synthLags(st *model.StationTable, h model.Hypocenter) []model.LagRow {
	var rows []model.LagRow
	n := st.Len()
	for a := range n {
		for b := a + 1; b < n; b += 3 {
			ta := halfSpace.TravelTime(st.Stations[a], h)
			tb := halfSpace.TravelTime(st.Stations[b], h)
			rows = append(rows, model.LagRow{StationA: a, StationB: b, Lag: tb - ta, Weight: 1})
		}
	}
	return rows
}

type scenario struct {
	stations *model.StationTable
	truth    []model.Hypocenter
	events   []*model.Event
}

// newScenario builds one reference at its true position and targets
// displaced by the given offsets.
func newScenario(t *testing.T, truth []model.Hypocenter, offsets []model.Hypocenter) *scenario {
	t.Helper()
	st := ringStations(t)
	sc := &scenario{stations: st, truth: truth}
	for i, h := range truth {
		e := &model.Event{
			Lat: h.Lat + offsets[i].Lat, Lon: h.Lon + offsets[i].Lon, Dep: h.Dep + offsets[i].Dep,
			File: "ev" + string(rune('0'+i)), Mode: model.ModeStd, ClusterID: 1,
			Lags: synthLags(st, h),
		}
		if i == 0 {
			e.State = model.StateReference
			e.Mode = model.ModeRef
		}
		sc.events = append(sc.events, e)
	}
	return sc
}

func fiveEvents(t *testing.T) *scenario {
	return newScenario(t,
		[]model.Hypocenter{
			{Lat: 35.000, Lon: 139.000, Dep: 10.0},
			{Lat: 35.010, Lon: 139.012, Dep: 11.0},
			{Lat: 34.992, Lon: 139.005, Dep: 9.2},
			{Lat: 35.004, Lon: 138.990, Dep: 12.5},
			{Lat: 35.015, Lon: 138.996, Dep: 8.4},
		},
		[]model.Hypocenter{
			{},
			{Lat: 0.006, Lon: -0.005, Dep: 0.6},
			{Lat: -0.004, Lon: 0.007, Dep: -0.5},
			{Lat: 0.005, Lon: 0.004, Dep: 0.8},
			{Lat: -0.007, Lon: -0.006, Dep: -0.4},
		},
	)
}

func baseOptions() Options {
	return Options{
		Stages:    []Stage{{DistKm: 50, Damping: 0, Iterations: 10}},
		Jobs:      2,
		HypBottom: 100,
	}
}

func relocate(t *testing.T, sc *scenario, opts Options, p traveltime.Provider) (*Report, error) {
	t.Helper()
	if p == nil {
		p = halfSpace
	}
	r, err := New(p, sc.stations, opts)
	require.NoError(t, err)
	tds := tripdiff.Extract(sc.events, 1)
	require.NotEmpty(t, tds)
	return r.Relocate(context.Background(), 1, sc.events, tds)
}

func TestRelocate_EndToEnd(t *testing.T) {
	sc := fiveEvents(t)
	ref := *sc.events[0]

	rep, err := relocate(t, sc, baseOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Events)
	assert.Equal(t, 4, rep.Targets)
	assert.Empty(t, rep.Errors)
	require.Len(t, rep.Stages, 1)
	assert.Equal(t, 10, rep.Stages[0].Iterations)
	assert.Positive(t, rep.Stages[0].Rows)
	assert.Less(t, rep.RMS, 1e-4)

	for i, e := range sc.events[1:] {
		h := sc.truth[i+1]
		horiz := geo.Haversine(e.Lat, e.Lon, h.Lat, h.Lon)
		assert.Less(t, horiz, 0.01, "event %d horizontal misfit %.4f km", i+1, horiz)
		assert.InDelta(t, h.Dep, e.Dep, 0.1, "event %d depth", i+1)
		assert.Equal(t, model.ModeTrd, e.Mode)
		assert.Equal(t, model.StateTarget, e.State)
		assert.Less(t, e.ErrLon, PlaceholderErr)
		assert.False(t, math.IsNaN(e.ErrDep))
		assert.GreaterOrEqual(t, e.RMS, 0.0)
	}

	// Reference events never move.
	assert.Equal(t, ref.Lat, sc.events[0].Lat)
	assert.Equal(t, ref.Lon, sc.events[0].Lon)
	assert.Equal(t, ref.Dep, sc.events[0].Dep)
	assert.Equal(t, model.ModeRef, sc.events[0].CatalogMode())
	assert.Equal(t, model.StateReference, sc.events[0].State)
}

func TestRelocate_BackendsAgree(t *testing.T) {
	hashed := fiveEvents(t)
	coo := fiveEvents(t)

	opts := baseOptions()
	opts.Stages[0].Iterations = 3
	_, err := relocate(t, hashed, opts, nil)
	require.NoError(t, err)

	opts.SparseThreshold = 1
	_, err = relocate(t, coo, opts, nil)
	require.NoError(t, err)

	for i := range hashed.events {
		assert.Equal(t, hashed.events[i].Hypocenter(), coo.events[i].Hypocenter())
	}
}

func TestRelocate_Deterministic(t *testing.T) {
	a := fiveEvents(t)
	b := fiveEvents(t)
	opts := baseOptions()
	opts.Stages[0].Iterations = 4

	_, err := relocate(t, a, opts, nil)
	require.NoError(t, err)
	opts.Jobs = 1
	_, err = relocate(t, b, opts, nil)
	require.NoError(t, err)

	for i := range a.events {
		assert.Equal(t, a.events[i].Hypocenter(), b.events[i].Hypocenter())
	}
}

func TestRelocate_ErrorDepthExclusion(t *testing.T) {
	sc := fiveEvents(t)
	opts := baseOptions()
	// Event 3 truly sits at 12.5 km; starting at 13.3 it cannot stay
	// below 12 km.
	opts.HypBottom = 12

	rep, err := relocate(t, sc, opts, nil)
	require.NoError(t, err)

	e := sc.events[3]
	assert.Equal(t, model.StateError, e.State)
	assert.Equal(t, model.ModeErr, e.CatalogMode())
	assert.Contains(t, rep.Errors, 3)
	// The rejected update is not applied.
	assert.InDelta(t, 13.3, e.Dep, 1e-9)

	for _, i := range []int{1, 2, 4} {
		assert.Equal(t, model.StateTarget, sc.events[i].State, "event %d", i)
		assert.Equal(t, model.ModeTrd, sc.events[i].Mode, "event %d", i)
	}
}

func TestRelocate_ErrorEventsPassThrough(t *testing.T) {
	sc := fiveEvents(t)
	sc.events[2].State = model.StateError
	before := *sc.events[2]

	rep, err := relocate(t, sc, baseOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Targets)
	assert.Equal(t, before.Hypocenter(), sc.events[2].Hypocenter())
	assert.Equal(t, model.ModeStd, sc.events[2].Mode)
	assert.NotContains(t, rep.Errors, 2)
}

// failingProvider fails for any hypocenter deeper than maxDep.
type failingProvider struct {
	maxDep float64
}

func (f *failingProvider) Derivatives(ctx context.Context, st *model.StationTable, used []int, h model.Hypocenter) (*traveltime.Table, error) {
	if h.Dep > f.maxDep {
		return nil, fault.NewDataError("test", errors.New("no ray"))
	}
	return halfSpace.Derivatives(ctx, st, used, h)
}

func TestRelocate_ProviderFailure(t *testing.T) {
	sc := fiveEvents(t)
	rep, err := relocate(t, sc, baseOptions(), &failingProvider{maxDep: 13})
	require.NoError(t, err)

	assert.Equal(t, []int{3}, rep.Errors)
	assert.Equal(t, model.StateError, sc.events[3].State)
	assert.Equal(t, model.ModeStd, sc.events[3].Mode)
	assert.Equal(t, model.ModeTrd, sc.events[1].Mode)
}

func TestRelocate_EmptyStageSkipped(t *testing.T) {
	sc := fiveEvents(t)
	opts := baseOptions()
	opts.Stages = []Stage{
		{DistKm: 1e-6, Damping: 0, Iterations: 5},
		{DistKm: 50, Damping: 0, Iterations: 10},
	}
	rep, err := relocate(t, sc, opts, nil)
	require.NoError(t, err)

	require.Len(t, rep.Stages, 2)
	assert.True(t, rep.Stages[0].Skipped)
	assert.Zero(t, rep.Stages[0].Iterations)
	assert.False(t, rep.Stages[1].Skipped)
	assert.Equal(t, 10, rep.Stages[1].Iterations)
	// Variance is computed on the last stage that actually ran.
	assert.Less(t, sc.events[1].ErrLat, PlaceholderErr)
}

func TestRelocate_NoTripleDifferences(t *testing.T) {
	sc := fiveEvents(t)
	r, err := New(halfSpace, sc.stations, baseOptions())
	require.NoError(t, err)

	rep, err := r.Relocate(context.Background(), 1, sc.events, nil)
	require.NoError(t, err)
	assert.False(t, rep.Relocated())
	assert.True(t, rep.Stages[0].Skipped)
	assert.Equal(t, model.ModeStd, sc.events[1].Mode)
}

func TestRelocate_Interrupted(t *testing.T) {
	sc := fiveEvents(t)
	r, err := New(halfSpace, sc.stations, baseOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Relocate(ctx, 1, sc.events, tripdiff.Extract(sc.events, 1))
	require.Error(t, err)
	assert.True(t, fault.IsInterrupted(err))
	assert.ErrorIs(t, err, fault.ErrInterrupted)
}

func TestRelocate_BadIndices(t *testing.T) {
	sc := fiveEvents(t)
	r, err := New(halfSpace, sc.stations, baseOptions())
	require.NoError(t, err)

	_, err = r.Relocate(context.Background(), 1, sc.events, []model.TripleDifference{
		{Event0: 0, Event1: 9, Station0: 0, Station1: 1, DistKm: 1},
	})
	assert.True(t, fault.IsData(err))

	_, err = r.Relocate(context.Background(), 1, sc.events, []model.TripleDifference{
		{Event0: 0, Event1: 1, Station0: 0, Station1: 99, DistKm: 1},
	})
	assert.True(t, fault.IsData(err))

	_, err = r.Relocate(context.Background(), 1, nil, nil)
	assert.True(t, fault.IsData(err))
}

func TestRelocate_UnsortedInputIsSorted(t *testing.T) {
	a := fiveEvents(t)
	b := fiveEvents(t)
	opts := baseOptions()
	opts.Stages[0].Iterations = 2

	r, err := New(halfSpace, a.stations, opts)
	require.NoError(t, err)

	sorted := tripdiff.Extract(a.events, 1)
	reversed := make([]model.TripleDifference, len(sorted))
	for i := range sorted {
		reversed[len(sorted)-1-i] = sorted[i]
	}

	_, err = r.Relocate(context.Background(), 1, a.events, sorted)
	require.NoError(t, err)
	_, err = r.Relocate(context.Background(), 1, b.events, reversed)
	require.NoError(t, err)
	// Equal distances may be reordered, so compare loosely.
	for i := range a.events {
		assert.InDelta(t, a.events[i].Dep, b.events[i].Dep, 1e-6)
	}
}

func TestNew_Errors(t *testing.T) {
	st := ringStations(t)
	_, err := New(nil, st, baseOptions())
	assert.Error(t, err)

	_, err = New(halfSpace, nil, baseOptions())
	assert.Error(t, err)

	opts := baseOptions()
	opts.Stages = nil
	_, err = New(halfSpace, st, opts)
	assert.True(t, fault.IsConfig(err))

	r, err := New(halfSpace, st, Options{Stages: []Stage{{DistKm: 1, Iterations: 1}}, HypBottom: 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultJobs(), r.jobs)
}

func TestErrorKm(t *testing.T) {
	assert.InDelta(t, 2*geo.KmPerDeg, errorKm(4, geo.KmPerDeg), 1e-12)
	assert.Equal(t, PlaceholderErr, errorKm(-1, 1))
	assert.Equal(t, PlaceholderErr, errorKm(math.Inf(1), 1))
	assert.Equal(t, PlaceholderErr, errorKm(math.NaN(), 1))
}
