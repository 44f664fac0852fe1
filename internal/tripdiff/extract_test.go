package tripdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
)

func lagEvent(lat, lon float64, state model.State, rows ...model.LagRow) *model.Event {
	return &model.Event{Lat: lat, Lon: lon, Dep: 10, State: state, Lags: rows}
}

func TestExtract(t *testing.T) {
	events := []*model.Event{
		lagEvent(35.00, 139.00, model.StateTarget,
			model.LagRow{StationA: 0, StationB: 1, Lag: 0.5, Weight: 1},
			model.LagRow{StationA: 1, StationB: 2, Lag: 1.0, Weight: 1}),
		lagEvent(35.10, 139.00, model.StateTarget,
			model.LagRow{StationA: 0, StationB: 1, Lag: 0.8, Weight: 1},
			model.LagRow{StationA: 0, StationB: 2, Lag: 2.0, Weight: 1}),
		lagEvent(35.01, 139.00, model.StateReference,
			model.LagRow{StationA: 1, StationB: 2, Lag: 1.25, Weight: 1},
			model.LagRow{StationA: 0, StationB: 1, Lag: 0.4, Weight: 1}),
	}

	tds := Extract(events, 7)
	require.Len(t, tds, 4)

	// Sorted by distance: pair (0,2) ~1.1 km, (1,2) ~10 km, (0,1) ~11 km.
	first := tds[0]
	assert.InDelta(t, -0.1, first.Lag, 1e-12)
	first.Lag = 0
	assert.Equal(t, model.TripleDifference{
		Event0: 0, Event1: 2, Station0: 0, Station1: 1,
		DistKm: geo.Haversine(35, 139, 35.01, 139), ClusterID: 7,
	}, first)
	assert.Equal(t, 0, tds[1].Event0)
	assert.Equal(t, 2, tds[1].Event1)
	assert.Equal(t, 1, tds[1].Station0)
	assert.InDelta(t, 0.25, tds[1].Lag, 1e-12)

	assert.Equal(t, 1, tds[2].Event0)
	assert.Equal(t, 2, tds[2].Event1)
	assert.InDelta(t, 0.4-0.8, tds[2].Lag, 1e-12)

	assert.Equal(t, 0, tds[3].Event0)
	assert.Equal(t, 1, tds[3].Event1)
	assert.InDelta(t, 0.3, tds[3].Lag, 1e-12)

	for i := 1; i < len(tds); i++ {
		assert.LessOrEqual(t, tds[i-1].DistKm, tds[i].DistKm)
	}
}

func TestExtract_SkipsReferencePairsAndErrors(t *testing.T) {
	row := model.LagRow{StationA: 0, StationB: 1, Lag: 1, Weight: 1}
	events := []*model.Event{
		lagEvent(35, 139, model.StateReference, row),
		lagEvent(35.01, 139, model.StateReference, row),
		lagEvent(35.02, 139, model.StateError, row),
		lagEvent(35.03, 139, model.StateTarget), // no lag table
	}

	assert.Empty(t, Extract(events, 1))
}

func TestExtract_Empty(t *testing.T) {
	assert.Empty(t, Extract(nil, 1))
}

func TestWithinDistance(t *testing.T) {
	tds := []model.TripleDifference{{DistKm: 1}, {DistKm: 2}, {DistKm: 2}, {DistKm: 5}}

	assert.Len(t, WithinDistance(tds, 2), 1)
	assert.Len(t, WithinDistance(tds, 2.0001), 3)
	assert.Len(t, WithinDistance(tds, 100), 4)
	assert.Empty(t, WithinDistance(tds, 0.5))
}
