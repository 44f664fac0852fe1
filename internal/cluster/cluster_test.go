package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
)

// grid returns a 3x2 block of points spaced ~0.55 km apart.
func grid(lat0, lon0 float64) (lat, lon []float64) {
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			lat = append(lat, lat0+0.005*float64(r))
			lon = append(lon, lon0+0.006*float64(c))
		}
	}
	return lat, lon
}

func sample() (lat, lon []float64) {
	la, lo := grid(35.0, 139.0)
	lb, lob := grid(36.0, 140.0)
	lat = append(append(la, lb...), 37.0)
	lon = append(append(lo, lob...), 141.0)
	return lat, lon
}

func events(lat, lon []float64) []*model.Event {
	out := make([]*model.Event, len(lat))
	for i := range lat {
		out[i] = &model.Event{Lat: lat[i], Lon: lon[i], Mode: model.ModeGrd, ClusterID: model.ClusterUnset}
	}
	return out
}

func TestDBSCAN_ExplicitEps(t *testing.T) {
	lat, lon := sample()
	labels, n := DBSCAN(geo.NewIndex(lat, lon), 3, 3)

	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 0}, labels)
}

func TestDBSCAN_BorderPoint(t *testing.T) {
	// Point 0 has a single neighbor and is first seen as noise; point 1 is
	// a core point that later absorbs it as a border point.
	lat := []float64{35, 35.009, 35.013, 35.013}
	lon := []float64{139, 139, 139, 139}
	labels, n := DBSCAN(geo.NewIndex(lat, lon), 1.01, 3)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int{1, 1, 1, 1}, labels)
}

func TestCluster_Deterministic(t *testing.T) {
	lat, lon := sample()
	p := Params{MinPts: 3, Eps: 3}

	first, err := Cluster(lat, lon, p)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Cluster(lat, lon, p)
		require.NoError(t, err)
		assert.Equal(t, first.Labels, again.Labels)
	}
}

func TestCluster_EstimatedEps(t *testing.T) {
	lat, lon := sample()

	res, err := Cluster(lat, lon, Params{MinPts: 3, Eps: -1, Estimator: EstimatorElbow})
	require.NoError(t, err)

	assert.True(t, res.Estimated)
	assert.Greater(t, res.Eps, 0.5)
	assert.Less(t, res.Eps, 1.0)
	assert.Equal(t, 2, res.Clusters)
	assert.Equal(t, 1, res.Noise)
	assert.Equal(t, map[int]int{1: 6, 2: 6}, res.Sizes())
}

func TestCluster_PercentileEps(t *testing.T) {
	lat, lon := sample()

	res, err := Cluster(lat, lon, Params{MinPts: 3, Estimator: EstimatorPercentile, Percentile: 0.5})
	require.NoError(t, err)
	assert.True(t, res.Estimated)
	assert.Less(t, res.Eps, 1.0)
}

func TestCluster_Errors(t *testing.T) {
	_, err := Cluster([]float64{1}, []float64{1}, Params{MinPts: 0})
	assert.ErrorContains(t, err, "min_pts")

	_, err = Cluster([]float64{1, 2}, []float64{1}, Params{MinPts: 1})
	assert.Error(t, err)

	_, err = Cluster([]float64{35, 35.1}, []float64{139, 139}, Params{MinPts: 4})
	assert.ErrorContains(t, err, "estimate eps")

	lat, lon := sample()
	_, err = Cluster(lat, lon, Params{MinPts: 3, Estimator: "knee"})
	assert.ErrorContains(t, err, "unknown eps estimator")
}

func TestElbow(t *testing.T) {
	assert.InDelta(t, 1.0, Elbow([]float64{1, 1, 1, 1, 10}), 0)
	assert.InDelta(t, 4.0, Elbow([]float64{0, 1, 2, 3, 4, 20}), 0)
	assert.InDelta(t, 2.0, Elbow([]float64{1, 2}), 0)
	assert.InDelta(t, 3.0, Elbow([]float64{3}), 0)
	assert.InDelta(t, 2.0, Elbow([]float64{2, 2, 2, 2}), 0)
}

func TestPercentile(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 3.0, Percentile(s, 0.5), 0)
	assert.InDelta(t, 5.0, Percentile(s, 90), 0)
	assert.InDelta(t, 1.0, Percentile(s, 0), 0)
	assert.InDelta(t, 5.0, Percentile(s, 1), 0)
}

func TestKDistances(t *testing.T) {
	lat, lon := grid(35, 139)
	kd := KDistances(geo.NewIndex(lat, lon), 1)
	require.Len(t, kd, 6)
	for i := 1; i < len(kd); i++ {
		assert.LessOrEqual(t, kd[i-1], kd[i])
	}
	assert.InDelta(t, 0.55, kd[0], 0.02)

	assert.Empty(t, KDistances(geo.NewIndex(lat, lon), 6))
}

func TestAssign_WritesIDs(t *testing.T) {
	lat, lon := sample()
	evs := events(lat, lon)

	res, err := Assign(evs, Params{MinPts: 3, Eps: 3}, Filter{})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Clusters)
	assert.Equal(t, 1, evs[0].ClusterID)
	assert.Equal(t, 2, evs[6].ClusterID)
	assert.Equal(t, model.ClusterNoise, evs[12].ClusterID)
}

func TestAssign_Idempotent(t *testing.T) {
	lat, lon := sample()
	evs := events(lat, lon)

	_, err := Assign(evs, Params{MinPts: 3, Eps: 3}, Filter{})
	require.NoError(t, err)
	before := make([]int, len(evs))
	for i, e := range evs {
		before[i] = e.ClusterID
	}

	// A second pass with parameters that would cluster differently must not
	// touch the ids.
	res, err := Assign(evs, Params{MinPts: 1, Eps: 500}, Filter{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, before, res.Labels)
	for i, e := range evs {
		assert.Equal(t, before[i], e.ClusterID)
	}
	assert.Equal(t, 2, res.Clusters)
}

func TestAssign_FilterAndErrorEventsAreNoise(t *testing.T) {
	lat, lon := sample()
	evs := events(lat, lon)
	evs[0].RMS = 2.0
	evs[1].ErrLat = 5
	evs[7].State = model.StateError

	res, err := Assign(evs, Params{MinPts: 2, Eps: 3}, Filter{RMSThreshold: 1, LocErrThreshold: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, model.ClusterNoise, evs[0].ClusterID)
	assert.Equal(t, model.ClusterNoise, evs[1].ClusterID)
	assert.Equal(t, model.ClusterNoise, evs[7].ClusterID)
	assert.Equal(t, 1, evs[2].ClusterID)
	assert.Equal(t, 2, evs[6].ClusterID)
	assert.Equal(t, 4, res.Noise)
}

func TestAssign_Empty(t *testing.T) {
	_, err := Assign(nil, Params{MinPts: 3, Eps: 1}, Filter{})
	assert.ErrorContains(t, err, "empty catalog")
}

func TestFilterAccept(t *testing.T) {
	f := Filter{RMSThreshold: 0.5, LocErrThreshold: 2}
	assert.True(t, f.Accept(&model.Event{RMS: 0.5, ErrLon: 2, ErrLat: 2}))
	assert.False(t, f.Accept(&model.Event{RMS: 0.6}))
	assert.False(t, f.Accept(&model.Event{ErrLon: 2.1}))
	assert.True(t, Filter{}.Accept(&model.Event{RMS: 100, ErrLat: 100}))
}
