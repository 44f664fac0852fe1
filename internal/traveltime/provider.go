// Package traveltime supplies travel times and their partial derivatives
// with respect to hypocenter longitude, latitude and depth.
package traveltime

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
)

// Table holds per-station results indexed by station position. Entries for
// stations outside the requested set are zero. Tables may be shared through
// a cache and must be treated as read-only.
type Table struct {
	// Partials are ∂t/∂lon, ∂t/∂lat (s/deg) and ∂t/∂dep (s/km).
	Partials   [][3]float64
	TravelTime []float64
}

func newTable(n int) *Table {
	return &Table{Partials: make([][3]float64, n), TravelTime: make([]float64, n)}
}

// Provider computes derivative tables. Implementations must be safe for
// concurrent use.
type Provider interface {
	Derivatives(ctx context.Context, stations *model.StationTable, used []int, h model.Hypocenter) (*Table, error)
}

// HalfSpace is a homogeneous velocity model with straight rays on a local
// equirectangular projection around the hypocenter. Travel times include
// the station correction of the configured phase.
type HalfSpace struct {
	Vp, Vs float64 // km/s
	Phase  model.Phase
}

// NewHalfSpace validates the velocities.
func NewHalfSpace(vp, vs float64, phase model.Phase) (*HalfSpace, error) {
	if vp <= 0 || vs <= 0 {
		return nil, eris.Errorf("traveltime: velocities must be positive (vp=%g vs=%g)", vp, vs)
	}
	if phase != model.PhaseP && phase != model.PhaseS {
		return nil, eris.Errorf("traveltime: unknown phase %q", phase)
	}
	return &HalfSpace{Vp: vp, Vs: vs, Phase: phase}, nil
}

func (m *HalfSpace) velocity() float64 {
	if m.Phase == model.PhaseP {
		return m.Vp
	}
	return m.Vs
}

// TravelTime returns the travel time from h to station s, including the
// station correction.
func (m *HalfSpace) TravelTime(s model.Station, h model.Hypocenter) float64 {
	x, y, z, _, _ := offsets(s, h)
	return math.Sqrt(x*x+y*y+z*z)/m.velocity() + s.Correction(m.Phase)
}

// offsets returns the station→hypocenter vector in km and the partials of
// x with respect to lon and lat.
func offsets(s model.Station, h model.Hypocenter) (x, y, z, dxdLon, dxdLat float64) {
	dLon := h.Lon - s.Lon
	lat := geo.Rad(h.Lat)
	x = geo.LonKm(dLon, h.Lat)
	y = geo.LatKm(h.Lat - s.Lat)
	z = h.Dep - s.Dep
	dxdLon = geo.KmPerDeg * math.Cos(lat)
	dxdLat = -dLon * geo.KmPerDeg * math.Sin(lat) * math.Pi / 180
	return x, y, z, dxdLon, dxdLat
}

// Derivatives implements Provider. A hypocenter coinciding with a station
// has no defined derivative and yields a data error.
func (m *HalfSpace) Derivatives(_ context.Context, stations *model.StationTable, used []int, h model.Hypocenter) (*Table, error) {
	if used == nil {
		used = stations.All()
	}
	v := m.velocity()
	tbl := newTable(stations.Len())
	for _, idx := range used {
		if idx < 0 || idx >= stations.Len() {
			return nil, fault.NewDataError("traveltime", fmt.Errorf("station index %d out of range", idx))
		}
		s := stations.Stations[idx]
		x, y, z, dxdLon, dxdLat := offsets(s, h)
		r := math.Sqrt(x*x + y*y + z*z)
		if r < 1e-6 {
			return nil, fault.NewDataError("traveltime",
				fmt.Errorf("hypocenter coincides with station %s", s.Code))
		}
		rv := r * v
		tbl.TravelTime[idx] = r/v + s.Correction(m.Phase)
		tbl.Partials[idx] = [3]float64{
			x * dxdLon / rv,
			(x*dxdLat + y*geo.KmPerDeg) / rv,
			z / rv,
		}
	}
	return tbl, nil
}
