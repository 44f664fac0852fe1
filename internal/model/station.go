package model

import (
	"fmt"
	"math"
)

// Phase selects which station correction applies.
type Phase string

const (
	PhaseP Phase = "P"
	PhaseS Phase = "S"
)

// Station is a seismic station. Dep is km, positive down.
type Station struct {
	Code  string  `json:"code"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Dep   float64 `json:"dep"`
	PCorr float64 `json:"pcorr"`
	SCorr float64 `json:"scorr"`
}

// Correction returns the timing correction for the phase.
func (s Station) Correction(p Phase) float64 {
	if p == PhaseP {
		return s.PCorr
	}
	return s.SCorr
}

// StationTable is the ordered station list referenced by index from lag rows
// and triple differences.
type StationTable struct {
	Stations    []Station
	BottomDepth float64
	index       map[string]int
}

// NewStationTable validates the stations and computes the bottom depth,
// which is the deepest station (never shallower than sea level) plus 10 m.
func NewStationTable(stations []Station) (*StationTable, error) {
	idx := make(map[string]int, len(stations))
	bottom := 0.0
	for i, s := range stations {
		if !ValidPosition(s.Lat, s.Lon, s.Dep) {
			return nil, fmt.Errorf("station %s: invalid position lat=%.4f lon=%.4f", s.Code, s.Lat, s.Lon)
		}
		if _, dup := idx[s.Code]; dup {
			return nil, fmt.Errorf("station %s: duplicate code", s.Code)
		}
		idx[s.Code] = i
		bottom = math.Max(bottom, s.Dep)
	}
	return &StationTable{
		Stations:    stations,
		BottomDepth: bottom + 0.01,
		index:       idx,
	}, nil
}

// Len returns the number of stations.
func (t *StationTable) Len() int { return len(t.Stations) }

// Index returns the position of the station with the given code.
func (t *StationTable) Index(code string) (int, bool) {
	i, ok := t.index[code]
	return i, ok
}

// Codes returns station codes in table order.
func (t *StationTable) Codes() []string {
	codes := make([]string, len(t.Stations))
	for i, s := range t.Stations {
		codes[i] = s.Code
	}
	return codes
}

// All returns every station index in order.
func (t *StationTable) All() []int {
	all := make([]int, len(t.Stations))
	for i := range all {
		all[i] = i
	}
	return all
}
