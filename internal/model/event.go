package model

import "math"

// State is the relocation state of an event.
type State int

const (
	// StateTarget events are free to move during relocation.
	StateTarget State = iota
	// StateReference events are fixed anchors and never updated.
	StateReference
	// StateError events are excluded from the inversion but kept in output.
	StateError
)

func (s State) String() string {
	switch s {
	case StateReference:
		return "reference"
	case StateError:
		return "error"
	default:
		return "target"
	}
}

// Catalog mode tags. ModeRef and ModeErr map onto the reference and error
// states; the others record which solver produced the location.
const (
	ModeRef  = "REF"
	ModeErr  = "ERR"
	ModeSyn  = "SYN"
	ModeGrd  = "GRD"
	ModeStd  = "STD"
	ModeLmo  = "LMO"
	ModeMCMC = "MCMC"
	ModeDE   = "DE"
	ModeCls  = "CLS"
	ModeTrd  = "TRD"
)

// Cluster id conventions.
const (
	ClusterUnset = -1 // not yet clustered
	ClusterNoise = 0  // clustered, but assigned to no cluster
)

// Hypocenter is a position in degrees and km depth (positive down).
type Hypocenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Dep float64 `json:"dep"`
}

// LagRow is one differential-time pick: the arrival at station B minus the
// arrival at station A for the same phase.
type LagRow struct {
	StationA int     `json:"station_a"`
	StationB int     `json:"station_b"`
	Lag      float64 `json:"lag"`
	Weight   float64 `json:"weight"`
}

// Event is a catalog entry. Errors are one-sigma half-widths in km.
type Event struct {
	Time      string   `json:"time"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Dep       float64  `json:"dep"`
	ErrLat    float64  `json:"yerr"`
	ErrLon    float64  `json:"xerr"`
	ErrDep    float64  `json:"zerr"`
	RMS       float64  `json:"rms"`
	File      string   `json:"file"`
	State     State    `json:"state"`
	Mode      string   `json:"mode"`
	ClusterID int      `json:"cid"`
	Lags      []LagRow `json:"-"`
	Used      []int    `json:"-"`
}

// Hypocenter returns the event position.
func (e *Event) Hypocenter() Hypocenter {
	return Hypocenter{Lat: e.Lat, Lon: e.Lon, Dep: e.Dep}
}

// Clustered reports whether the event carries a cluster id.
func (e *Event) Clustered() bool {
	return e.ClusterID >= 0
}

// CatalogMode returns the value written to the catalog mode column.
func (e *Event) CatalogMode() string {
	switch e.State {
	case StateReference:
		return ModeRef
	case StateError:
		return ModeErr
	}
	return e.Mode
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	if e.Lags != nil {
		c.Lags = append([]LagRow(nil), e.Lags...)
	}
	if e.Used != nil {
		c.Used = append([]int(nil), e.Used...)
	}
	return &c
}

// StateFromMode maps a catalog mode tag to a relocation state.
func StateFromMode(mode string) State {
	switch mode {
	case ModeRef:
		return StateReference
	case ModeErr:
		return StateError
	}
	return StateTarget
}

// ValidPosition reports whether lat/lon are inside geographic bounds and all
// coordinates are finite.
func ValidPosition(lat, lon, dep float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(dep) || math.IsInf(dep, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}
