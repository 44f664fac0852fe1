package model

// TripleDifference is the difference of two events' differential times at
// the same station pair. Event indices are positions in the cluster's
// ordered event list, station indices are positions in the station table.
type TripleDifference struct {
	Event0    int     `json:"eve0"`
	Event1    int     `json:"eve1"`
	Station0  int     `json:"stn0"`
	Station1  int     `json:"stn1"`
	Lag       float64 `json:"td_time"`
	DistKm    float64 `json:"dist_km"`
	ClusterID int     `json:"cluster_id"`
}
