// Package geo holds the spherical-earth helpers used for clustering and
// inter-event distances.
package geo

import "math"

const (
	// EarthRadiusKm is the mean earth radius used by Haversine.
	EarthRadiusKm = 6371.0
	// KmPerDeg is the length of one degree of latitude. Longitude degrees
	// are scaled by cos(lat) on top of it (a local flat-earth approximation).
	KmPerDeg = 111.32
)

// Rad converts degrees to radians.
func Rad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in km between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := Rad(lat2 - lat1)
	dLon := Rad(lon2 - lon1)
	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLon / 2)
	a := s1*s1 + math.Cos(Rad(lat1))*math.Cos(Rad(lat2))*s2*s2
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// ChordForKm returns the straight-line distance on the unit sphere between
// two points that are km apart along the surface.
func ChordForKm(km float64) float64 {
	theta := math.Min(km/EarthRadiusKm, math.Pi)
	return 2 * math.Sin(theta/2)
}

// LonKm converts a longitude difference in degrees to km at latitude lat.
func LonKm(dLon, lat float64) float64 {
	return dLon * KmPerDeg * math.Cos(Rad(lat))
}

// LatKm converts a latitude difference in degrees to km.
func LatKm(dLat float64) float64 {
	return dLat * KmPerDeg
}
