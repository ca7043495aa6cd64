// Package geo holds the geographic primitives of a run: great-circle
// distance, the ordered GPS log, and path length accounting.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters
const EarthRadiusMeters = 6371000.0

// Coordinate is a latitude/longitude pair in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceMeters returns the haversine great-circle distance between two points.
// Inputs are not range checked.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// DistanceTo is DistanceMeters between c and b
func (c Coordinate) DistanceTo(b Coordinate) float64 {
	return DistanceMeters(c.Latitude, c.Longitude, b.Latitude, b.Longitude)
}

// DistanceAccumulator sums the path length of a stream of coordinates
type DistanceAccumulator struct {
	prev    Coordinate
	hasPrev bool
	total   float64
	calls   int
}

// Advance adds the leg from the previous coordinate (if any) to this one.
// The first call only sets the baseline.
func (d *DistanceAccumulator) Advance(lat, lon float64) {
	if d.hasPrev {
		d.total += DistanceMeters(d.prev.Latitude, d.prev.Longitude, lat, lon)
	}
	d.prev = Coordinate{Latitude: lat, Longitude: lon}
	d.hasPrev = true
	d.calls++
}

// Total path length in meters
func (d *DistanceAccumulator) Total() float64 {
	return d.total
}

// Calls is the number of times Advance has been called
func (d *DistanceAccumulator) Calls() int {
	return d.calls
}
