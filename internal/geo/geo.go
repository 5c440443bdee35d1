package geo

import "math"

const earthRadiusKm = 6371

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Status is the outcome of the location gate. StatusUnknown is distinct
// from StatusOutOfRange so the caller can tell "permission denied" apart
// from "too far from campus".
type Status string

const (
	StatusInRange    Status = "in_range"
	StatusOutOfRange Status = "out_of_range"
	StatusUnknown    Status = "unknown"
)

// Result carries the gate status plus the computed distance when a
// coordinate was available.
type Result struct {
	Status     Status
	DistanceKm float64
}

// DistanceKm computes the great-circle distance between two coordinates
// using the haversine formula.
func DistanceKm(a, b Coordinate) float64 {
	dLat := rad(b.Latitude - a.Latitude)
	dLon := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// InRange reports whether a is strictly within thresholdKm of b.
func InRange(a, b Coordinate, thresholdKm float64) bool {
	return DistanceKm(a, b) < thresholdKm
}

// Gate checks reported coordinates against a fixed campus location.
type Gate struct {
	Target      Coordinate
	ThresholdKm float64
}

// Check evaluates a reported coordinate. A nil coordinate means the device
// could not produce one and yields StatusUnknown.
func (g Gate) Check(reported *Coordinate) Result {
	if reported == nil {
		return Result{Status: StatusUnknown}
	}
	d := DistanceKm(*reported, g.Target)
	if d < g.ThresholdKm {
		return Result{Status: StatusInRange, DistanceKm: d}
	}
	return Result{Status: StatusOutOfRange, DistanceKm: d}
}

func rad(deg float64) float64 {
	return deg * (math.Pi / 180)
}
