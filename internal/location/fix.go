// Package location defines the position sample model and the sources that
// produce it.
package location

import (
	"math"
	"time"
)

// Fix is a single timestamped location sample.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
}

// Age reports how old the sample is relative to now. Position data is
// produced at irregular intervals; callers must check age before acting on it.
func (f Fix) Age(now time.Time) time.Duration {
	return now.Sub(f.Timestamp)
}

// IsZero reports whether the fix carries no sample.
func (f Fix) IsZero() bool {
	return f.Timestamp.IsZero()
}

const earthRadiusMeters = 6371000.0

// Haversine computes the great-circle distance in meters between two points.
// Shared by the geofence evaluator and the distance accumulator so the two
// containment views can never disagree on geometry.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// DistanceTo returns the haversine distance in meters from this fix to the
// given coordinates.
func (f Fix) DistanceTo(lat, lon float64) float64 {
	return Haversine(f.Latitude, f.Longitude, lat, lon)
}
