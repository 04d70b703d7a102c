// Package geo holds the distance and travel-time estimates used to rank
// vehicles against an incident. Positions are plain WGS84 degrees and are not
// range-checked.
package geo

import (
	"math"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

const (
	// EarthRadiusKm is the mean radius of the spherical Earth model.
	EarthRadiusKm = 6371.0
	// UrbanSpeedKmh is the assumed average speed of a vehicle in city traffic.
	UrbanSpeedKmh = 40.0
)

// DistanceKm returns the great-circle distance between a and b using the
// haversine formula.
func DistanceKm(a, b models.Location) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusKm * c
}

// EstimateETAMinutes converts a distance to whole minutes at UrbanSpeedKmh.
func EstimateETAMinutes(distanceKm float64) int {
	return int(math.Round(distanceKm / UrbanSpeedKmh * 60))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
