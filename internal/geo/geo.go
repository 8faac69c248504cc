// Package geo computes geographic distance and round scores.
package geo

import "math"

const (
	earthRadiusKm = 6371

	// RoundLengthSeconds is the client-side countdown for one round.
	// The server does not enforce it; it only feeds the speed bonus.
	RoundLengthSeconds = 30

	// TimeoutPenalty is subtracted by the caller when an answer arrives
	// with no time remaining. The result may go negative.
	TimeoutPenalty = 50

	maxDistanceKm = 20000
	maxYearError  = 2000
)

// DistanceKm returns the great-circle distance in kilometers between two
// points given in degrees, using the haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// RoundScore combines distance error, year error, and remaining time into
// a 0-1000 score. Distance and year each contribute up to 497.5 points
// with linear decay; the speed bonus tops out at 5 points and exists only
// as a tiebreaker.
func RoundScore(distanceKm float64, yearError int, timeLeft float64) int {
	distanceScore := math.Max(0, 497.5*(1-distanceKm/maxDistanceKm))
	yearScore := math.Max(0, 497.5*(1-math.Abs(float64(yearError))/maxYearError))
	speedBonus := math.Max(0, 5*(timeLeft/RoundLengthSeconds))

	return int(math.Round(distanceScore + yearScore + speedBonus))
}
