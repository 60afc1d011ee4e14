package domain

import "math"

// EarthRadiusKm is the mean Earth radius used for all distance math.
const EarthRadiusKm = 6371.0

// Polar is the position of a target relative to an observer.
type Polar struct {
	DistanceKm float64 `json:"distance_km"`
	Azimuth    int     `json:"azimuth"`
}

// ComputePolar returns the haversine distance (0.1 km resolution) and the
// initial bearing (whole degrees, [0, 360)) from observer to target.
func ComputePolar(observer, target GeoPoint) Polar {
	if observer == target {
		return Polar{}
	}

	distance := math.Round(haversineKm(observer, target)*10) / 10

	phi1 := radians(observer.Lat)
	phi2 := radians(target.Lat)
	dLambda := radians(target.Lon - observer.Lon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	bearing := math.Mod(degrees(math.Atan2(y, x))+360, 360)

	return Polar{
		DistanceKm: distance,
		Azimuth:    int(math.Round(bearing)) % 360,
	}
}

// DistanceMeters returns the unrounded great-circle distance between a and b.
func DistanceMeters(a, b GeoPoint) float64 {
	return haversineKm(a, b) * 1000
}

func haversineKm(a, b GeoPoint) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
