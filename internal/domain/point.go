package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinates is returned for a latitude outside [-90, 90] or a
// longitude outside [-180, 180].
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// GeoPoint is a WGS-84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewGeoPoint returns the point (lat, lon) or ErrInvalidCoordinates.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	p := GeoPoint{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate checks that p lies on the globe.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) ||
		p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("point (%v, %v): %w", p.Lat, p.Lon, ErrInvalidCoordinates)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", p.Lat, p.Lon)
}
