package domain

import "context"

// GeocodingResult contains place data returned by a reverse geocoding provider.
type GeocodingResult struct {
	FormattedAddress string
	PlaceName        string
	CountryCode      string
}

// ReverseGeocoder resolves coordinates to a place.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}
