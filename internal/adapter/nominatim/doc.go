// Package nominatim resolves strike coordinates to place names through the
// OpenStreetMap Nominatim reverse geocoding API.
package nominatim
