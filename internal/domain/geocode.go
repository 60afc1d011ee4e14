package domain

import (
	"context"
	"log/slog"
)

// EnrichWithPlace attempts to attach a reverse-geocoded place to a strike.
// If geocoder is nil the event is returned unchanged. On failure the event is
// returned with GeoSource set accordingly (graceful degradation).
func EnrichWithPlace(ctx context.Context, event StrikeEvent, geocoder ReverseGeocoder, logger *slog.Logger) StrikeEvent {
	if geocoder == nil {
		return event
	}

	result, err := geocoder.ReverseGeocode(ctx, event.Lat, event.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"strike_id", event.ID,
			"lat", event.Lat,
			"lon", event.Lon,
			"error", err,
		)
		event.GeoSource = "failed"
		return event
	}
	if result.FormattedAddress == "" && result.PlaceName == "" {
		event.GeoSource = "original"
		return event
	}

	event.FormattedAddress = result.FormattedAddress
	event.PlaceName = result.PlaceName
	event.CountryCode = result.CountryCode
	event.GeoSource = "reverse"
	return event
}
