package domain

import (
	"encoding/json"
	"time"
)

// RawMessage is an undecoded message delivered by the transport.
type RawMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// StrikeEvent is a decoded strike enriched relative to the observer.
type StrikeEvent struct {
	ID    string
	Topic string

	Lat  float64
	Lon  float64
	Time int64 // nanoseconds since epoch

	Polar    Polar
	Observer GeoPoint

	// Reverse geocoding enrichment.
	PlaceName        string
	FormattedAddress string
	CountryCode      string
	GeoSource        string // "reverse", "original", "failed"

	// Extra holds payload fields other than lat, lon and time, unmodified.
	Extra map[string]json.RawMessage

	ReceivedAt time.Time
}

// Point returns the strike location.
func (e StrikeEvent) Point() GeoPoint {
	return GeoPoint{Lat: e.Lat, Lon: e.Lon}
}

// StrikeTime converts Time to a UTC time.Time.
func (e StrikeEvent) StrikeTime() time.Time {
	return time.Unix(0, e.Time).UTC()
}

// strikeJSON is the serialized shape of an enriched strike.
type strikeJSON struct {
	ID               string  `json:"id"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	Time             int64   `json:"time"`
	DistanceKm       float64 `json:"distance_km"`
	Azimuth          int     `json:"azimuth"`
	ObserverLat      float64 `json:"observer_lat"`
	ObserverLon      float64 `json:"observer_lon"`
	PlaceName        string  `json:"place_name,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	CountryCode      string  `json:"country_code,omitempty"`
	GeoSource        string  `json:"geo_source,omitempty"`
	ReceivedAt       string  `json:"received_at,omitempty"`
}

// MarshalJSON writes the pass-through fields first and the derived fields on
// top, so a payload field named like a derived one is overwritten.
func (e StrikeEvent) MarshalJSON() ([]byte, error) {
	core := strikeJSON{
		ID:               e.ID,
		Lat:              e.Lat,
		Lon:              e.Lon,
		Time:             e.Time,
		DistanceKm:       e.Polar.DistanceKm,
		Azimuth:          e.Polar.Azimuth,
		ObserverLat:      e.Observer.Lat,
		ObserverLon:      e.Observer.Lon,
		PlaceName:        e.PlaceName,
		FormattedAddress: e.FormattedAddress,
		CountryCode:      e.CountryCode,
		GeoSource:        e.GeoSource,
	}
	if !e.ReceivedAt.IsZero() {
		core.ReceivedAt = e.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(core)
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return b, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(e.Extra)+len(fields))
	for k, v := range e.Extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
