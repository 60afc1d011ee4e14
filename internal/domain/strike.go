package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField is returned when a strike payload lacks lat, lon or time.
var ErrMissingField = errors.New("missing required field")

// StrikePayload is the decoded core of a strike message.
type StrikePayload struct {
	Lat   float64
	Lon   float64
	Time  int64
	Extra map[string]json.RawMessage
}

// ParseStrike decodes a strike payload. lat, lon and time are required;
// every other field is kept verbatim in Extra.
func ParseStrike(payload []byte) (StrikePayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return StrikePayload{}, fmt.Errorf("parse strike: %w", err)
	}
	if fields == nil {
		return StrikePayload{}, fmt.Errorf("parse strike: payload is not an object")
	}

	var p StrikePayload
	if err := decodeField(fields, "lat", &p.Lat); err != nil {
		return StrikePayload{}, err
	}
	if err := decodeField(fields, "lon", &p.Lon); err != nil {
		return StrikePayload{}, err
	}
	if err := decodeField(fields, "time", &p.Time); err != nil {
		return StrikePayload{}, err
	}
	if err := (GeoPoint{Lat: p.Lat, Lon: p.Lon}).Validate(); err != nil {
		return StrikePayload{}, fmt.Errorf("parse strike: %w", err)
	}

	delete(fields, "lat")
	delete(fields, "lon")
	delete(fields, "time")
	if len(fields) > 0 {
		p.Extra = fields
	}
	return p, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("parse strike: %q: %w", name, ErrMissingField)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse strike: %q: %w", name, err)
	}
	return nil
}

// NewStrikeEvent combines a decoded payload with the observer it was measured
// from.
func NewStrikeEvent(topic string, p StrikePayload, observer GeoPoint) StrikeEvent {
	point := GeoPoint{Lat: p.Lat, Lon: p.Lon}
	return StrikeEvent{
		ID:       generateID(p.Lat, p.Lon, p.Time),
		Topic:    topic,
		Lat:      p.Lat,
		Lon:      p.Lon,
		Time:     p.Time,
		Polar:    ComputePolar(observer, point),
		Observer: observer,
		Extra:    p.Extra,
	}
}

// generateID produces a deterministic ID from the strike's location and time.
func generateID(lat, lon float64, timeNs int64) string {
	input := fmt.Sprintf("%.4f|%.4f|%d", lat, lon, timeNs)
	hash := sha256.Sum256([]byte(input))
	return "strike-" + hex.EncodeToString(hash[:8])
}
