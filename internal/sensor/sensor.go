// Package sensor holds the consumers of accepted strikes: per-kind sensors
// aggregated on a Board, the recent strike window, broker statistics and
// version announcements.
package sensor

import (
	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// Kind names a strike sensor.
type Kind string

const (
	KindDistance Kind = "distance"
	KindAzimuth  Kind = "azimuth"
	KindCounter  Kind = "counter"
)

// Reading is a point-in-time view of a sensor. A nil Value means unknown.
type Reading struct {
	Kind       Kind           `json:"kind"`
	Value      any            `json:"value"`
	Unit       string         `json:"unit,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Available  bool           `json:"available"`
}

// Sensor is updated from accepted strikes and reset when activity lapses.
// Sensors are not safe for concurrent use; Board serializes access.
type Sensor interface {
	Apply(event domain.StrikeEvent)
	Reset()
	Reading() Reading
}

// Distance reports the distance of the latest strike in kilometres.
type Distance struct {
	value    *float64
	lat, lon float64
}

func (d *Distance) Apply(e domain.StrikeEvent) {
	v := e.Polar.DistanceKm
	d.value = &v
	d.lat, d.lon = e.Lat, e.Lon
}

func (d *Distance) Reset() { d.value = nil }

func (d *Distance) Reading() Reading {
	r := Reading{Kind: KindDistance, Unit: "km"}
	if d.value != nil {
		r.Value = *d.value
		r.Attributes = map[string]any{"lat": d.lat, "lon": d.lon}
	}
	return r
}

// Azimuth reports the bearing of the latest strike in degrees.
type Azimuth struct {
	value    *int
	lat, lon float64
}

func (a *Azimuth) Apply(e domain.StrikeEvent) {
	v := e.Polar.Azimuth
	a.value = &v
	a.lat, a.lon = e.Lat, e.Lon
}

func (a *Azimuth) Reset() { a.value = nil }

func (a *Azimuth) Reading() Reading {
	r := Reading{Kind: KindAzimuth, Unit: "°"}
	if a.value != nil {
		r.Value = *a.value
		r.Attributes = map[string]any{"lat": a.lat, "lon": a.lon}
	}
	return r
}

// Counter counts strikes since the last reset.
type Counter struct {
	count int
}

func (c *Counter) Apply(domain.StrikeEvent) { c.count++ }

func (c *Counter) Reset() { c.count = 0 }

func (c *Counter) Reading() Reading {
	return Reading{Kind: KindCounter, Value: c.count, Unit: "↯"}
}
