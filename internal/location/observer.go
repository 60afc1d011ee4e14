// Package location tracks where the observer is: a fixed configured point or
// a point followed from a location topic on the broker.
package location

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// Mode is how the observer position is obtained.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeTracking Mode = "tracking"
)

// ErrInvalidRadius is returned for a radius that is not positive.
var ErrInvalidRadius = errors.New("invalid radius")

// State is a snapshot of the observer.
type State struct {
	Point     domain.GeoPoint `json:"point"`
	RadiusKm  float64         `json:"radius_km"`
	Mode      Mode            `json:"mode"`
	Degraded  bool            `json:"degraded"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Observer is the goroutine-safe current position of the observer.
type Observer struct {
	mu        sync.RWMutex
	point     domain.GeoPoint
	radiusKm  float64
	mode      Mode
	degraded  bool
	updatedAt time.Time
}

// NewObserver validates the initial point and radius.
func NewObserver(point domain.GeoPoint, radiusKm float64, mode Mode) (*Observer, error) {
	if err := point.Validate(); err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	if !(radiusKm > 0) {
		return nil, fmt.Errorf("observer: radius %v: %w", radiusKm, ErrInvalidRadius)
	}
	return &Observer{point: point, radiusKm: radiusKm, mode: mode}, nil
}

// Position returns the current point.
func (o *Observer) Position() domain.GeoPoint {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.point
}

// RadiusKm returns the observation radius.
func (o *Observer) RadiusKm() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.radiusKm
}

// SetPosition moves the observer. Invalid points are rejected.
func (o *Observer) SetPosition(p domain.GeoPoint, at time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.point = p
	o.updatedAt = at
	return nil
}

// SetDegraded marks whether tracking currently fails to deliver positions.
func (o *Observer) SetDegraded(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded = v
}

// Degraded reports whether tracking is degraded.
func (o *Observer) Degraded() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.degraded
}

// State returns a snapshot of the observer.
func (o *Observer) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return State{
		Point:     o.point,
		RadiusKm:  o.radiusKm,
		Mode:      o.mode,
		Degraded:  o.degraded,
		UpdatedAt: o.updatedAt,
	}
}
