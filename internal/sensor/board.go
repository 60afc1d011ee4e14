package sensor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// Activity reports whether strikes have stopped arriving.
type Activity interface {
	IsInactive() bool
}

// Board fans strikes out to a fixed set of sensors and tracks their
// availability. It implements pipeline.Listener.
type Board struct {
	activity Activity
	clock    clockwork.Clock

	mu        sync.RWMutex
	sensors   []Sensor
	available bool
	updatedAt time.Time
}

// NewBoard creates a Board over sensors.
func NewBoard(activity Activity, clock clockwork.Clock, sensors ...Sensor) *Board {
	return &Board{activity: activity, clock: clock, sensors: sensors}
}

// NewDefaultBoard creates a Board with distance, azimuth and counter sensors.
func NewDefaultBoard(activity Activity, clock clockwork.Clock) *Board {
	return NewBoard(activity, clock, &Distance{}, &Azimuth{}, &Counter{})
}

func (b *Board) OnStrike(e domain.StrikeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sensors {
		s.Apply(e)
	}
	b.updatedAt = b.clock.Now()
}

// OnTick resets every sensor when no strike arrived within the time window.
func (b *Board) OnTick() {
	if !b.activity.IsInactive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sensors {
		s.Reset()
	}
}

func (b *Board) OnConnectionChange(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = connected
}

// Available reports the last connection state delivered to the board.
func (b *Board) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available
}

// UpdatedAt returns when the last strike was applied.
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Readings returns the current reading of every sensor, in board order.
func (b *Board) Readings() []Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Reading, 0, len(b.sensors))
	for _, s := range b.sensors {
		r := s.Reading()
		r.Available = b.available
		out = append(out, r)
	}
	return out
}
