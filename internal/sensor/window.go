package sensor

import (
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// TrackedStrike is a strike kept in the recent strike window.
type TrackedStrike struct {
	ID         string    `json:"id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	DistanceKm float64   `json:"distance_km"`
	Azimuth    int       `json:"azimuth"`
	Time       time.Time `json:"time"`
}

// StrikeWindow keeps the accepted strikes of the last time window, ordered
// by strike time and bounded in number. It implements pipeline.Listener.
type StrikeWindow struct {
	window     time.Duration
	maxStrikes int
	clock      clockwork.Clock

	mu      sync.RWMutex
	strikes []TrackedStrike
	ids     map[string]struct{}
}

// NewStrikeWindow creates a window holding at most maxStrikes strikes. A zero
// window keeps strikes until they are pushed out by newer ones.
func NewStrikeWindow(window time.Duration, maxStrikes int, clock clockwork.Clock) *StrikeWindow {
	if maxStrikes < 1 {
		maxStrikes = 1
	}
	return &StrikeWindow{
		window:     window,
		maxStrikes: maxStrikes,
		clock:      clock,
		ids:        make(map[string]struct{}),
	}
}

func (w *StrikeWindow) OnStrike(e domain.StrikeEvent) {
	s := TrackedStrike{
		ID:         e.ID,
		Lat:        e.Lat,
		Lon:        e.Lon,
		DistanceKm: e.Polar.DistanceKm,
		Azimuth:    e.Polar.Azimuth,
		Time:       e.StrikeTime(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.ids[s.ID]; dup {
		return
	}

	i := len(w.strikes)
	if i > 0 && s.Time.Before(w.strikes[i-1].Time) {
		i, _ = slices.BinarySearchFunc(w.strikes, s.Time, func(t TrackedStrike, target time.Time) int {
			if t.Time.After(target) {
				return 1
			}
			return -1
		})
	}
	w.strikes = slices.Insert(w.strikes, i, s)
	w.ids[s.ID] = struct{}{}

	w.pruneLocked()
	for len(w.strikes) > w.maxStrikes {
		delete(w.ids, w.strikes[0].ID)
		w.strikes = w.strikes[1:]
	}
}

// OnTick drops strikes older than the time window.
func (w *StrikeWindow) OnTick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked()
}

func (w *StrikeWindow) OnConnectionChange(bool) {}

func (w *StrikeWindow) pruneLocked() {
	if w.window <= 0 {
		return
	}
	cutoff := w.clock.Now().Add(-w.window)
	n := 0
	for n < len(w.strikes) && !w.strikes[n].Time.After(cutoff) {
		delete(w.ids, w.strikes[n].ID)
		n++
	}
	if n > 0 {
		w.strikes = slices.Clone(w.strikes[n:])
	}
}

// Strikes returns the tracked strikes, oldest first.
func (w *StrikeWindow) Strikes() []TrackedStrike {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.strikes)
}

// Len returns the number of tracked strikes.
func (w *StrikeWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.strikes)
}
