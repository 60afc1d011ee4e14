package sensor

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

var windowStart = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func strikeAt(id string, at time.Time) domain.StrikeEvent {
	return domain.StrikeEvent{ID: id, Time: at.UnixNano(), Polar: domain.Polar{DistanceKm: 5, Azimuth: 10}}
}

func ids(strikes []TrackedStrike) []string {
	out := make([]string, len(strikes))
	for i, s := range strikes {
		out[i] = s.ID
	}
	return out
}

func TestStrikeWindow_OrdersByStrikeTime(t *testing.T) {
	w := NewStrikeWindow(time.Hour, 10, clockwork.NewFakeClockAt(windowStart))

	w.OnStrike(strikeAt("b", windowStart.Add(-20*time.Minute)))
	w.OnStrike(strikeAt("d", windowStart.Add(-5*time.Minute)))
	w.OnStrike(strikeAt("a", windowStart.Add(-30*time.Minute)))
	w.OnStrike(strikeAt("c", windowStart.Add(-10*time.Minute)))
	w.OnStrike(strikeAt("c", windowStart.Add(-10*time.Minute)))

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(w.Strikes()))
}

func TestStrikeWindow_BoundedByMax(t *testing.T) {
	w := NewStrikeWindow(time.Hour, 3, clockwork.NewFakeClockAt(windowStart))
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		w.OnStrike(strikeAt(id, windowStart.Add(time.Duration(i-10)*time.Minute)))
	}
	assert.Equal(t, []string{"c", "d", "e"}, ids(w.Strikes()))
	assert.Equal(t, 3, w.Len())
}

func TestStrikeWindow_TickPrunesExpired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w := NewStrikeWindow(time.Hour, 10, clock)
	w.OnStrike(strikeAt("old", windowStart.Add(-50*time.Minute)))
	w.OnStrike(strikeAt("new", windowStart.Add(-5*time.Minute)))

	clock.Advance(20 * time.Minute)
	w.OnTick()

	assert.Equal(t, []string{"new"}, ids(w.Strikes()))
}

func TestStrikeWindow_ExpiredOnArrival(t *testing.T) {
	w := NewStrikeWindow(time.Hour, 10, clockwork.NewFakeClockAt(windowStart))
	w.OnStrike(strikeAt("ancient", windowStart.Add(-2*time.Hour)))
	assert.Zero(t, w.Len())
}

func TestStrikeWindow_ZeroWindowKeepsStrikes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w := NewStrikeWindow(0, 10, clock)
	w.OnStrike(strikeAt("a", windowStart.Add(-48*time.Hour)))
	clock.Advance(24 * time.Hour)
	w.OnTick()
	w.OnConnectionChange(false)
	assert.Equal(t, 1, w.Len())
}
