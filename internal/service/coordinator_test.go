package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/pipeline"
	"github.com/couchcryptid/lightning-tracker/internal/sensor"
	"github.com/couchcryptid/lightning-tracker/internal/service"
	"github.com/couchcryptid/lightning-tracker/internal/transport/transporttest"
)

var (
	topics = domain.Topics{Namespace: "blitzortung", Version: "1.1"}
	warsaw = domain.GeoPoint{Lat: 52.2297, Lon: 21.0122}
	krakow = domain.GeoPoint{Lat: 50.0647, Lon: 19.9450}

	warsawTiles = []string{"u3qb", "u3qc", "u3r0", "u3r1"}
	krakowTiles = []string{"u2yh", "u2yj", "u2yk", "u2ym"}
)

const (
	strikeTopic   = "blitzortung/1.1/u/3/q/c/n"
	locationTopic = "owntracks/me/phone"
	nearStrike    = `{"lat":52.23,"lon":21.02,"time":1718000000000000000,"region":1}`
	farStrike     = `{"lat":52.5,"lon":21.0,"time":1718000000000000000}`
)

func baseOptions() service.Options {
	return service.Options{
		Topics:        topics,
		Observer:      warsaw,
		RadiusKm:      10,
		TileBudget:    9,
		MinMoveMeters: 50,
		TimeWindow:    2 * time.Hour,
		TickInterval:  time.Minute,
		MaxTracked:    10,
		Version:       "1.0.0",
	}
}

type harness struct {
	coord   *service.Coordinator
	fake    *transporttest.Fake
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, opts service.Options) *harness {
	t.Helper()
	h := &harness{
		fake:    transporttest.New(),
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC)),
		metrics: observability.NewMetricsForTesting(),
		done:    make(chan error, 1),
	}
	coord, err := service.New(h.fake, opts, h.clock, slog.New(slog.NewTextHandler(io.Discard, nil)), h.metrics)
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.coord.Run(ctx) }()
	t.Cleanup(h.stop)

	require.Eventually(t, func() bool {
		return h.coord.CheckReadiness(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	<-h.done
}

func filters(tiles ...string) []string {
	out := make([]string, len(tiles))
	for i, tile := range tiles {
		out[i] = topics.Filter(tile)
	}
	return out
}

func counterValue(s service.Status) any {
	for _, r := range s.Sensors {
		if r.Kind == sensor.KindCounter {
			return r.Value
		}
	}
	return nil
}

// --- tests ---

func TestNew_RejectsInvalidObserver(t *testing.T) {
	opts := baseOptions()
	opts.Observer = domain.GeoPoint{Lat: 95, Lon: 0}
	_, err := service.New(transporttest.New(), opts, clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())
	require.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}

func TestCoordinator_SubscribesCoverageAndHello(t *testing.T) {
	h := newHarness(t, baseOptions())
	h.start(t)

	active := h.fake.Active()
	for _, f := range filters(warsawTiles...) {
		assert.Contains(t, active, f)
	}
	assert.Contains(t, active, sensor.HelloTopic)
	assert.NotContains(t, active, sensor.ServerStatsFilter)

	st := h.coord.Status()
	assert.Equal(t, warsawTiles, st.Coverage.Tiles)
	assert.Equal(t, 4, st.Coverage.Precision)
	assert.Equal(t, "connected", st.Coverage.State)
	assert.Equal(t, filters(warsawTiles...), st.Coverage.Filters)
	assert.True(t, st.Connected)
	assert.True(t, st.Inactive, "no strike yet")
}

func TestCoordinator_DeliversStrikesToListeners(t *testing.T) {
	h := newHarness(t, baseOptions())
	var got atomic.Value
	h.coord.Register(pipeline.ListenerFuncs{Strike: func(e domain.StrikeEvent) { got.Store(e) }})
	h.start(t)

	h.fake.Deliver(strikeTopic, []byte(nearStrike))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	e := got.Load().(domain.StrikeEvent)
	assert.Equal(t, strikeTopic, e.Topic)
	assert.Equal(t, warsaw, e.Observer)
	assert.Less(t, e.Polar.DistanceKm, 10.0)

	require.Eventually(t, func() bool { return len(h.coord.Status().Strikes) == 1 }, time.Second, 5*time.Millisecond)
	st := h.coord.Status()
	assert.EqualValues(t, 1, counterValue(st))
	assert.False(t, st.Inactive)
	require.NotNil(t, st.LastActivity)
}

func TestCoordinator_RejectsFarStrikes(t *testing.T) {
	h := newHarness(t, baseOptions())
	h.start(t)

	h.fake.Deliver(strikeTopic, []byte(farStrike))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.StrikesRejected) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.coord.Status().Strikes)
}

func TestCoordinator_TicksReachListeners(t *testing.T) {
	h := newHarness(t, baseOptions())
	var ticks atomic.Int32
	h.coord.Register(pipeline.ListenerFuncs{Tick: func() { ticks.Add(1) }})
	h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return ticks.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_ConnectionChangesReachSensors(t *testing.T) {
	h := newHarness(t, baseOptions())
	h.start(t)

	available := func() bool {
		for _, r := range h.coord.Status().Sensors {
			if !r.Available {
				return false
			}
		}
		return true
	}
	require.Eventually(t, available, time.Second, 5*time.Millisecond)

	h.coord.NotifyConnection(false)
	require.Eventually(t, func() bool { return !available() }, time.Second, 5*time.Millisecond)

	h.coord.NotifyConnection(true)
	require.Eventually(t, available, time.Second, 5*time.Millisecond)
}

func TestCoordinator_RelocatesOnTrackedLocation(t *testing.T) {
	opts := baseOptions()
	opts.LocationTopic = locationTopic
	h := newHarness(t, opts)
	h.start(t)
	assert.Contains(t, h.fake.Active(), locationTopic)

	h.fake.Deliver(locationTopic, []byte(`{"latitude": 50.0647, "longitude": 19.9450}`))

	require.Eventually(t, func() bool {
		st := h.coord.Status()
		return st.Observer.Point == krakow && assert.ObjectsAreEqual(krakowTiles, st.Coverage.Tiles)
	}, time.Second, 5*time.Millisecond)

	active := h.fake.Active()
	for _, f := range filters(krakowTiles...) {
		assert.Contains(t, active, f)
	}
	for _, f := range filters(warsawTiles...) {
		assert.NotContains(t, active, f)
	}
	assert.Equal(t, "tracking", string(h.coord.Status().Observer.Mode))
}

func TestCoordinator_IgnoresLocationJitter(t *testing.T) {
	opts := baseOptions()
	opts.LocationTopic = locationTopic
	h := newHarness(t, opts)
	h.start(t)

	// About 11 m north.
	h.fake.Deliver(locationTopic, []byte(`{"lat": 52.2298, "lon": 21.0122}`))

	assert.Never(t, func() bool {
		return h.coord.Status().Observer.Point != warsaw
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, warsawTiles, h.coord.Status().Coverage.Tiles)
}

func TestCoordinator_UnavailableLocationDegrades(t *testing.T) {
	opts := baseOptions()
	opts.LocationTopic = locationTopic
	h := newHarness(t, opts)
	h.start(t)

	h.fake.Deliver(locationTopic, []byte(`unavailable`))

	st := h.coord.Status()
	assert.True(t, st.Observer.Degraded)
	assert.Equal(t, warsaw, st.Observer.Point)
}

func TestCoordinator_ServerStatsAndUpdateNotice(t *testing.T) {
	opts := baseOptions()
	opts.ServerStats = true
	h := newHarness(t, opts)
	h.start(t)
	assert.Contains(t, h.fake.Active(), sensor.ServerStatsFilter)

	h.fake.Deliver("$SYS/broker/clients/connected", []byte("42"))
	h.fake.Deliver(sensor.HelloTopic, []byte(`{"latest_version": "1.2.0"}`))

	require.Eventually(t, func() bool {
		st := h.coord.Status()
		return len(st.ServerStats) == 1 && st.Notice != nil
	}, time.Second, 5*time.Millisecond)

	st := h.coord.Status()
	assert.Equal(t, "server_stats", st.ServerStats[0].Name)
	assert.Equal(t, 42, st.ServerStats[0].Value)
	assert.Equal(t, "1.2.0", st.Notice.Version)
}

func TestCoordinator_TeardownReleasesEverything(t *testing.T) {
	opts := baseOptions()
	opts.LocationTopic = locationTopic
	opts.ServerStats = true
	h := newHarness(t, opts)
	h.start(t)
	require.NotEmpty(t, h.fake.Active())

	h.stop()

	assert.Empty(t, h.fake.Active())
	assert.False(t, h.fake.Connected())
	require.Error(t, h.coord.CheckReadiness(context.Background()))
	assert.Equal(t, "disconnected", h.coord.Status().Coverage.State)
}

func TestCoordinator_ConnectFailure(t *testing.T) {
	h := newHarness(t, baseOptions())
	h.fake.ConnectErr = errors.New("connection refused")

	err := h.coord.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect broker")
}

func TestCoordinator_CoverageFailureRollsBack(t *testing.T) {
	h := newHarness(t, baseOptions())
	h.fake.SubscribeErr = func(filter string) error {
		if filter == topics.Filter("u3r0") {
			return errors.New("not authorized")
		}
		return nil
	}

	err := h.coord.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe coverage")
	assert.Empty(t, h.fake.Active())
}
