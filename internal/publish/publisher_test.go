package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/publish"
	"github.com/couchcryptid/lightning-tracker/internal/transport/transporttest"
)

// --- mocks ---

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.StrikeEvent
	calls  int
	// failures is the number of leading calls that fail.
	failures int
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.StrikeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

func (m *mockLoader) Loaded() []domain.StrikeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StrikeEvent(nil), m.loaded...)
}

func (m *mockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type placeGeocoder struct{}

func (placeGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PlaceName: "Piaseczno", FormattedAddress: "Piaseczno, Poland", CountryCode: "pl"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strike(id string) domain.StrikeEvent {
	return domain.StrikeEvent{ID: id, Lat: 52.1, Lon: 21.0, Time: 1718000000000000000}
}

func runPublisher(t *testing.T, p *publish.Publisher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

// --- tests ---

func TestPublisher_FlushesFullBatch(t *testing.T) {
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := publish.New([]publish.Sink{{Name: "kafka", Loader: ldr}}, nil,
		publish.Config{BatchSize: 3, FlushInterval: time.Hour}, clockwork.NewFakeClock(), discardLogger(), metrics)

	for _, id := range []string{"a", "b", "c"} {
		p.OnStrike(strike(id))
	}
	runPublisher(t, p)

	require.Eventually(t, func() bool { return len(ldr.Loaded()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ldr.Calls())
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.StrikesPublished.WithLabelValues("kafka")), 1e-9)
}

func TestPublisher_FlushesPartialBatchOnInterval(t *testing.T) {
	ldr := &mockLoader{}
	clock := clockwork.NewFakeClock()
	p := publish.New([]publish.Sink{{Name: "mqtt", Loader: ldr}}, nil,
		publish.Config{BatchSize: 10, FlushInterval: 500 * time.Millisecond}, clock, discardLogger(), observability.NewMetricsForTesting())

	p.OnStrike(strike("a"))
	p.OnStrike(strike("b"))
	runPublisher(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, ldr.Loaded())

	require.Eventually(t, func() bool {
		clock.Advance(500 * time.Millisecond)
		return len(ldr.Loaded()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_RetriesFailedLoad(t *testing.T) {
	ldr := &mockLoader{failures: 2}
	metrics := observability.NewMetricsForTesting()
	p := publish.New([]publish.Sink{{Name: "kafka", Loader: ldr}}, nil,
		publish.Config{BatchSize: 1, InitialBackoff: time.Millisecond, MaxAttempts: 3}, clockwork.NewFakeClock(), discardLogger(), metrics)

	p.OnStrike(strike("a"))
	runPublisher(t, p)

	require.Eventually(t, func() bool { return len(ldr.Loaded()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, ldr.Calls())
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("kafka")), 1e-9)
}

func TestPublisher_DropsBatchAfterMaxAttemptsAndContinues(t *testing.T) {
	broken := &mockLoader{failures: 1 << 30}
	healthy := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := publish.New([]publish.Sink{{Name: "kafka", Loader: broken}, {Name: "mqtt", Loader: healthy}}, nil,
		publish.Config{BatchSize: 1, InitialBackoff: time.Millisecond, MaxAttempts: 2}, clockwork.NewFakeClock(), discardLogger(), metrics)

	p.OnStrike(strike("a"))
	p.OnStrike(strike("b"))
	runPublisher(t, p)

	require.Eventually(t, func() bool { return len(healthy.Loaded()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, broken.Calls())
	assert.Empty(t, broken.Loaded())
	assert.InDelta(t, 4.0, testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("kafka")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.StrikesPublished.WithLabelValues("mqtt")), 1e-9)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	p := publish.New(nil, nil, publish.Config{BatchSize: 1, QueueSize: 1}, clockwork.NewFakeClock(), discardLogger(), metrics)

	p.OnStrike(strike("a"))
	p.OnStrike(strike("b"))

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.PublishDropped), 1e-9)
}

func TestPublisher_EnrichesWithPlace(t *testing.T) {
	ldr := &mockLoader{}
	p := publish.New([]publish.Sink{{Name: "kafka", Loader: ldr}}, placeGeocoder{},
		publish.Config{BatchSize: 1}, clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())

	p.OnStrike(strike("a"))
	runPublisher(t, p)

	require.Eventually(t, func() bool { return len(ldr.Loaded()) == 1 }, time.Second, 5*time.Millisecond)
	got := ldr.Loaded()[0]
	assert.Equal(t, "Piaseczno", got.PlaceName)
	assert.Equal(t, "pl", got.CountryCode)
	assert.Equal(t, "reverse", got.GeoSource)
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	p := publish.New(nil, nil, publish.Config{}, clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
}

func TestTopicLoader_PublishesJSON(t *testing.T) {
	fake := transporttest.New()
	ldr := publish.NewTopicLoader(fake, "home/lightning")

	require.NoError(t, ldr.LoadBatch(context.Background(), []domain.StrikeEvent{strike("a"), strike("b")}))

	msgs := fake.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "home/lightning", msgs[0].Topic)
	assert.False(t, msgs[0].Retained)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &decoded))
	assert.Equal(t, "b", decoded["id"])
}

func TestTopicLoader_StopsOnPublishError(t *testing.T) {
	fake := transporttest.New()
	fake.PublishErr = errors.New("not connected")
	ldr := publish.NewTopicLoader(fake, "home/lightning")

	err := ldr.LoadBatch(context.Background(), []domain.StrikeEvent{strike("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home/lightning")
}
