package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

var (
	// ErrUnavailable is returned for payloads reporting that the tracked
	// entity has no known position.
	ErrUnavailable = errors.New("location unavailable")

	// ErrNoCoordinates is returned for payloads without a latitude/longitude pair.
	ErrNoCoordinates = errors.New("no coordinates in payload")
)

// locationPayload accepts both short and long coordinate names.
type locationPayload struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	State     string   `json:"state"`
}

// ParseLocation decodes a location payload. Accepted forms are a JSON object
// with lat/lon or latitude/longitude, or the plain text "lat,lon". The
// states "unavailable" and "unknown" yield ErrUnavailable.
func ParseLocation(payload []byte) (domain.GeoPoint, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" || isUnavailable(text) {
		return domain.GeoPoint{}, ErrUnavailable
	}

	if !strings.HasPrefix(text, "{") {
		return parsePair(text)
	}

	var p locationPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return domain.GeoPoint{}, fmt.Errorf("parse location: %w", err)
	}
	if isUnavailable(p.State) {
		return domain.GeoPoint{}, ErrUnavailable
	}

	lat, lon := p.Lat, p.Lon
	if lat == nil {
		lat = p.Latitude
	}
	if lon == nil {
		lon = p.Longitude
	}
	if lat == nil || lon == nil {
		return domain.GeoPoint{}, ErrNoCoordinates
	}
	return domain.NewGeoPoint(*lat, *lon)
}

func parsePair(text string) (domain.GeoPoint, error) {
	latStr, lonStr, ok := strings.Cut(text, ",")
	if !ok {
		return domain.GeoPoint{}, ErrNoCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("parse location latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("parse location longitude: %w", err)
	}
	return domain.NewGeoPoint(lat, lon)
}

func isUnavailable(s string) bool {
	return strings.EqualFold(s, "unavailable") || strings.EqualFold(s, "unknown")
}

// Tracker follows the observer position published on a location topic.
// Valid positions are posted to Updates; anything else leaves the observer
// where it is and marks tracking degraded.
type Tracker struct {
	sub      transport.Subscriber
	topic    string
	observer *Observer
	updates  *Mailbox[domain.GeoPoint]
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	held transport.Subscription
}

// NewTracker creates a tracker for topic.
func NewTracker(sub transport.Subscriber, topic string, observer *Observer, logger *slog.Logger, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		sub:      sub,
		topic:    topic,
		observer: observer,
		updates:  NewMailbox[domain.GeoPoint](),
		logger:   logger,
		metrics:  metrics,
	}
}

// Start subscribes the location topic.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held != nil {
		return nil
	}
	h, err := t.sub.Subscribe(ctx, t.topic, t.Handle)
	if err != nil {
		return fmt.Errorf("track location %q: %w", t.topic, err)
	}
	t.held = h
	t.logger.Info("tracking location", "topic", t.topic)
	return nil
}

// Stop unsubscribes the location topic. It is idempotent.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	h := t.held
	t.held = nil
	t.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := t.sub.Unsubscribe(ctx, h); err != nil {
		return fmt.Errorf("stop tracking %q: %w", t.topic, err)
	}
	return nil
}

// Updates delivers the latest unread tracked position.
func (t *Tracker) Updates() <-chan domain.GeoPoint {
	return t.updates.C()
}

// Handle processes one location message. It never blocks.
func (t *Tracker) Handle(_ string, payload []byte) {
	p, err := ParseLocation(payload)
	if err != nil {
		result := "invalid"
		if errors.Is(err, ErrUnavailable) {
			result = "unavailable"
		}
		t.metrics.LocationUpdates.WithLabelValues(result).Inc()
		if !t.observer.Degraded() {
			t.logger.Warn("tracked location not usable, keeping last position",
				"topic", t.topic,
				"error", err,
			)
		}
		t.observer.SetDegraded(true)
		return
	}

	t.metrics.LocationUpdates.WithLabelValues("accepted").Inc()
	t.observer.SetDegraded(false)
	t.updates.Put(p)
}
