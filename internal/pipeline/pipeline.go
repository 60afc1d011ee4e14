// Package pipeline turns raw broker messages into strike events relative to
// the observer and fans them out to registered listeners.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
)

// Listener consumes accepted strikes and lifecycle signals. Calls are made
// synchronously on the pipeline's goroutine and must return quickly.
type Listener interface {
	OnStrike(event domain.StrikeEvent)
	OnTick()
	OnConnectionChange(connected bool)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Strike     func(domain.StrikeEvent)
	Tick       func()
	Connection func(bool)
}

func (f ListenerFuncs) OnStrike(e domain.StrikeEvent) {
	if f.Strike != nil {
		f.Strike(e)
	}
}

func (f ListenerFuncs) OnTick() {
	if f.Tick != nil {
		f.Tick()
	}
}

func (f ListenerFuncs) OnConnectionChange(connected bool) {
	if f.Connection != nil {
		f.Connection(connected)
	}
}

// MessageReceiver sees every raw message before strike decoding.
type MessageReceiver func(topic string, payload []byte)

// PositionSource reports where the observer is now and how far it looks.
type PositionSource interface {
	Position() domain.GeoPoint
	RadiusKm() float64
}

// Pipeline decodes, measures, filters and fans out strikes.
type Pipeline struct {
	topics     domain.Topics
	position   PositionSource
	timeWindow time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	listeners Registry[Listener]
	receivers Registry[MessageReceiver]

	mu           sync.Mutex
	lastActivity time.Time
}

// New creates a Pipeline. A zero timeWindow disables inactivity detection.
func New(topics domain.Topics, position PositionSource, timeWindow time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		topics:     topics,
		position:   position,
		timeWindow: timeWindow,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Register adds a listener and returns its token.
func (p *Pipeline) Register(l Listener) Token {
	return p.listeners.Add(l)
}

// Unregister removes a listener. It is idempotent.
func (p *Pipeline) Unregister(tok Token) {
	p.listeners.Remove(tok)
}

// RegisterReceiver adds a raw message receiver and returns its token.
func (p *Pipeline) RegisterReceiver(r MessageReceiver) Token {
	return p.receivers.Add(r)
}

// UnregisterReceiver removes a raw message receiver. It is idempotent.
func (p *Pipeline) UnregisterReceiver(tok Token) {
	p.receivers.Remove(tok)
}

// HandleMessage processes one broker message. Every message is offered to
// the receivers; strike messages that decode and lie strictly inside the
// radius are delivered to the listeners in registration order.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	p.metrics.MessagesReceived.Inc()

	for _, r := range p.receivers.Snapshot() {
		r(topic, payload)
	}

	tile, ok := p.topics.Tile(topic)
	if !ok {
		return
	}

	decoded, err := domain.ParseStrike(payload)
	if err != nil {
		p.logger.Warn("strike decode failed, dropping message",
			"topic", topic,
			"tile", tile,
			"error", err,
		)
		p.metrics.DecodeErrors.Inc()
		return
	}

	now := p.clock.Now()
	event := domain.NewStrikeEvent(topic, decoded, p.position.Position())
	event.ReceivedAt = now

	radius := p.position.RadiusKm()
	if !(event.Polar.DistanceKm < radius) {
		p.metrics.StrikesRejected.Inc()
		return
	}

	p.mu.Lock()
	p.lastActivity = now
	p.mu.Unlock()
	p.metrics.StrikesAccepted.Inc()

	p.logger.Debug("strike accepted",
		"strike_id", event.ID,
		"tile", tile,
		"distance_km", event.Polar.DistanceKm,
		"azimuth", event.Polar.Azimuth,
	)

	for _, l := range p.listeners.Snapshot() {
		l.OnStrike(event)
	}
}

// Tick delivers a periodic tick to every listener.
func (p *Pipeline) Tick() {
	for _, l := range p.listeners.Snapshot() {
		l.OnTick()
	}
}

// NotifyConnection delivers a connection change to every listener.
func (p *Pipeline) NotifyConnection(connected bool) {
	for _, l := range p.listeners.Snapshot() {
		l.OnConnectionChange(connected)
	}
}

// LastActivity returns the time of the last accepted strike, or the zero
// time if none has been accepted.
func (p *Pipeline) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// IsInactive reports whether no strike has been accepted within the time
// window. It is always false when the window is zero.
func (p *Pipeline) IsInactive() bool {
	if p.timeWindow <= 0 {
		return false
	}
	return p.clock.Since(p.LastActivity()) >= p.timeWindow
}

// TimeWindow returns the inactivity window.
func (p *Pipeline) TimeWindow() time.Duration {
	return p.timeWindow
}
