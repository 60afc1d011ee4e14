// Package service runs the tracker: one event loop that owns the coverage
// subscriptions, the strike pipeline and the sensors built on it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/location"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/pipeline"
	"github.com/couchcryptid/lightning-tracker/internal/sensor"
	"github.com/couchcryptid/lightning-tracker/internal/subscription"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// Options configures a Coordinator.
type Options struct {
	Topics        domain.Topics
	Observer      domain.GeoPoint
	RadiusKm      float64
	TileBudget    int
	MinMoveMeters float64
	TimeWindow    time.Duration
	TickInterval  time.Duration
	MaxTracked    int
	LocationTopic string
	ServerStats   bool
	Version       string

	// InboxSize bounds the messages waiting for the event loop.
	InboxSize int
	// TeardownTimeout bounds the unsubscribes made on shutdown.
	TeardownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Minute
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 1024
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = 5 * time.Second
	}
	if o.MaxTracked <= 0 {
		o.MaxTracked = 100
	}
	return o
}

// Coordinator funnels broker messages, ticks, location updates and
// connection changes into a single goroutine. Transport callbacks only
// enqueue.
type Coordinator struct {
	opts      Options
	transport transport.Transport
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	observer *location.Observer
	tracker  *location.Tracker
	manager  *subscription.Manager
	pipeline *pipeline.Pipeline
	board    *sensor.Board
	window   *sensor.StrikeWindow
	stats    *sensor.ServerStats
	notice   *sensor.UpdateNotice

	inbox chan domain.RawMessage
	conn  *location.Mailbox[bool]

	relocations sync.WaitGroup
	running     atomic.Bool

	mu     sync.Mutex
	extras []transport.Subscription
}

// New builds a Coordinator around tr. The observer point and radius are
// validated here.
func New(tr transport.Transport, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Coordinator, error) {
	opts = opts.withDefaults()

	mode := location.ModeStatic
	if opts.LocationTopic != "" {
		mode = location.ModeTracking
	}
	observer, err := location.NewObserver(opts.Observer, opts.RadiusKm, mode)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		opts:      opts,
		transport: tr,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		observer:  observer,
		inbox:     make(chan domain.RawMessage, opts.InboxSize),
		conn:      location.NewMailbox[bool](),
	}

	c.pipeline = pipeline.New(opts.Topics, observer, opts.TimeWindow, clock, logger, metrics)
	c.board = sensor.NewDefaultBoard(c.pipeline, clock)
	c.window = sensor.NewStrikeWindow(opts.TimeWindow, opts.MaxTracked, clock)
	c.stats = sensor.NewServerStats(clock)
	c.notice = sensor.NewUpdateNotice(opts.Version, clock, logger)

	c.pipeline.Register(c.board)
	c.pipeline.Register(c.window)
	c.pipeline.RegisterReceiver(c.notice.Receive)
	if opts.ServerStats {
		c.pipeline.RegisterReceiver(c.stats.Receive)
	}

	c.manager = subscription.NewManager(tr, c.enqueue, opts.Observer, subscription.Config{
		Topics:        opts.Topics,
		RadiusKm:      opts.RadiusKm,
		Budget:        opts.TileBudget,
		MinMoveMeters: opts.MinMoveMeters,
	}, logger, metrics)

	if mode == location.ModeTracking {
		c.tracker = location.NewTracker(tr, opts.LocationTopic, observer, logger, metrics)
	}
	return c, nil
}

// Register adds a strike listener to the pipeline. Call before Run.
func (c *Coordinator) Register(l pipeline.Listener) pipeline.Token {
	return c.pipeline.Register(l)
}

// NotifyConnection records a broker connection change. It never blocks and
// may be called from any goroutine.
func (c *Coordinator) NotifyConnection(connected bool) {
	c.conn.Put(connected)
}

// enqueue hands a broker message to the event loop, dropping it when the
// inbox is full.
func (c *Coordinator) enqueue(topic string, payload []byte) {
	select {
	case c.inbox <- domain.RawMessage{Topic: topic, Payload: payload, ReceivedAt: c.clock.Now()}:
	default:
		c.metrics.MessagesDropped.Inc()
	}
}

// Run connects, subscribes the coverage and processes events until ctx is
// cancelled, then releases every subscription and disconnects.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.start(ctx); err != nil {
		c.teardown()
		return err
	}

	ticker := c.clock.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	var updates <-chan domain.GeoPoint
	if c.tracker != nil {
		updates = c.tracker.Updates()
	}

	c.running.Store(true)
	c.logger.Info("tracker running",
		"observer", c.observer.Position().String(),
		"radius_km", c.opts.RadiusKm,
		"mode", c.observer.State().Mode,
	)

	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			c.teardown()
			return nil
		case m := <-c.inbox:
			c.pipeline.HandleMessage(m.Topic, m.Payload)
		case <-ticker.Chan():
			c.pipeline.Tick()
		case connected := <-c.conn.C():
			c.pipeline.NotifyConnection(connected)
		case p := <-updates:
			c.handleLocation(ctx, p)
		}
	}
}

func (c *Coordinator) start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	c.NotifyConnection(true)

	if err := c.manager.Connect(ctx); err != nil {
		return fmt.Errorf("subscribe coverage: %w", err)
	}

	c.subscribeExtra(ctx, sensor.HelloTopic)
	if c.opts.ServerStats {
		c.subscribeExtra(ctx, sensor.ServerStatsFilter)
	}

	if c.tracker != nil {
		if err := c.tracker.Start(ctx); err != nil {
			c.logger.Warn("location tracking unavailable, using configured position", "error", err)
			c.observer.SetDegraded(true)
		}
	}
	return nil
}

// subscribeExtra subscribes a non-strike filter. Failures are logged only.
func (c *Coordinator) subscribeExtra(ctx context.Context, filter string) {
	s, err := c.transport.Subscribe(ctx, filter, c.enqueue)
	if err != nil {
		c.logger.Warn("subscribe failed", "filter", filter, "error", err)
		return
	}
	c.mu.Lock()
	c.extras = append(c.extras, s)
	c.mu.Unlock()
}

// handleLocation moves the observer and starts a relocation in the
// background. The manager coalesces relocations that overlap.
func (c *Coordinator) handleLocation(ctx context.Context, p domain.GeoPoint) {
	// The observer point drives strike distances; the manager applies its own
	// threshold against the subscription centre, which lags while a
	// relocation is in flight or the broker is down.
	if domain.DistanceMeters(c.observer.Position(), p) < c.opts.MinMoveMeters {
		c.logger.Debug("location change below threshold", "position", p.String())
		return
	}
	if err := c.observer.SetPosition(p, c.clock.Now()); err != nil {
		c.logger.Warn("tracked location rejected", "position", p.String(), "error", err)
		return
	}

	c.relocations.Add(1)
	go func() {
		defer c.relocations.Done()
		moved, err := c.manager.Relocate(ctx, p)
		switch {
		case err != nil && ctx.Err() == nil:
			c.logger.Warn("relocation incomplete", "position", p.String(), "error", err)
		case moved:
			c.logger.Info("coverage relocated", "position", p.String(), "tiles", c.manager.Tiles())
		}
	}()
}

// teardown waits for in-flight relocations, then releases the location,
// extra and coverage subscriptions and closes the connection.
func (c *Coordinator) teardown() {
	c.running.Store(false)
	c.relocations.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TeardownTimeout)
	defer cancel()

	var errs []error
	if c.tracker != nil {
		errs = append(errs, c.tracker.Stop(ctx))
	}

	c.mu.Lock()
	extras := c.extras
	c.extras = nil
	c.mu.Unlock()
	for _, s := range extras {
		if err := c.transport.Unsubscribe(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", s.Filter(), err))
		}
	}

	errs = append(errs, c.manager.Disconnect(ctx))
	errs = append(errs, c.transport.Disconnect(ctx))
	c.pipeline.NotifyConnection(false)

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("teardown incomplete", "error", err)
	}
	c.logger.Info("tracker stopped")
}

// CheckReadiness reports ready once the broker is connected and the
// coverage is subscribed.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if !c.running.Load() {
		return errors.New("tracker is not running")
	}
	if !c.transport.Connected() {
		return errors.New("broker not connected")
	}
	if !c.manager.Subscribed() {
		return errors.New("coverage not subscribed")
	}
	return nil
}
