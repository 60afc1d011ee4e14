// Package publish forwards accepted strikes to downstream sinks in batches.
package publish

import (
	"context"
	"log/slog"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
)

// BatchLoader writes multiple strikes to a destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.StrikeEvent) error
}

// Sink is a named destination. The name labels the publish metrics.
type Sink struct {
	Name   string
	Loader BatchLoader
}

// Config tunes batching and retries.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4 * c.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Publisher queues accepted strikes and loads them to every sink. It is a
// pipeline listener; OnStrike never blocks the caller.
type Publisher struct {
	queue    chan domain.StrikeEvent
	sinks    []Sink
	geocoder domain.ReverseGeocoder
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Publisher. geocoder may be nil to skip place enrichment.
func New(sinks []Sink, geocoder domain.ReverseGeocoder, cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{
		queue:    make(chan domain.StrikeEvent, cfg.QueueSize),
		sinks:    sinks,
		geocoder: geocoder,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// OnStrike enqueues the strike, dropping it when the queue is full.
func (p *Publisher) OnStrike(e domain.StrikeEvent) {
	select {
	case p.queue <- e:
	default:
		p.metrics.PublishDropped.Inc()
		p.logger.Warn("publish queue full, dropping strike", "strike_id", e.ID)
	}
}

func (p *Publisher) OnTick() {}

func (p *Publisher) OnConnectionChange(bool) {}

// Run drains the queue in batches until the context is cancelled. Strikes
// still queued at cancellation are discarded.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("publisher started", "batch_size", p.cfg.BatchSize, "sinks", len(p.sinks))
	for {
		batch, ok := p.collect(ctx)
		if len(batch) > 0 {
			p.processBatch(ctx, batch)
		}
		if !ok {
			p.logger.Info("publisher stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// collect blocks for the first strike, then gathers more until the batch is
// full or the flush interval elapses. Returns false once ctx is done.
func (p *Publisher) collect(ctx context.Context) ([]domain.StrikeEvent, bool) {
	var first domain.StrikeEvent
	select {
	case <-ctx.Done():
		return nil, false
	case first = <-p.queue:
	}

	batch := make([]domain.StrikeEvent, 1, p.cfg.BatchSize)
	batch[0] = first

	timer := p.clock.NewTimer(p.cfg.FlushInterval)
	defer timer.Stop()

	for len(batch) < p.cfg.BatchSize {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.Chan():
			return batch, true
		case e := <-p.queue:
			batch = append(batch, e)
		}
	}
	return batch, true
}

func (p *Publisher) processBatch(ctx context.Context, batch []domain.StrikeEvent) {
	start := p.clock.Now()
	p.metrics.BatchSize.Observe(float64(len(batch)))

	for i := range batch {
		batch[i] = domain.EnrichWithPlace(ctx, batch[i], p.geocoder, p.logger)
	}
	for _, s := range p.sinks {
		if !p.load(ctx, s, batch) {
			return
		}
	}
	p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
}

// load writes the batch to one sink, retrying with exponential backoff. A batch
// that still fails after MaxAttempts is dropped for that sink. Returns false if
// ctx was cancelled.
func (p *Publisher) load(ctx context.Context, s Sink, batch []domain.StrikeEvent) bool {
	backoff := p.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := s.Loader.LoadBatch(ctx, batch)
		if err == nil {
			p.metrics.StrikesPublished.WithLabelValues(s.Name).Add(float64(len(batch)))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.metrics.PublishErrors.WithLabelValues(s.Name).Inc()
		if attempt >= p.cfg.MaxAttempts {
			p.logger.Error("load batch failed, dropping", "sink", s.Name, "error", err, "batch_size", len(batch), "attempts", attempt)
			return true
		}
		p.logger.Warn("load batch failed, retrying", "sink", s.Name, "error", err, "backoff", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = sharedretry.NextBackoff(backoff, p.cfg.MaxBackoff)
	}
}
