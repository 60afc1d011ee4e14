// Package subscription keeps the broker subscriptions of an observer in step
// with the tile coverage around its current location.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/couchcryptid/lightning-tracker/internal/coverage"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// DefaultMinMoveMeters is the movement below which a location change is
// treated as GPS jitter.
const DefaultMinMoveMeters = 50.0

// ErrDisconnected is returned by Connect when Disconnect ran while the
// initial subscriptions were still being made.
var ErrDisconnected = errors.New("disconnected during connect")

// State is the lifecycle state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config holds the coverage parameters of a Manager.
type Config struct {
	Topics        domain.Topics
	RadiusKm      float64
	Budget        int
	MinMoveMeters float64
}

// Manager owns the tile subscriptions of one observer.
//
// Location changes are serialized: while one relocation is in flight, later
// ones are parked in a single pending slot (latest wins) and applied by the
// in-flight call before it returns. A subscription that completes after
// Disconnect is released immediately.
type Manager struct {
	sub     transport.Subscriber
	handler transport.Handler
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	state    State
	center   domain.GeoPoint
	coverage coverage.Coverage
	held     map[string]transport.Subscription
	session  uint64
	inFlight bool
	pending  *domain.GeoPoint
}

// NewManager creates a disconnected Manager centred on center. Every
// subscription it makes delivers to handler.
func NewManager(sub transport.Subscriber, handler transport.Handler, center domain.GeoPoint, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if cfg.Budget < 1 {
		cfg.Budget = coverage.DefaultBudget
	}
	return &Manager{
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		center:  center,
		held:    make(map[string]transport.Subscription),
	}
}

// Connect subscribes every tile covering the current centre. Any failure
// releases the subscriptions already made and is returned. Connect on a
// connected manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	center := m.center
	cov, err := coverage.Solve(center, m.cfg.RadiusKm, m.cfg.Budget)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	m.state = Connecting
	m.inFlight = true
	session := m.session
	m.mu.Unlock()

	made := make(map[string]transport.Subscription, cov.Len())
	for _, tile := range cov.Tiles {
		if !m.current(session) {
			m.release(ctx, made)
			return ErrDisconnected
		}
		s, err := m.subscribe(ctx, tile)
		if err != nil {
			m.release(ctx, made)
			m.mu.Lock()
			if m.session == session {
				m.state = Disconnected
				m.inFlight = false
				m.adoptPending()
			}
			m.mu.Unlock()
			return fmt.Errorf("connect: subscribe tile %q: %w", tile, err)
		}
		made[tile] = s
	}

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		m.release(ctx, made)
		return ErrDisconnected
	}
	m.state = Connected
	m.held = made
	m.coverage = cov
	m.mu.Unlock()

	m.metrics.ActiveTiles.Set(float64(len(made)))
	m.metrics.CoveragePrecision.Set(float64(cov.Precision))
	m.logger.Info("subscribed to coverage",
		"center", center.String(),
		"precision", cov.Precision,
		"tiles", cov.Tiles,
	)

	_, err = m.drain(ctx, session, nil)
	return err
}

// Disconnect releases every held subscription and returns to Disconnected.
// It is idempotent. Release failures are returned but the held set is
// emptied regardless.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return nil
	}
	held := m.held
	m.held = make(map[string]transport.Subscription)
	m.state = Disconnected
	m.session++
	m.inFlight = false
	m.adoptPending()
	m.coverage = coverage.Coverage{}
	m.mu.Unlock()

	err := m.release(ctx, held)
	m.metrics.ActiveTiles.Set(0)
	m.logger.Info("unsubscribed from coverage", "tiles", len(held))
	return err
}

// Relocate moves the observer to p. Movement below the jitter threshold is
// ignored. Otherwise the coverage is recomputed and only the difference
// against the held subscriptions is applied, unsubscribes first. Transport
// failures leave the affected tiles as they were, are logged, and are
// returned; the next qualifying move retries them.
//
// While disconnected, Relocate only records the centre for the next Connect.
// moved reports whether a new coverage was applied by this call.
func (m *Manager) Relocate(ctx context.Context, p domain.GeoPoint) (moved bool, err error) {
	if err := p.Validate(); err != nil {
		return false, fmt.Errorf("relocate: %w", err)
	}

	m.mu.Lock()
	switch {
	case m.state == Disconnected:
		m.center = p
		m.mu.Unlock()
		m.metrics.Relocations.WithLabelValues("recorded").Inc()
		return false, nil
	case m.inFlight:
		m.pending = &p
		m.mu.Unlock()
		m.metrics.Relocations.WithLabelValues("coalesced").Inc()
		return false, nil
	case !m.significant(p):
		m.mu.Unlock()
		m.metrics.Relocations.WithLabelValues("ignored").Inc()
		return false, nil
	}
	m.inFlight = true
	session := m.session
	m.mu.Unlock()

	return m.drain(ctx, session, &p)
}

// drain applies p, then every pending location, until none is left or the
// session ends. The caller must have set inFlight for session.
func (m *Manager) drain(ctx context.Context, session uint64, p *domain.GeoPoint) (bool, error) {
	var (
		moved bool
		errs  []error
	)
	for {
		if p != nil {
			moved = true
			if err := m.apply(ctx, session, *p); err != nil {
				errs = append(errs, err)
				m.metrics.Relocations.WithLabelValues("failed").Inc()
			} else {
				m.metrics.Relocations.WithLabelValues("applied").Inc()
			}
		}

		m.mu.Lock()
		if m.session != session {
			m.mu.Unlock()
			return moved, errors.Join(errs...)
		}
		next := m.pending
		m.pending = nil
		if next == nil {
			m.inFlight = false
			m.mu.Unlock()
			return moved, errors.Join(errs...)
		}
		if !m.significant(*next) {
			m.mu.Unlock()
			m.metrics.Relocations.WithLabelValues("ignored").Inc()
			p = nil
			continue
		}
		m.mu.Unlock()
		p = next
	}
}

// apply recomputes the coverage for p and reconciles the held set with it.
func (m *Manager) apply(ctx context.Context, session uint64, p domain.GeoPoint) error {
	next, err := coverage.Solve(p, m.cfg.RadiusKm, m.cfg.Budget)
	if err != nil {
		return fmt.Errorf("relocate: %w", err)
	}

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return nil
	}
	m.center = p
	m.coverage = next
	var remove, add []string
	for tile := range m.held {
		if !next.Contains(tile) {
			remove = append(remove, tile)
		}
	}
	for _, tile := range next.Tiles {
		if _, ok := m.held[tile]; !ok {
			add = append(add, tile)
		}
	}
	m.mu.Unlock()
	slices.Sort(remove)

	var errs []error
	for _, tile := range remove {
		m.mu.Lock()
		if m.session != session {
			m.mu.Unlock()
			break
		}
		s := m.held[tile]
		delete(m.held, tile)
		m.mu.Unlock()

		if err := m.unsubscribe(ctx, tile, s); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe tile %q: %w", tile, err))
			m.mu.Lock()
			if m.session == session {
				m.held[tile] = s
			}
			m.mu.Unlock()
		}
	}

	for _, tile := range add {
		if !m.current(session) {
			break
		}

		s, err := m.subscribe(ctx, tile)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscribe tile %q: %w", tile, err))
			continue
		}

		m.mu.Lock()
		if m.session != session {
			m.mu.Unlock()
			if err := m.unsubscribe(ctx, tile, s); err != nil {
				m.logger.Warn("release after disconnect failed", "tile", tile, "error", err)
			}
			break
		}
		m.held[tile] = s
		m.mu.Unlock()
	}

	m.mu.Lock()
	heldCount := len(m.held)
	m.mu.Unlock()
	m.metrics.ActiveTiles.Set(float64(heldCount))
	m.metrics.CoveragePrecision.Set(float64(next.Precision))

	err = errors.Join(errs...)
	if err != nil {
		m.logger.Warn("coverage update incomplete, retrying on next move",
			"center", p.String(),
			"error", err,
		)
		return err
	}
	m.logger.Info("coverage updated",
		"center", p.String(),
		"precision", next.Precision,
		"removed", remove,
		"added", add,
	)
	return nil
}

// current reports whether session is still the active one.
func (m *Manager) current(session uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == session
}

// adoptPending turns a parked location into the recorded centre. m.mu must
// be held.
func (m *Manager) adoptPending() {
	if m.pending != nil {
		m.center = *m.pending
		m.pending = nil
	}
}

// significant reports whether p is far enough from the centre to act on.
// m.mu must be held.
func (m *Manager) significant(p domain.GeoPoint) bool {
	return domain.DistanceMeters(m.center, p) >= m.cfg.MinMoveMeters
}

func (m *Manager) subscribe(ctx context.Context, tile string) (transport.Subscription, error) {
	filter := m.cfg.Topics.Filter(tile)
	s, err := m.sub.Subscribe(ctx, filter, m.handler)
	if err != nil {
		m.metrics.SubscriptionOps.WithLabelValues("subscribe", "error").Inc()
		m.logger.Warn("subscribe failed", "topic", filter, "error", err)
		return nil, err
	}
	m.metrics.SubscriptionOps.WithLabelValues("subscribe", "success").Inc()
	m.logger.Debug("subscribed", "topic", filter)
	return s, nil
}

func (m *Manager) unsubscribe(ctx context.Context, tile string, s transport.Subscription) error {
	if err := m.sub.Unsubscribe(ctx, s); err != nil {
		m.metrics.SubscriptionOps.WithLabelValues("unsubscribe", "error").Inc()
		m.logger.Warn("unsubscribe failed", "topic", s.Filter(), "tile", tile, "error", err)
		return err
	}
	m.metrics.SubscriptionOps.WithLabelValues("unsubscribe", "success").Inc()
	m.logger.Debug("unsubscribed", "topic", s.Filter())
	return nil
}

// release unsubscribes every subscription in held.
func (m *Manager) release(ctx context.Context, held map[string]transport.Subscription) error {
	tiles := make([]string, 0, len(held))
	for tile := range held {
		tiles = append(tiles, tile)
	}
	slices.Sort(tiles)

	var errs []error
	for _, tile := range tiles {
		if err := m.unsubscribe(ctx, tile, held[tile]); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe tile %q: %w", tile, err))
		}
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Center returns the last recorded observer location.
func (m *Manager) Center() domain.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

// Coverage returns the last computed coverage. It is empty while disconnected.
func (m *Manager) Coverage() coverage.Coverage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return coverage.Coverage{Precision: m.coverage.Precision, Tiles: slices.Clone(m.coverage.Tiles)}
}

// Tiles returns the tiles currently subscribed, sorted.
func (m *Manager) Tiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tiles := make([]string, 0, len(m.held))
	for tile := range m.held {
		tiles = append(tiles, tile)
	}
	slices.Sort(tiles)
	return tiles
}

// Subscribed reports whether the manager is connected and holds the full
// coverage.
func (m *Manager) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || len(m.held) != m.coverage.Len() {
		return false
	}
	for _, tile := range m.coverage.Tiles {
		if _, ok := m.held[tile]; !ok {
			return false
		}
	}
	return true
}
