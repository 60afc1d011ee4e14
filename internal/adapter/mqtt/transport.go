// Package mqtt implements transport.Transport on top of the Eclipse Paho client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// subackFailure is the SUBACK return code for a rejected filter.
const subackFailure = 0x80

// Config describes the broker connection.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	QoS            byte
}

type subscription struct {
	filter  string
	handler transport.Handler
}

func (s *subscription) Filter() string { return s.filter }

// Transport is a paho-backed broker session. Subscriptions are remembered and
// replayed after every reconnect, since sessions are clean.
type Transport struct {
	client  paho.Client
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	subs     map[string]*subscription
	onChange func(connected bool)
}

// New creates a disconnected Transport.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Transport {
	t := newTransport(cfg, logger, metrics)
	t.client = paho.NewClient(t.clientOptions())
	return t
}

func newTransport(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*subscription),
	}
}

func (t *Transport) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(t.handleConnect).
		SetConnectionLostHandler(t.handleConnectionLost)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	return opts
}

// OnConnectionChange registers fn to be called from a paho goroutine whenever
// the session comes up or drops. Call before Connect.
func (t *Transport) OnConnectionChange(fn func(connected bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Connect opens the session, waiting at most the configured timeout.
func (t *Transport) Connect(ctx context.Context) error {
	t.logger.Info("connecting to broker", "broker", t.cfg.BrokerURL, "client_id", t.cfg.ClientID)
	return t.wait(ctx, t.client.Connect(), "connect "+t.cfg.BrokerURL)
}

// Disconnect closes the session. Remembered subscriptions are dropped.
func (t *Transport) Disconnect(_ context.Context) error {
	t.client.Disconnect(250)

	t.mu.Lock()
	t.subs = make(map[string]*subscription)
	fn := t.onChange
	t.mu.Unlock()

	t.metrics.MQTTConnected.Set(0)
	if fn != nil {
		fn(false)
	}
	return nil
}

func (t *Transport) Connected() bool {
	return t.client.IsConnectionOpen()
}

// Subscribe registers h for filter. A second Subscribe on the same filter
// replaces the handler.
func (t *Transport) Subscribe(ctx context.Context, filter string, h transport.Handler) (transport.Subscription, error) {
	if !t.client.IsConnectionOpen() {
		return nil, fmt.Errorf("subscribe %s: %w", filter, transport.ErrNotConnected)
	}
	s := &subscription{filter: filter, handler: h}
	if err := t.subscribe(ctx, s); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.subs[filter] = s
	t.mu.Unlock()
	return s, nil
}

func (t *Transport) subscribe(ctx context.Context, s *subscription) error {
	tok := t.client.Subscribe(s.filter, t.cfg.QoS, func(_ paho.Client, m paho.Message) {
		s.handler(m.Topic(), m.Payload())
	})
	if err := t.wait(ctx, tok, "subscribe "+s.filter); err != nil {
		return err
	}
	if st, ok := tok.(*paho.SubscribeToken); ok {
		if code, found := st.Result()[s.filter]; found && code >= subackFailure {
			return fmt.Errorf("subscribe %s: rejected by broker", s.filter)
		}
	}
	return nil
}

// Unsubscribe removes the subscription. Unknown subscriptions are a no-op.
func (t *Transport) Unsubscribe(ctx context.Context, sub transport.Subscription) error {
	t.mu.Lock()
	held, ok := t.subs[sub.Filter()]
	t.mu.Unlock()
	if !ok || held != sub {
		return nil
	}
	if !t.client.IsConnectionOpen() {
		return fmt.Errorf("unsubscribe %s: %w", sub.Filter(), transport.ErrNotConnected)
	}
	if err := t.wait(ctx, t.client.Unsubscribe(sub.Filter()), "unsubscribe "+sub.Filter()); err != nil {
		return err
	}

	t.mu.Lock()
	if t.subs[sub.Filter()] == held {
		delete(t.subs, sub.Filter())
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if !t.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: %w", topic, transport.ErrNotConnected)
	}
	return t.wait(ctx, t.client.Publish(topic, t.cfg.QoS, retained, payload), "publish "+topic)
}

// Filters returns the remembered subscription filters, sorted.
func (t *Transport) Filters() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for f := range t.subs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (t *Transport) handleConnect(_ paho.Client) {
	t.metrics.MQTTConnected.Set(1)
	t.logger.Info("broker connected", "broker", t.cfg.BrokerURL)

	t.mu.Lock()
	held := make([]*subscription, 0, len(t.subs))
	for _, s := range t.subs {
		held = append(held, s)
	}
	fn := t.onChange
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()
	for _, s := range held {
		if err := t.subscribe(ctx, s); err != nil {
			t.logger.Warn("resubscribe failed", "filter", s.filter, "error", err)
			continue
		}
		t.logger.Debug("resubscribed", "filter", s.filter)
	}

	if fn != nil {
		fn(true)
	}
}

func (t *Transport) handleConnectionLost(_ paho.Client, err error) {
	t.metrics.MQTTConnected.Set(0)
	t.logger.Warn("broker connection lost", "broker", t.cfg.BrokerURL, "error", err)

	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(false)
	}
}

// wait blocks until tok completes, ctx is done, or the connect timeout elapses.
func (t *Transport) wait(ctx context.Context, tok paho.Token, op string) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			if errors.Is(err, paho.ErrNotConnected) {
				return fmt.Errorf("%s: %w", op, transport.ErrNotConnected)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %s", op, t.cfg.ConnectTimeout)
	}
}

var _ transport.Transport = (*Transport)(nil)
