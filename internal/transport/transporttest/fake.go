// Package transporttest provides an in-memory transport.Transport for tests.
package transporttest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// Message is a payload published through the fake.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Call is one Subscribe or Unsubscribe invocation.
type Call struct {
	Op     string // "subscribe" or "unsubscribe"
	Filter string
}

type subscription struct {
	id      int
	filter  string
	handler transport.Handler
}

func (s *subscription) Filter() string { return s.filter }

// Fake records every call and routes published or injected messages to
// matching subscriptions. The zero value is not usable; call New.
type Fake struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	active    map[int]*subscription

	calls     []Call
	published []Message

	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// SubscribeErr, when set, is consulted for every Subscribe call.
	SubscribeErr func(filter string) error
	// UnsubscribeErr, when set, is consulted for every Unsubscribe call.
	UnsubscribeErr func(filter string) error
	// PublishErr is returned by Publish when set.
	PublishErr error
	// BeforeSubscribe runs at the start of every Subscribe, outside the lock.
	// Tests use it to block or interleave calls.
	BeforeSubscribe func(filter string)
}

// New returns a disconnected fake.
func New() *Fake {
	return &Fake{active: make(map[int]*subscription)}
}

// Connect marks the fake connected unless ConnectErr is set.
func (f *Fake) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

// Disconnect marks the fake disconnected. Subscriptions are kept so tests can
// inspect leaks.
func (f *Fake) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// Connected reports the connection flag.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected flips the connection flag without going through Connect.
func (f *Fake) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// Subscribe records the call and registers h for filter.
func (f *Fake) Subscribe(_ context.Context, filter string, h transport.Handler) (transport.Subscription, error) {
	if f.BeforeSubscribe != nil {
		f.BeforeSubscribe(filter)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "subscribe", Filter: filter})
	if f.SubscribeErr != nil {
		if err := f.SubscribeErr(filter); err != nil {
			return nil, err
		}
	}
	f.nextID++
	sub := &subscription{id: f.nextID, filter: filter, handler: h}
	f.active[sub.id] = sub
	return sub, nil
}

// Unsubscribe records the call and removes sub.
func (f *Fake) Unsubscribe(_ context.Context, sub transport.Subscription) error {
	s, ok := sub.(*subscription)
	if !ok {
		return fmt.Errorf("unsubscribe: foreign subscription %T", sub)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "unsubscribe", Filter: s.filter})
	if f.UnsubscribeErr != nil {
		if err := f.UnsubscribeErr(s.filter); err != nil {
			return err
		}
	}
	delete(f.active, s.id)
	return nil
}

// Publish records the message and delivers it to matching subscriptions.
func (f *Fake) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	if f.PublishErr != nil {
		err := f.PublishErr
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, Message{Topic: topic, Payload: slices.Clone(payload), Retained: retained})
	f.mu.Unlock()

	f.Deliver(topic, payload)
	return nil
}

// Deliver invokes every handler whose filter matches topic, as a broker would.
func (f *Fake) Deliver(topic string, payload []byte) {
	f.mu.Lock()
	var handlers []transport.Handler
	for _, id := range f.sortedIDs() {
		s := f.active[id]
		if transport.Match(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
}

func (f *Fake) sortedIDs() []int {
	ids := make([]int, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Calls returns every Subscribe and Unsubscribe invocation, in call order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Subscribes returns every filter passed to Subscribe, in call order.
func (f *Fake) Subscribes() []string {
	return f.filters("subscribe")
}

// Unsubscribes returns every filter passed to Unsubscribe, in call order.
func (f *Fake) Unsubscribes() []string {
	return f.filters("unsubscribe")
}

func (f *Fake) filters(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c.Filter)
		}
	}
	return out
}

// Active returns the filters currently subscribed, sorted.
func (f *Fake) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.active))
	for _, s := range f.active {
		out = append(out, s.filter)
	}
	slices.Sort(out)
	return out
}

// Published returns every message passed to Publish.
func (f *Fake) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// Reset clears the recorded calls but keeps active subscriptions.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.published = nil
}

var _ transport.Transport = (*Fake)(nil)
