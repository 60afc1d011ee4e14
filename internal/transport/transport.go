// Package transport defines the publish/subscribe capability the tracker
// consumes. The MQTT adapter implements it against a broker and
// transporttest implements it in memory.
package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives a message delivered on a subscribed filter. Handlers run
// on the transport's goroutines and must not block.
type Handler func(topic string, payload []byte)

// Subscription is the handle of one held subscription.
type Subscription interface {
	Filter() string
}

// Subscriber subscribes and unsubscribes topic filters.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, h Handler) (Subscription, error)
	Unsubscribe(ctx context.Context, sub Subscription) error
}

// Publisher publishes a payload to a concrete topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
}

// Transport is a connection to a message broker.
type Transport interface {
	Subscriber
	Publisher
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
}

// Match reports whether topic matches an MQTT filter with "+" single-level
// and trailing "#" multi-level wildcards. "a/#" also matches "a".
func Match(filter, topic string) bool {
	if filter == "#" {
		return !strings.HasPrefix(topic, "$")
	}
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")

	for i, f := range fparts {
		if f == "#" {
			return i == len(fparts)-1
		}
		if i >= len(tparts) {
			return false
		}
		if f != "+" && f != tparts[i] {
			return false
		}
		if i == 0 && f == "+" && strings.HasPrefix(tparts[0], "$") {
			return false
		}
	}
	return len(fparts) == len(tparts)
}
