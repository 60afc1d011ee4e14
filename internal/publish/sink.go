package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// TopicLoader republishes each strike as a JSON message on a fixed topic.
type TopicLoader struct {
	pub   transport.Publisher
	topic string
}

func NewTopicLoader(pub transport.Publisher, topic string) *TopicLoader {
	return &TopicLoader{pub: pub, topic: topic}
}

// LoadBatch publishes strikes in order and stops at the first failure.
func (l *TopicLoader) LoadBatch(ctx context.Context, events []domain.StrikeEvent) error {
	for i := range events {
		data, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("serialize strike %s: %w", events[i].ID, err)
		}
		if err := l.pub.Publish(ctx, l.topic, data, false); err != nil {
			return fmt.Errorf("publish strike %s to %s: %w", events[i].ID, l.topic, err)
		}
	}
	return nil
}
