package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/lightning-tracker/internal/config"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// Writer produces accepted strikes to a Kafka topic.
// It implements publish.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple strikes to the sink topic in a
// single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.StrikeEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d strikes: %w", len(msgs), err)
	}
	w.logger.Debug("strikes written to kafka", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a StrikeEvent into a Kafka message keyed by
// strike ID, so duplicates of one strike land on one partition.
func serializeToMessage(event domain.StrikeEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize strike: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Time:  event.StrikeTime(),
		Headers: []kafkago.Header{
			{Key: "source_topic", Value: []byte(event.Topic)},
			{Key: "distance_km", Value: []byte(strconv.FormatFloat(event.Polar.DistanceKm, 'f', 1, 64))},
			{Key: "received_at", Value: []byte(event.ReceivedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
