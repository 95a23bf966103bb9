package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces messages to a single Kafka topic. It publishes status
// changes for the monitor and raw readings for the simulator.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishStatusChange writes one tier transition, keyed by station.
func (w *Writer) PublishStatusChange(ctx context.Context, change domain.StatusChange) error {
	msg, err := serializeToMessage(change)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write status change: %w", err)
	}
	w.logger.Debug("status change published", "topic", w.writer.Topic, "to", change.To)
	return nil
}

// PublishReading writes a feed payload for level.
func (w *Writer) PublishReading(ctx context.Context, key string, level float64) error {
	data, err := domain.EncodeReading(level)
	if err != nil {
		return err
	}
	return w.PublishRaw(ctx, key, data)
}

// PublishRaw writes an arbitrary feed payload. The simulator uses it for
// updates that carry no level.
func (w *Writer) PublishRaw(ctx context.Context, key string, payload []byte) error {
	if err := w.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(key), Value: payload}); err != nil {
		return fmt.Errorf("write feed message: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage converts a status change into a Kafka message.
func serializeToMessage(change domain.StatusChange) (kafkago.Message, error) {
	out, err := domain.SerializeStatusChange(change)
	if err != nil {
		return kafkago.Message{}, err
	}
	headers := make([]kafkago.Header, 0, len(out.Headers))
	for _, key := range []string{"status", "changed_at"} {
		if v, ok := out.Headers[key]; ok {
			headers = append(headers, kafkago.Header{Key: key, Value: []byte(v)})
		}
	}
	return kafkago.Message{
		Key:     out.Key,
		Value:   out.Value,
		Headers: headers,
	}, nil
}
