package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes water-level updates from the feed topic.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger

	mu     sync.Mutex
	active bool
}

// NewReader creates a consumer-group reader for the configured feed topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaFeedTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Reader{reader: r, logger: logger}
}

// Subscribe starts delivering messages to handle on a background goroutine.
// Offsets are committed through RawMessage.Commit once the handler's owner has
// applied the update. Only one subscription may be active at a time.
func (r *Reader) Subscribe(ctx context.Context, handle domain.MessageHandler) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, errors.New("kafka reader already subscribed")
	}
	r.active = true

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.consume(ctx, handle)
	}()

	return domain.UnsubscribeFunc(func() error {
		cancel()
		<-done
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		return nil
	}), nil
}

func (r *Reader) consume(ctx context.Context, handle domain.MessageHandler) {
	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("fetch feed message failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		raw := mapMessageToRawMessage(msg)
		raw.Commit = func(ctx context.Context) error {
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
			}
			return nil
		}
		handle(raw)
	}
}

// Close releases the underlying consumer. Call after every subscription has
// been released.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawMessage(msg kafkago.Message) domain.RawMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawMessage{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Source:    "kafka",
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
