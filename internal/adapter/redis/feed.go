package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Feed is the current-value node. The latest payload lives under key and
// every write is announced on the channel of the same name.
type Feed struct {
	client *goredis.Client
	key    string
	logger *slog.Logger
}

// NewFeed creates a feed bound to key.
func NewFeed(client *goredis.Client, key string, logger *slog.Logger) *Feed {
	return &Feed{client: client, key: key, logger: logger}
}

// Subscribe delivers the stored value (if any) and then every published
// update until the subscription is released.
func (f *Feed) Subscribe(ctx context.Context, handle domain.MessageHandler) (domain.Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.key)
	// Wait for the subscription confirmation so no publish is missed between
	// the GET below and the first channel read.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.key, err)
	}

	current, err := f.client.Get(ctx, f.key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		current = nil
	case err != nil:
		_ = pubsub.Close()
		return nil, fmt.Errorf("get %s: %w", f.key, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ch := pubsub.Channel()

	go func() {
		defer close(done)
		if current != nil {
			handle(f.rawMessage(current))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handle(f.rawMessage([]byte(msg.Payload)))
			}
		}
	}()

	return domain.UnsubscribeFunc(func() error {
		cancel()
		err := pubsub.Close()
		<-done
		return err
	}), nil
}

// Publish stores payload as the current value and announces it.
func (f *Feed) Publish(ctx context.Context, payload []byte) error {
	_, err := f.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, f.key, payload, 0)
		p.Publish(ctx, f.key, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", f.key, err)
	}
	return nil
}

// PublishReading publishes the feed payload for level.
func (f *Feed) PublishReading(ctx context.Context, level float64) error {
	data, err := domain.EncodeReading(level)
	if err != nil {
		return err
	}
	return f.Publish(ctx, data)
}

func (f *Feed) rawMessage(payload []byte) domain.RawMessage {
	return domain.RawMessage{
		Key:    []byte(f.key),
		Value:  payload,
		Source: "redis",
		Topic:  f.key,
	}
}
