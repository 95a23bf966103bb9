// Command simulate publishes synthetic water-level updates to the feed so
// the monitor can be exercised without a physical gauge.
//
// Usage:
//
//	go run ./cmd/simulate -schedule "@every 2s" -count 60
//
// The backend and its connection settings come from the same environment
// variables the monitor reads (FEED_BACKEND, KAFKA_*, REDIS_*).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	kafkaadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/redis"
	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
	"github.com/robfig/cron/v3"
)

// publishFunc writes one feed payload.
type publishFunc func(ctx context.Context, payload []byte) error

func main() {
	if err := run(); err != nil {
		slog.Error("simulate failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	schedule := flag.String("schedule", "@every 2s", "cron schedule for updates")
	count := flag.Int("count", 0, "stop after this many updates (0 = run until interrupted)")
	start := flag.Float64("start", 20, "first non-idle level in cm")
	step := flag.Float64("step", 8, "largest change between updates in cm")
	ceiling := flag.Float64("ceiling", 120, "highest level in cm")
	idle := flag.Int("idle", 2, "leading zero readings")
	missing := flag.Float64("missing", 0.05, "fraction of updates without a level")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	if *missing < 0 || *missing > 1 {
		return errors.New("-missing must be between 0 and 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg).With("component", "simulate")

	publish, closeFn, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := newWalk(*seed, *start, *step, *ceiling, *missing, *idle)
	var sent atomic.Int64

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.AddFunc(*schedule, func() {
		if err := tick(ctx, w, publish, logger); err != nil {
			logger.Error("publish update failed", "error", err)
			return
		}
		if n := sent.Add(1); *count > 0 && n >= int64(*count) {
			stop()
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", *schedule, err)
	}

	logger.Info("simulator started", "backend", cfg.FeedBackend, "schedule", *schedule, "seed", *seed)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("simulator stopped", "sent", sent.Load())
	return nil
}

func tick(ctx context.Context, w *walk, publish publishFunc, logger *slog.Logger) error {
	level := w.next()
	payload := []byte(`{}`)
	if level != nil {
		data, err := domain.EncodeReading(*level)
		if err != nil {
			return err
		}
		payload = data
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := publish(pubCtx, payload); err != nil {
		return err
	}

	if level == nil {
		logger.Info("published update without level")
	} else {
		logger.Info("published reading", "level_cm", *level, "status", domain.Classify(*level))
	}
	return nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (publishFunc, func(), error) {
	switch cfg.FeedBackend {
	case config.BackendKafka:
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaFeedTopic, logger)
		publish := func(ctx context.Context, payload []byte) error {
			return writer.PublishRaw(ctx, "gauge", payload)
		}
		return publish, func() { _ = writer.Close() }, nil
	case config.BackendRedis:
		client, err := redisadapter.NewClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		feed := redisadapter.NewFeed(client, cfg.RedisFeedKey, logger)
		return feed.Publish, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported feed backend %q", cfg.FeedBackend)
	}
}
