package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/mapbox"
	redisadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/redis"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/sqlite"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/ws"
	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/monitor"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
	goredis "github.com/redis/go-redis/v9"
)

type closer struct {
	name string
	c    io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		// Reverse order: consumers before the connections they use.
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].c.Close(); err != nil {
				logger.Error("close error", "component", closers[i].name, "error", err)
			}
		}
		logger.Info("shutdown complete")
	}()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		client, err := redisadapter.NewClient(cfg)
		if err != nil {
			return err
		}
		redisClient = client
		closers = append(closers, closer{"redis client", redisClient})
	}

	feed, err := newFeed(cfg, redisClient, logger, &closers)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	store, err := newHistoryStore(cfg, redisClient, logger, &closers)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	opts := monitor.Options{
		Policy:        domain.LogPolicy{SkipUnchanged: cfg.HistorySkipUnchanged},
		ClockInterval: cfg.ClockInterval,
		AppendTimeout: cfg.AppendTimeout,
		Station:       resolveStation(ctx, cfg, metrics, logger),
	}
	if cfg.KafkaStatusTopic != "" {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaStatusTopic, logger)
		closers = append(closers, closer{"kafka status writer", writer})
		opts.Publisher = writer
		logger.Info("status events enabled", "topic", cfg.KafkaStatusTopic)
	}

	hub := ws.NewHub(logger, metrics)
	opts.Broadcaster = hub
	go hub.Run(ctx)

	m := monitor.New(feed, store, logger, metrics, opts)
	srv := httpadapter.NewServer(cfg.HTTPAddr, m, hub, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start the monitor. It releases its subscriptions before returning.
	monitorErr := make(chan error, 1)
	go func() {
		err := m.Run(ctx)
		if err != nil {
			stop()
		}
		monitorErr <- err
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case err := <-monitorErr:
		return err
	case <-shutdownCtx.Done():
		return errors.New("monitor did not stop before shutdown timeout")
	}
}

func newFeed(cfg *config.Config, client *goredis.Client, logger *slog.Logger, closers *[]closer) (monitor.Feed, error) {
	switch cfg.FeedBackend {
	case config.BackendKafka:
		reader := kafkaadapter.NewReader(cfg, logger)
		*closers = append(*closers, closer{"kafka reader", reader})
		logger.Info("feed backend: kafka", "topic", cfg.KafkaFeedTopic, "group_id", cfg.KafkaGroupID)
		return reader, nil
	case config.BackendRedis:
		logger.Info("feed backend: redis", "key", cfg.RedisFeedKey)
		return redisadapter.NewFeed(client, cfg.RedisFeedKey, logger), nil
	default:
		return nil, fmt.Errorf("unsupported feed backend %q", cfg.FeedBackend)
	}
}

func newHistoryStore(cfg *config.Config, client *goredis.Client, logger *slog.Logger, closers *[]closer) (monitor.HistoryStore, error) {
	switch cfg.HistoryBackend {
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, closer{"sqlite store", store})
		return store, nil
	case config.BackendRedis:
		logger.Info("history backend: redis", "stream", cfg.RedisHistoryStream)
		return redisadapter.NewHistoryStream(client, cfg.RedisHistoryStream, logger), nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
	}
}

// resolveStation geocodes the configured station when Mapbox is enabled
// (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
func resolveStation(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.Station {
	station := domain.Station{
		Name:   cfg.StationName,
		Region: cfg.StationRegion,
		Lat:    cfg.StationLat,
		Lon:    cfg.StationLon,
	}
	if !cfg.MapboxEnabled {
		logger.Info("mapbox geocoding disabled")
		return station
	}

	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	geoCtx, cancel := context.WithTimeout(ctx, cfg.MapboxTimeout)
	defer cancel()

	station = domain.ResolveStation(geoCtx, station, client, logger)
	logger.Info("station resolved",
		"station", station.Label(),
		"lat", station.Lat,
		"lon", station.Lon,
		"geo_source", station.GeoSource,
	)
	return station
}
