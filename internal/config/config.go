package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Feed and history backends.
const (
	BackendKafka  = "kafka"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedBackend    string
	HistoryBackend string

	KafkaBrokers     []string
	KafkaFeedTopic   string
	KafkaStatusTopic string // empty disables status events
	KafkaGroupID     string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisFeedKey       string
	RedisHistoryStream string

	SQLitePath string

	HistorySkipUnchanged bool
	ClockInterval        time.Duration
	AppendTimeout        time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Gauge station shown on the dashboard.
	StationName   string
	StationRegion string
	StationLat    float64
	StationLon    float64

	// Mapbox geocoding configuration.
	MapboxToken   string
	MapboxEnabled bool
	MapboxTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	clockInterval, err := parsePositiveDuration("CLOCK_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	appendTimeout, err := parsePositiveDuration("APPEND_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}

	skipUnchanged, err := parseBool("HISTORY_SKIP_UNCHANGED", false)
	if err != nil {
		return nil, err
	}

	stationLat, err := parseCoordinate("STATION_LAT", 90)
	if err != nil {
		return nil, err
	}
	stationLon, err := parseCoordinate("STATION_LON", 180)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		FeedBackend:    sharedcfg.EnvOrDefault("FEED_BACKEND", BackendKafka),
		HistoryBackend: sharedcfg.EnvOrDefault("HISTORY_BACKEND", BackendSQLite),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaFeedTopic:   sharedcfg.EnvOrDefault("KAFKA_FEED_TOPIC", "flood-data"),
		KafkaStatusTopic: envOrDefaultAllowEmpty("KAFKA_STATUS_TOPIC", "flood-status"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "flood-monitor"),

		RedisAddr:          sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            redisDB,
		RedisFeedKey:       sharedcfg.EnvOrDefault("REDIS_FEED_KEY", "floodData"),
		RedisHistoryStream: sharedcfg.EnvOrDefault("REDIS_HISTORY_STREAM", "floodHistory"),

		SQLitePath: sharedcfg.EnvOrDefault("SQLITE_PATH", "data/flood_history.db"),

		HistorySkipUnchanged: skipUnchanged,
		ClockInterval:        clockInterval,
		AppendTimeout:        appendTimeout,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StationName:   sharedcfg.EnvOrDefault("STATION_NAME", "Solapur"),
		StationRegion: sharedcfg.EnvOrDefault("STATION_REGION", "Maharashtra"),
		StationLat:    stationLat,
		StationLon:    stationLon,

		MapboxToken:   mapboxToken,
		MapboxEnabled: mapboxEnabled,
		MapboxTimeout: mapboxTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.FeedBackend {
	case BackendKafka, BackendRedis:
	default:
		return fmt.Errorf("FEED_BACKEND must be %q or %q, got %q", BackendKafka, BackendRedis, c.FeedBackend)
	}
	switch c.HistoryBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", BackendSQLite, BackendRedis, c.HistoryBackend)
	}

	if c.UsesKafka() && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.FeedBackend == BackendKafka && c.KafkaFeedTopic == "" {
		return errors.New("KAFKA_FEED_TOPIC is required")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// UsesKafka reports whether any component needs a Kafka connection.
func (c *Config) UsesKafka() bool {
	return c.FeedBackend == BackendKafka || c.KafkaStatusTopic != ""
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.FeedBackend == BackendRedis || c.HistoryBackend == BackendRedis
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseCoordinate(key string, limit float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < -limit || f > limit {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

// envOrDefaultAllowEmpty lets an explicitly empty variable override the default.
func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
