package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldKey        = "record_key"
	fieldWaterLevel = "waterLevel"
	fieldTimestamp  = "timestamp"
)

// HistoryStream keeps the reading history in a Redis stream. Any process can
// append; every subscriber sees the full history after each new entry.
type HistoryStream struct {
	client *goredis.Client
	stream string
	block  time.Duration
	logger *slog.Logger
}

// NewHistoryStream creates a store over stream.
func NewHistoryStream(client *goredis.Client, stream string, logger *slog.Logger) *HistoryStream {
	return &HistoryStream{client: client, stream: stream, block: time.Second, logger: logger}
}

// Append adds rec to the stream under a fresh key.
func (h *HistoryStream) Append(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	rec.Key = uuid.NewString()
	err := h.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: h.stream,
		Values: encodeEntry(rec),
	}).Err()
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("xadd %s: %w", h.stream, err)
	}
	return rec, nil
}

// List returns every decodable entry in stream order.
func (h *HistoryStream) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	records, _, err := h.list(ctx)
	return records, err
}

func (h *HistoryStream) list(ctx context.Context) ([]domain.HistoryRecord, string, error) {
	msgs, err := h.client.XRange(ctx, h.stream, "-", "+").Result()
	if err != nil {
		return nil, "", fmt.Errorf("xrange %s: %w", h.stream, err)
	}
	lastID := "0-0"
	records := make([]domain.HistoryRecord, 0, len(msgs))
	for _, msg := range msgs {
		lastID = msg.ID
		if rec, ok := h.decode(msg); ok {
			records = append(records, rec)
		}
	}
	return records, lastID, nil
}

// Subscribe delivers the current history and then the full history again
// after each batch of new entries.
func (h *HistoryStream) Subscribe(ctx context.Context, handle domain.HistoryHandler) (domain.Subscription, error) {
	records, lastID, err := h.list(ctx)
	if err != nil {
		return nil, err
	}
	handle(records)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.follow(ctx, records, lastID, handle)
	}()

	return domain.UnsubscribeFunc(func() error {
		cancel()
		wg.Wait()
		return nil
	}), nil
}

func (h *HistoryStream) follow(ctx context.Context, records []domain.HistoryRecord, lastID string, handle domain.HistoryHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		streams, err := h.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{h.stream, lastID},
			Count:   100,
			Block:   h.block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("read history stream failed", "stream", h.stream, "error", err)
			if !sleepWithContext(ctx, time.Second) {
				return
			}
			continue
		}

		changed := false
		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				if rec, ok := h.decode(msg); ok {
					records = append(records, rec)
					changed = true
				}
			}
		}
		if changed {
			handle(append([]domain.HistoryRecord(nil), records...))
		}
	}
}

func (h *HistoryStream) decode(msg goredis.XMessage) (domain.HistoryRecord, bool) {
	rec, err := decodeEntry(msg)
	if err != nil {
		h.logger.Warn("skipping undecodable history entry", "stream", h.stream, "id", msg.ID, "error", err)
		return domain.HistoryRecord{}, false
	}
	return rec, true
}

func encodeEntry(rec domain.HistoryRecord) map[string]any {
	values := map[string]any{
		fieldKey:       rec.Key,
		fieldTimestamp: strconv.FormatInt(rec.Timestamp, 10),
	}
	if rec.WaterLevel != nil {
		values[fieldWaterLevel] = strconv.FormatFloat(*rec.WaterLevel, 'f', -1, 64)
	}
	return values
}

// decodeEntry reads an entry written by encodeEntry. Entries from other
// writers may omit the key (the stream ID is used) or the level.
func decodeEntry(msg goredis.XMessage) (domain.HistoryRecord, error) {
	rec := domain.HistoryRecord{Key: msg.ID}
	if v, ok := msg.Values[fieldKey].(string); ok && v != "" {
		rec.Key = v
	}

	ts, ok := msg.Values[fieldTimestamp].(string)
	if !ok {
		return domain.HistoryRecord{}, errors.New("missing timestamp")
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	rec.Timestamp = millis

	if v, ok := msg.Values[fieldWaterLevel].(string); ok {
		level, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("parse water level: %w", err)
		}
		rec.WaterLevel = &level
	}
	return rec, nil
}
