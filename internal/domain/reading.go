package domain

import (
	"context"
	"time"
)

// FeedPayload is the JSON shape of the current-value node on the feed.
// WaterLevel is a pointer so a missing field stays distinguishable from zero.
type FeedPayload struct {
	WaterLevel *float64 `json:"waterLevel"`
}

// RawMessage is an undecoded delivery from the feed.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Source    string // "kafka" or "redis"
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Reading is one accepted water-level measurement.
type Reading struct {
	Level     float64   `json:"level_cm"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryRecord is a persisted reading. WaterLevel is nil for records written
// by clients that omitted the level.
type HistoryRecord struct {
	Key        string   `json:"key,omitempty"`
	WaterLevel *float64 `json:"waterLevel,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// NewHistoryRecord builds the record the history logger writes for a reading,
// stamped with the write time in milliseconds.
func NewHistoryRecord(r Reading, now time.Time) HistoryRecord {
	level := r.Level
	return HistoryRecord{
		WaterLevel: &level,
		Timestamp:  now.UnixMilli(),
	}
}

// Time returns the record timestamp as a UTC time.
func (r HistoryRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Subscription is an active feed or history subscription.
type Subscription interface {
	Unsubscribe() error
}

// UnsubscribeFunc adapts a plain function to Subscription.
type UnsubscribeFunc func() error

func (f UnsubscribeFunc) Unsubscribe() error { return f() }

// MessageHandler receives raw feed deliveries.
type MessageHandler func(RawMessage)

// HistoryHandler receives the complete current history on every change.
type HistoryHandler func([]HistoryRecord)
