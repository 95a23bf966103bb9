package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLevel is returned for levels that cannot be a gauge measurement.
var ErrInvalidLevel = errors.New("invalid water level")

// ParseReading decodes a feed delivery. It returns ok=false with a nil error
// when the payload has no "waterLevel" (absent or null): that is "no update",
// not a zero reading. Undecodable payloads and negative or non-finite levels
// return an error.
func ParseReading(raw RawMessage) (Reading, bool, error) {
	var payload FeedPayload
	if err := json.Unmarshal(raw.Value, &payload); err != nil {
		return Reading{}, false, fmt.Errorf("parse reading: %w", err)
	}
	if payload.WaterLevel == nil {
		return Reading{}, false, nil
	}

	level := *payload.WaterLevel
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
		return Reading{}, false, fmt.Errorf("parse reading: %w: %v", ErrInvalidLevel, level)
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = clock.Now()
	}
	return Reading{Level: level, Timestamp: ts.UTC()}, true, nil
}

// EncodeReading produces the feed payload for a level.
func EncodeReading(level float64) ([]byte, error) {
	data, err := json.Marshal(FeedPayload{WaterLevel: &level})
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return data, nil
}
