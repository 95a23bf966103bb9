package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a flood-risk tier.
type Status string

const (
	StatusSafe    Status = "SAFE"
	StatusWarning Status = "WARNING"
	StatusDanger  Status = "DANGER"
)

// Tier thresholds in centimeters. Each boundary belongs to the higher tier.
const (
	WarningThreshold = 40.0
	DangerThreshold  = 70.0
)

// Thresholds are the reference lines drawn on the trend chart.
type Thresholds struct {
	Warning float64 `json:"warning"`
	Danger  float64 `json:"danger"`
}

// DefaultThresholds returns the warning and danger levels used by Classify.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: WarningThreshold, Danger: DangerThreshold}
}

// Classify maps a level to its tier: <40 SAFE, <70 WARNING, else DANGER.
// NaN fails both comparisons and lands in DANGER, so the mapping stays total.
func Classify(level float64) Status {
	switch {
	case level < WarningThreshold:
		return StatusSafe
	case level < DangerThreshold:
		return StatusWarning
	default:
		return StatusDanger
	}
}

// Alert reports whether the tier calls for immediate action.
func (s Status) Alert() bool {
	return s == StatusDanger
}

// Severity orders the tiers: 0 SAFE, 1 WARNING, 2 DANGER, -1 unknown.
func (s Status) Severity() int {
	switch s {
	case StatusSafe:
		return 0
	case StatusWarning:
		return 1
	case StatusDanger:
		return 2
	default:
		return -1
	}
}

func (s Status) Valid() bool {
	return s.Severity() >= 0
}

// StatusChange is emitted whenever a reading moves the dashboard to another tier.
type StatusChange struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	LevelCM float64   `json:"level_cm"`
	At      time.Time `json:"changed_at"`
	Station string    `json:"station,omitempty"`
}

// OutputEvent is the serialized form destined for the status topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// SerializeStatusChange encodes a transition keyed by station, so every
// transition for one gauge lands on the same partition.
func SerializeStatusChange(change StatusChange) (OutputEvent, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize status change: %w", err)
	}
	key := change.Station
	if key == "" {
		key = "default"
	}
	return OutputEvent{
		Key:   []byte(key),
		Value: data,
		Headers: map[string]string{
			"status":     string(change.To),
			"changed_at": change.At.UTC().Format(time.RFC3339),
		},
	}, nil
}
