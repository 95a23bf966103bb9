package domain

import "time"

// SkipReason explains why the history logger did not write a reading.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipAwaitingFirst    SkipReason = "awaiting_first_reading"
	SkipUnchangedReading SkipReason = "unchanged"
)

// LogPolicy tunes the history logger.
type LogPolicy struct {
	// SkipUnchanged logs a reading only when its level differs from the
	// previous reading. Off by default: every accepted reading is logged,
	// which differs from the original browser dashboard. That dashboard
	// logged only on change, so [0,0,42,42,81] wrote two records there and
	// writes three here unless SkipUnchanged is set.
	SkipUnchanged bool
}

// Dashboard is the complete dashboard state. It is a value: transitions
// return a new Dashboard and never modify the receiver's slices.
type Dashboard struct {
	Level      float64    `json:"level_cm"`
	HasReading bool       `json:"has_reading"`
	ReadingAt  time.Time  `json:"reading_at,omitzero"`
	Status     Status     `json:"status"`
	Alert      bool       `json:"alert"`
	Series     Series     `json:"series"`
	Bounds     Bounds     `json:"bounds"`
	Records    int        `json:"records"`
	Thresholds Thresholds `json:"thresholds"`
	Clock      time.Time  `json:"clock"`
	Station    Station    `json:"station"`

	// logging turns true at the first non-zero reading; zeros before it are
	// the gauge's idle value.
	logging bool
}

// Transition describes the side effects of applying a reading.
type Transition struct {
	Record *HistoryRecord // record to append, nil when skipped
	Skip   SkipReason
	Change *StatusChange // set when the tier changed
}

// NewDashboard returns the initial state: level 0, SAFE, empty history.
func NewDashboard(now time.Time, station Station) Dashboard {
	return Dashboard{
		Status:     StatusSafe,
		Series:     Series{},
		Thresholds: DefaultThresholds(),
		Clock:      now,
		Station:    station,
	}
}

// ApplyReading handles a feed update: it reclassifies the level and decides
// whether the history logger writes a record. A written record is stamped
// with now.
func (d Dashboard) ApplyReading(r Reading, now time.Time, policy LogPolicy) (Dashboard, Transition) {
	prev := d
	next := d
	next.Level = r.Level
	next.HasReading = true
	next.ReadingAt = r.Timestamp
	next.Status = Classify(r.Level)
	next.Alert = next.Status.Alert()

	var tr Transition
	switch {
	case !prev.logging && r.Level == 0:
		tr.Skip = SkipAwaitingFirst
	case policy.SkipUnchanged && prev.HasReading && prev.Level == r.Level:
		tr.Skip = SkipUnchangedReading
	default:
		rec := NewHistoryRecord(r, now)
		tr.Record = &rec
	}
	if r.Level != 0 {
		next.logging = true
	}

	if next.Status != prev.Status {
		tr.Change = &StatusChange{
			From:    prev.Status,
			To:      next.Status,
			LevelCM: r.Level,
			At:      r.Timestamp,
			Station: prev.Station.Label(),
		}
	}
	return next, tr
}

// ApplyHistory handles a history update carrying the full record set.
func (d Dashboard) ApplyHistory(records []HistoryRecord) Dashboard {
	d.Series = Project(records)
	d.Bounds = MinMax(d.Series)
	d.Records = len(records)
	return d
}

// ApplyTick advances the dashboard clock.
func (d Dashboard) ApplyTick(now time.Time) Dashboard {
	d.Clock = now
	return d
}
