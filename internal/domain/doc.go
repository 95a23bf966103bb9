// Package domain models water-level readings from a river or drain gauge and
// the flood-risk dashboard state derived from them.
//
// # Readings
//
// The realtime feed carries a single current-value node, published as JSON:
//
//	{"waterLevel": 42.5}
//
// Levels are centimeters above the gauge datum. A payload without a
// "waterLevel" field (or with an explicit null) is not a reading: it must never
// be mistaken for a level of zero. See [ParseReading].
//
// # Risk tiers
//
// Every level maps to exactly one tier. Thresholds are evaluated in order and
// the first match wins; the boundary value belongs to the higher tier:
//
//	level < 40        SAFE
//	40 <= level < 70  WARNING
//	level >= 70       DANGER
//
// There is no hysteresis. A level oscillating around 40 flips the tier on
// every reading. See [Classify].
//
// # History
//
// Each accepted reading is appended to an append-only history as
//
//	{"waterLevel": 42.5, "timestamp": 1714143000000}
//
// with the timestamp in milliseconds since the epoch, taken when the record is
// written. A zero reading that arrives before any real reading is the gauge's
// idle value and is not logged. Other clients may write records without a
// level; the projection drops them. See [Project] and [MinMax].
//
// # Dashboard state
//
// [Dashboard] is a value type. Each external event (feed update, history
// update, clock tick) has a transition method returning the next state, so the
// whole dashboard can be driven by synthetic events in tests.
package domain
