package domain

import (
	"encoding/json"
	"slices"
	"strconv"
)

// NoData is shown in place of min/max when the history has no levels.
const NoData = "-"

// SeriesPoint is one point on the trend chart.
type SeriesPoint struct {
	Index int     `json:"index"`
	Level float64 `json:"level"`
}

// Series is the charted history, indexed 1..N without gaps.
type Series []SeriesPoint

// Project turns raw history into a chart series. Records are ordered by their
// timestamp, ties keeping storage order, so a backend that returns keyed
// records out of order still charts chronologically. Records without a level
// are dropped before indexing, keeping the indices dense. The input slice is
// not modified.
func Project(records []HistoryRecord) Series {
	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b HistoryRecord) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	series := make(Series, 0, len(ordered))
	for _, rec := range ordered {
		if rec.WaterLevel == nil {
			continue
		}
		series = append(series, SeriesPoint{
			Index: len(series) + 1,
			Level: *rec.WaterLevel,
		})
	}
	return series
}

// Levels returns the level of every point in index order.
func (s Series) Levels() []float64 {
	levels := make([]float64, len(s))
	for i, p := range s {
		levels[i] = p.Level
	}
	return levels
}

// Bounds holds the lowest and highest level in a series. Both are nil when
// the series is empty.
type Bounds struct {
	Min *float64
	Max *float64
}

// MinMax returns the level bounds of a series, or empty Bounds for an empty one.
func MinMax(s Series) Bounds {
	if len(s) == 0 {
		return Bounds{}
	}
	lo, hi := s[0].Level, s[0].Level
	for _, p := range s[1:] {
		lo = min(lo, p.Level)
		hi = max(hi, p.Level)
	}
	return Bounds{Min: &lo, Max: &hi}
}

// Empty reports whether the bounds carry no data.
func (b Bounds) Empty() bool {
	return b.Min == nil || b.Max == nil
}

// Format renders min and max for display, using NoData when empty.
func (b Bounds) Format() (string, string) {
	if b.Empty() {
		return NoData, NoData
	}
	return formatLevel(*b.Min), formatLevel(*b.Max)
}

// MarshalJSON writes numbers when there is data and the NoData sentinel otherwise.
func (b Bounds) MarshalJSON() ([]byte, error) {
	if b.Empty() {
		return json.Marshal(map[string]string{"min": NoData, "max": NoData})
	}
	return json.Marshal(map[string]float64{"min": *b.Min, "max": *b.Max})
}

func formatLevel(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
