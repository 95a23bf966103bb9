package main

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// checkRecords verifies stored values: positive timestamps, unique keys and
// levels a gauge can report. Records without a level are noted, not failed.
func checkRecords(records []domain.HistoryRecord) *phase {
	p := &phase{name: "Stored records"}
	seen := make(map[string]int, len(records))
	missing := 0
	outOfOrder := 0
	for i, r := range records {
		if r.Timestamp <= 0 {
			p.errorf("record %d (%s): timestamp %d", i, r.Key, r.Timestamp)
		}
		if r.Key != "" {
			if j, dup := seen[r.Key]; dup {
				p.errorf("record %d: key %s already used by record %d", i, r.Key, j)
			}
			seen[r.Key] = i
		}
		if i > 0 && r.Timestamp < records[i-1].Timestamp {
			outOfOrder++
		}
		if r.WaterLevel == nil {
			missing++
			continue
		}
		if v := *r.WaterLevel; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			p.errorf("record %d (%s): level %v", i, r.Key, v)
		}
	}
	if missing > 0 {
		p.notef("%d record(s) without a level are left out of the series", missing)
	}
	if outOfOrder > 0 {
		p.notef("%d record(s) stored before an earlier timestamp; the series is time-ordered", outOfOrder)
	}
	return p
}

// checkProjection verifies the series: dense 1-based indices, one point per
// leveled record, and levels in timestamp order.
func checkProjection(records []domain.HistoryRecord, series domain.Series) *phase {
	p := &phase{name: "Series projection"}

	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b domain.HistoryRecord) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	var want []float64
	for _, r := range ordered {
		if r.WaterLevel != nil {
			want = append(want, *r.WaterLevel)
		}
	}

	if len(series) != len(want) {
		p.errorf("series has %d points, %d records carry a level", len(series), len(want))
		return p
	}
	for i, pt := range series {
		if pt.Index != i+1 {
			p.errorf("point %d: index %d", i, pt.Index)
		}
		if pt.Level != want[i] {
			p.errorf("point %d: level %v, want %v", i, pt.Level, want[i])
		}
	}
	return p
}

// checkBounds verifies min and max against the series.
func checkBounds(series domain.Series, bounds domain.Bounds) *phase {
	p := &phase{name: "Bounds"}
	if len(series) == 0 {
		if !bounds.Empty() {
			p.errorf("empty series has bounds %v..%v", *bounds.Min, *bounds.Max)
		}
		lo, hi := bounds.Format()
		if lo != domain.NoData || hi != domain.NoData {
			p.errorf("empty series formats as %q..%q", lo, hi)
		}
		return p
	}
	if bounds.Empty() {
		p.errorf("non-empty series has no bounds")
		return p
	}
	levels := series.Levels()
	if got, want := *bounds.Min, slices.Min(levels); got != want {
		p.errorf("min %v, want %v", got, want)
	}
	if got, want := *bounds.Max, slices.Max(levels); got != want {
		p.errorf("max %v, want %v", got, want)
	}
	return p
}

// checkClassification verifies every stored level maps to exactly one tier
// and counts readings per tier.
func checkClassification(series domain.Series) (*phase, map[domain.Status]int) {
	p := &phase{name: "Classification"}
	counts := map[domain.Status]int{}
	for _, pt := range series {
		s := domain.Classify(pt.Level)
		if !s.Valid() {
			p.errorf("point %d: level %v has no tier", pt.Index, pt.Level)
			continue
		}
		counts[s]++
	}
	return p, counts
}
