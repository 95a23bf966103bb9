package main

import (
	"math"
	"math/rand/v2"
)

// walk produces a bounded random walk of water levels. It starts flat at zero
// for a few steps to mimic an idle gauge, reports the start level, then drifts.
type walk struct {
	rng         *rand.Rand
	level       float64
	idle        int
	started     bool
	maxStep     float64
	ceiling     float64
	missingRate float64
}

func newWalk(seed uint64, start, maxStep, ceiling, missingRate float64, idle int) *walk {
	return &walk{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		level:       math.Round(min(max(start, 0), ceiling)*10) / 10,
		idle:        idle,
		maxStep:     maxStep,
		ceiling:     ceiling,
		missingRate: missingRate,
	}
}

// next returns the next level, or nil for an update that carries no level.
func (w *walk) next() *float64 {
	if w.idle > 0 {
		w.idle--
		zero := 0.0
		return &zero
	}
	if w.missingRate > 0 && w.rng.Float64() < w.missingRate {
		return nil
	}

	if !w.started {
		w.started = true
		level := w.level
		return &level
	}

	delta := (w.rng.Float64()*2 - 1) * w.maxStep
	w.level = math.Round(min(max(w.level+delta, 0), w.ceiling)*10) / 10
	level := w.level
	return &level
}
