package domain

import "github.com/jonboulle/clockwork"

// clock stamps readings that arrive without a transport timestamp. Tests
// freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
