package store

import (
	"time"

	"github.com/openfleet/dispatchmap/internal/models"
)

// historyRing is a bounded rolling buffer of location samples for one driver.
// Samples are evicted when the buffer is full or when they age past the
// retention window, whichever bites first.
type historyRing struct {
	samples []models.DriverLocation
	depth   int
	window  time.Duration
}

func newHistoryRing(depth int, window time.Duration) *historyRing {
	if depth <= 0 {
		depth = 30
	}
	return &historyRing{depth: depth, window: window}
}

// Append adds a sample and evicts whatever no longer fits the bounds.
func (r *historyRing) Append(loc models.DriverLocation) {
	r.samples = append(r.samples, loc)
	if len(r.samples) > r.depth {
		r.samples = r.samples[len(r.samples)-r.depth:]
	}
	if r.window > 0 {
		cutoff := loc.Timestamp.Add(-r.window)
		i := 0
		for i < len(r.samples) && r.samples[i].Timestamp.Before(cutoff) {
			i++
		}
		r.samples = r.samples[i:]
	}
}

// Recent returns a copy of the retained samples, oldest first.
func (r *historyRing) Recent() []models.DriverLocation {
	out := make([]models.DriverLocation, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of retained samples.
func (r *historyRing) Len() int { return len(r.samples) }
