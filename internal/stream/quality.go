package stream

import (
	"sync"
	"time"

	"github.com/openfleet/dispatchmap/internal/models"
)

// qualityTracker derives a ConnectionQuality from a rolling window of
// ping round-trips and from gaps in message arrival. The backend never
// reports quality; it is inferred entirely on this side.
type qualityTracker struct {
	mu sync.Mutex

	window       int
	rtts         []time.Duration
	lastMessage  time.Time
	goodLatency  time.Duration // at or below: excellent
	poorLatency  time.Duration // above: poor
	gapThreshold time.Duration // silence longer than this: poor
}

func newQualityTracker(window int, goodLatency, poorLatency, gapThreshold time.Duration) *qualityTracker {
	if window <= 0 {
		window = 10
	}
	return &qualityTracker{
		window:       window,
		goodLatency:  goodLatency,
		poorLatency:  poorLatency,
		gapThreshold: gapThreshold,
	}
}

// RecordRTT adds one ping round-trip to the rolling window.
func (q *qualityTracker) RecordRTT(rtt time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rtts = append(q.rtts, rtt)
	if len(q.rtts) > q.window {
		q.rtts = q.rtts[len(q.rtts)-q.window:]
	}
}

// RecordMessage notes that any inbound frame arrived at t.
func (q *qualityTracker) RecordMessage(t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastMessage = t
}

// Reset clears the window, typically after a reconnect.
func (q *qualityTracker) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rtts = q.rtts[:0]
	q.lastMessage = time.Time{}
}

// Evaluate computes the quality as of now. connected=false always yields
// offline.
func (q *qualityTracker) Evaluate(now time.Time, connected bool) models.ConnectionQuality {
	if !connected {
		return models.QualityOffline
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Prolonged silence counts as degradation even with good historical RTTs.
	if !q.lastMessage.IsZero() && now.Sub(q.lastMessage) > q.gapThreshold {
		return models.QualityPoor
	}

	if len(q.rtts) == 0 {
		// Nothing measured yet on a live connection.
		return models.QualityGood
	}

	var total time.Duration
	for _, rtt := range q.rtts {
		total += rtt
	}
	avg := total / time.Duration(len(q.rtts))

	switch {
	case avg <= q.goodLatency:
		return models.QualityExcellent
	case avg <= q.poorLatency:
		return models.QualityGood
	default:
		return models.QualityPoor
	}
}
