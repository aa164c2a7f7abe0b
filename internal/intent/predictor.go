// Package intent classifies driver behavior from bounded location/status
// history and summarizes it per cluster. The classifier is rule-based,
// evaluated in fixed priority order with first match winning.
package intent

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/openfleet/dispatchmap/internal/geo"
	"github.com/openfleet/dispatchmap/internal/models"
)

// Config holds the heuristic thresholds. None of the numeric values are
// load-bearing exact; they are tunable from the environment.
type Config struct {
	EnRouteSpeedMin     float64       // m/s; sustained speed above this suggests en_route
	MovingSpeedMax      float64       // m/s; below this counts as "not moving"
	HeadingStabilityMin float64       // [0,1] mean resultant length; above counts as consistent
	StalenessWindow     time.Duration // mirror of the store's window
	StatusSettleWindow  time.Duration // a status younger than this is weak evidence
	Bases               []models.LatLng
	MinSamples          int // history shorter than this gives low-confidence answers
}

func (c *Config) withDefaults() {
	if c.EnRouteSpeedMin == 0 {
		c.EnRouteSpeedMin = 5.0
	}
	if c.MovingSpeedMax == 0 {
		c.MovingSpeedMax = 1.5
	}
	if c.HeadingStabilityMin == 0 {
		c.HeadingStabilityMin = 0.8
	}
	if c.StalenessWindow == 0 {
		c.StalenessWindow = 60 * time.Second
	}
	if c.StatusSettleWindow == 0 {
		c.StatusSettleWindow = 30 * time.Second
	}
	if c.MinSamples == 0 {
		c.MinSamples = 3
	}
}

// Input is everything known about one driver at classification time.
type Input struct {
	DriverID  string
	Record    models.DriverRecord
	History   []models.DriverLocation // oldest first
	SteadyFor time.Duration           // since the last online/availability flip
}

// Predictor is stateless; all state lives in the store's history buffers.
type Predictor struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a predictor.
func New(logger *zap.Logger, cfg Config) *Predictor {
	cfg.withDefaults()
	return &Predictor{cfg: cfg, logger: logger}
}

// Classify applies the rules in priority order:
// offline > en_route > busy > returning > available.
// A driver with no usable history gets a default low-confidence available.
func (p *Predictor) Classify(in Input, now time.Time) models.DriverIntentPrediction {
	pred := models.DriverIntentPrediction{DriverID: in.DriverID}
	status := in.Record.Status

	// offline: stale or explicitly offline, regardless of prior state.
	if status != nil && !status.IsOnline {
		pred.Intent = models.IntentOffline
		pred.Confidence = 0.95
		return pred
	}
	if in.Record.Stale {
		pred.Intent = models.IntentOffline
		elapsed := now.Sub(in.Record.LastSeen)
		if in.Record.LastSeen.IsZero() {
			pred.Confidence = 0.5
		} else {
			// The further past the window, the surer we are.
			pred.Confidence = clamp01(0.5 * elapsed.Seconds() / p.cfg.StalenessWindow.Seconds())
		}
		return pred
	}

	// Newly seen driver: nothing to reason from yet.
	if status == nil && len(in.History) == 0 {
		pred.Intent = models.IntentAvailable
		pred.Confidence = 0.2
		return pred
	}

	speed := p.averageSpeed(in.History)
	stability := headingStability(in.History)
	assigned := status != nil && status.Assigned()
	lowSignal := len(in.History) < p.cfg.MinSamples
	// A flag that flipped moments ago may be mid-handoff noise; movement
	// evidence is unaffected, so only the status-driven intents are tempered.
	settling := in.SteadyFor > 0 && in.SteadyFor < p.cfg.StatusSettleWindow

	// en_route: assigned and moving with a consistent heading.
	if assigned && speed >= p.cfg.EnRouteSpeedMin && stability >= p.cfg.HeadingStabilityMin {
		pred.Intent = models.IntentEnRoute
		margin := (speed - p.cfg.EnRouteSpeedMin) / p.cfg.EnRouteSpeedMin
		pred.Confidence = clamp01((0.6 + 0.4*clamp01(margin)) * stability)
		if lowSignal {
			pred.Confidence *= 0.7
		}
		return pred
	}

	// busy: assigned but parked, or moving erratically.
	if assigned {
		pred.Intent = models.IntentBusy
		if speed <= p.cfg.MovingSpeedMax {
			pred.Confidence = clamp01(0.9 - 0.3*speed/p.cfg.MovingSpeedMax)
		} else {
			pred.Confidence = 0.6 // moving but without a steady heading
		}
		if lowSignal {
			pred.Confidence *= 0.7
		}
		if settling {
			pred.Confidence *= 0.8
		}
		return pred
	}

	// returning: unassigned, moving, and closing on a known base.
	if speed > p.cfg.MovingSpeedMax && len(p.cfg.Bases) > 0 && len(in.History) >= 2 {
		if eta, ok := p.approachingBase(in.History, speed); ok {
			pred.Intent = models.IntentReturning
			pred.Confidence = clamp01(0.5 + 0.4*stability)
			if lowSignal {
				pred.Confidence *= 0.7
			}
			if eta > 0 {
				pred.ETAMinutes = &eta
			}
			return pred
		}
	}

	// available: online, unassigned, little movement.
	pred.Intent = models.IntentAvailable
	if speed <= p.cfg.MovingSpeedMax {
		pred.Confidence = 0.8
	} else {
		pred.Confidence = 0.5
	}
	if lowSignal {
		pred.Confidence = math.Min(pred.Confidence, 0.4)
	}
	if settling {
		pred.Confidence *= 0.8
	}
	return pred
}

// averageSpeed prefers reported speeds and falls back to distance over time
// between consecutive fixes.
func (p *Predictor) averageSpeed(history []models.DriverLocation) float64 {
	var reported []float64
	for _, h := range history {
		if h.Speed != nil {
			reported = append(reported, *h.Speed)
		}
	}
	if len(reported) > 0 {
		return stat.Mean(reported, nil)
	}

	if len(history) < 2 {
		return 0
	}
	var derived []float64
	for i := 1; i < len(history); i++ {
		dt := history[i].Timestamp.Sub(history[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		d := geo.Haversine(history[i-1].Lat, history[i-1].Lng, history[i].Lat, history[i].Lng)
		derived = append(derived, d/dt)
	}
	if len(derived) == 0 {
		return 0
	}
	return stat.Mean(derived, nil)
}

// headingStability is the mean resultant length of the heading samples:
// 1 means perfectly consistent, 0 means uniformly scattered. With fewer
// than two headings it reports 1 (no evidence of erratic movement).
func headingStability(history []models.DriverLocation) float64 {
	var sins, coss []float64
	for _, h := range history {
		if h.Heading == nil {
			continue
		}
		rad := float64(*h.Heading) * math.Pi / 180
		sins = append(sins, math.Sin(rad))
		coss = append(coss, math.Cos(rad))
	}
	if len(sins) < 2 {
		return 1
	}
	ms := stat.Mean(sins, nil)
	mc := stat.Mean(coss, nil)
	return math.Sqrt(ms*ms + mc*mc)
}

// approachingBase reports whether the history is closing on the nearest
// configured base, with an ETA in minutes.
func (p *Predictor) approachingBase(history []models.DriverLocation, speed float64) (float64, bool) {
	first := history[0]
	last := history[len(history)-1]

	base, ok := p.nearestBase(last.Lat, last.Lng)
	if !ok {
		return 0, false
	}

	before := geo.Haversine(first.Lat, first.Lng, base.Lat, base.Lng)
	after := geo.Haversine(last.Lat, last.Lng, base.Lat, base.Lng)
	if after >= before {
		return 0, false
	}

	eta := 0.0
	if speed > 0 {
		eta = after / speed / 60
	}
	return eta, true
}

func (p *Predictor) nearestBase(lat, lng float64) (models.LatLng, bool) {
	if len(p.cfg.Bases) == 0 {
		return models.LatLng{}, false
	}
	best := p.cfg.Bases[0]
	bestDist := geo.Haversine(lat, lng, best.Lat, best.Lng)
	for _, b := range p.cfg.Bases[1:] {
		if d := geo.Haversine(lat, lng, b.Lat, b.Lng); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
