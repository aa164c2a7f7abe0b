package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPredictor(cfg Config) *Predictor {
	return New(zap.NewNop(), cfg)
}

func sample(lat, lng float64, heading int, speed float64, at time.Time) models.DriverLocation {
	h := heading
	s := speed
	return models.DriverLocation{
		DriverID:  "D",
		Lat:       lat,
		Lng:       lng,
		Heading:   &h,
		Speed:     &s,
		Timestamp: at,
	}
}

func track(speed float64, headings ...int) []models.DriverLocation {
	out := make([]models.DriverLocation, len(headings))
	at := testNow.Add(-time.Duration(len(headings)) * 5 * time.Second)
	for i, h := range headings {
		out[i] = sample(40.0, -74.0+float64(i)*0.0005, h, speed, at)
		at = at.Add(5 * time.Second)
	}
	return out
}

func status(online, available bool) *models.DriverStatus {
	return &models.DriverStatus{
		DriverID:    "D",
		IsOnline:    online,
		IsAvailable: available,
		Timestamp:   testNow.Add(-time.Minute),
	}
}

func TestStaleDriverClassifiedOffline(t *testing.T) {
	p := newTestPredictor(Config{StalenessWindow: 60 * time.Second})

	// 90 seconds of silence; prior status says online and moving.
	pred := p.Classify(Input{
		DriverID: "D",
		Record: models.DriverRecord{
			Status:   status(true, false),
			Stale:    true,
			LastSeen: testNow.Add(-90 * time.Second),
		},
		History: track(8.0, 90, 91, 89, 90),
	}, testNow)

	assert.Equal(t, models.IntentOffline, pred.Intent)
	assert.InDelta(t, 0.75, pred.Confidence, 1e-9)
}

func TestExplicitOfflineWinsOverEverything(t *testing.T) {
	p := newTestPredictor(Config{})

	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(false, false), LastSeen: testNow},
		History:  track(10.0, 90, 90, 90, 90),
	}, testNow)

	assert.Equal(t, models.IntentOffline, pred.Intent)
	assert.Equal(t, 0.95, pred.Confidence)
}

func TestEnRoute(t *testing.T) {
	p := newTestPredictor(Config{EnRouteSpeedMin: 5.0})

	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, false), LastSeen: testNow},
		History:  track(9.0, 88, 90, 91, 90),
	}, testNow)

	assert.Equal(t, models.IntentEnRoute, pred.Intent)
	assert.Greater(t, pred.Confidence, 0.6)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
}

func TestEnRouteConfidenceScalesWithSpeedMargin(t *testing.T) {
	p := newTestPredictor(Config{EnRouteSpeedMin: 5.0})
	rec := models.DriverRecord{Status: status(true, false), LastSeen: testNow}

	barely := p.Classify(Input{DriverID: "D", Record: rec, History: track(5.2, 90, 90, 90, 90)}, testNow)
	fast := p.Classify(Input{DriverID: "D", Record: rec, History: track(14.0, 90, 90, 90, 90)}, testNow)

	require.Equal(t, models.IntentEnRoute, barely.Intent)
	require.Equal(t, models.IntentEnRoute, fast.Intent)
	assert.Greater(t, fast.Confidence, barely.Confidence,
		"well above threshold must be surer than just above")
}

func TestBusyWhenAssignedButParked(t *testing.T) {
	p := newTestPredictor(Config{})

	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, false), LastSeen: testNow},
		History:  track(0.2, 90, 92, 91, 90),
	}, testNow)

	assert.Equal(t, models.IntentBusy, pred.Intent)
}

func TestBusyWhenAssignedAndErratic(t *testing.T) {
	p := newTestPredictor(Config{EnRouteSpeedMin: 5.0, HeadingStabilityMin: 0.8})

	// Fast but spinning in circles.
	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, false), LastSeen: testNow},
		History:  track(9.0, 0, 90, 180, 270, 0, 90, 180, 270),
	}, testNow)

	assert.Equal(t, models.IntentBusy, pred.Intent)
}

func TestReturningTowardBase(t *testing.T) {
	base := models.LatLng{Lat: 40.0, Lng: -74.0}
	p := newTestPredictor(Config{Bases: []models.LatLng{base}, MovingSpeedMax: 1.5})

	// Unassigned, moving, each fix closer to the base.
	at := testNow.Add(-30 * time.Second)
	var history []models.DriverLocation
	for i := 0; i < 4; i++ {
		history = append(history, sample(40.05-float64(i)*0.01, -74.0, 180, 8.0, at))
		at = at.Add(10 * time.Second)
	}

	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, true), LastSeen: testNow},
		History:  history,
	}, testNow)

	assert.Equal(t, models.IntentReturning, pred.Intent)
	require.NotNil(t, pred.ETAMinutes)
	assert.Greater(t, *pred.ETAMinutes, 0.0)
}

func TestAvailableDefault(t *testing.T) {
	p := newTestPredictor(Config{})

	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, true), LastSeen: testNow},
		History:  track(0.1, 90, 90, 90, 90),
	}, testNow)

	assert.Equal(t, models.IntentAvailable, pred.Intent)
	assert.Equal(t, 0.8, pred.Confidence)
}

func TestUnknownDriverLowConfidenceAvailable(t *testing.T) {
	p := newTestPredictor(Config{})

	pred := p.Classify(Input{
		DriverID: "new",
		Record:   models.DriverRecord{LastSeen: testNow},
	}, testNow)

	assert.Equal(t, models.IntentAvailable, pred.Intent)
	assert.Equal(t, 0.2, pred.Confidence)
}

func TestFreshStatusFlipTempersConfidence(t *testing.T) {
	p := newTestPredictor(Config{StatusSettleWindow: 30 * time.Second})

	parked := Input{
		DriverID: "D",
		Record:   models.DriverRecord{Status: status(true, false), LastSeen: testNow},
		History:  track(0.5, 90, 90, 90, 90),
	}

	settled := parked
	settled.SteadyFor = 5 * time.Minute
	steady := p.Classify(settled, testNow)

	flipped := parked
	flipped.SteadyFor = 3 * time.Second
	fresh := p.Classify(flipped, testNow)

	require.Equal(t, models.IntentBusy, steady.Intent)
	require.Equal(t, steady.Intent, fresh.Intent)
	assert.InDelta(t, steady.Confidence*0.8, fresh.Confidence, 1e-9,
		"a flag that just flipped is weaker evidence")

	// Movement-driven intents are not tempered.
	moving := Input{
		DriverID:  "D",
		Record:    models.DriverRecord{Status: status(true, false), LastSeen: testNow},
		History:   track(8.0, 90, 90, 90, 90),
		SteadyFor: 3 * time.Second,
	}
	pred := p.Classify(moving, testNow)
	assert.Equal(t, models.IntentEnRoute, pred.Intent)
	assert.Greater(t, pred.Confidence, 0.6)
}

func TestLocationOnlyDriverClassifiedUnassigned(t *testing.T) {
	p := newTestPredictor(Config{})

	// Positions arrived before any status frame did.
	pred := p.Classify(Input{
		DriverID: "D",
		Record:   models.DriverRecord{LastSeen: testNow},
		History:  track(0.1, 90, 90, 90, 90),
	}, testNow)

	assert.Equal(t, models.IntentAvailable, pred.Intent)
	assert.Equal(t, 0.8, pred.Confidence)
}

func TestConfidenceAlwaysInUnitRange(t *testing.T) {
	p := newTestPredictor(Config{})
	inputs := []Input{
		{DriverID: "a", Record: models.DriverRecord{Stale: true}},
		{DriverID: "b", Record: models.DriverRecord{Status: status(true, false), LastSeen: testNow}, History: track(100.0, 90, 90, 90, 90)},
		{DriverID: "c", Record: models.DriverRecord{Status: status(true, true), LastSeen: testNow}, History: track(3.0, 10, 200, 40, 300)},
	}

	for _, in := range inputs {
		pred := p.Classify(in, testNow)
		assert.GreaterOrEqual(t, pred.Confidence, 0.0)
		assert.LessOrEqual(t, pred.Confidence, 1.0)
	}
}

func TestAggregateCountsAndMeanConfidence(t *testing.T) {
	metrics := Aggregate([]models.DriverIntentPrediction{
		{Intent: models.IntentAvailable, Confidence: 0.8},
		{Intent: models.IntentAvailable, Confidence: 0.6},
		{Intent: models.IntentBusy, Confidence: 0.4},
	})

	assert.Equal(t, 2, metrics.Counts[models.IntentAvailable])
	assert.Equal(t, 1, metrics.Counts[models.IntentBusy])
	assert.Equal(t, models.IntentAvailable, metrics.Dominant)
	assert.InDelta(t, 0.6, metrics.AvgConfidence, 1e-9)
}

func TestAggregateTieBreakFollowsPriorityOrder(t *testing.T) {
	// busy and en_route tie; en_route outranks busy.
	metrics := Aggregate([]models.DriverIntentPrediction{
		{Intent: models.IntentBusy, Confidence: 0.5},
		{Intent: models.IntentEnRoute, Confidence: 0.5},
	})
	assert.Equal(t, models.IntentEnRoute, metrics.Dominant)

	// offline vs returning tie; returning outranks offline.
	metrics = Aggregate([]models.DriverIntentPrediction{
		{Intent: models.IntentOffline, Confidence: 0.5},
		{Intent: models.IntentReturning, Confidence: 0.5},
	})
	assert.Equal(t, models.IntentReturning, metrics.Dominant)
}

func TestAggregateEmpty(t *testing.T) {
	metrics := Aggregate(nil)
	assert.Empty(t, metrics.Counts)
	assert.Zero(t, metrics.AvgConfidence)
}
