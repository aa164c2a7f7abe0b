package cluster

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/geo"
	"github.com/openfleet/dispatchmap/internal/models"
)

func snapshotOf(locs ...models.DriverLocation) models.Snapshot {
	snap := models.Snapshot{
		Drivers: make(map[string]models.DriverRecord),
		TakenAt: time.Now(),
	}
	for i := range locs {
		l := locs[i]
		snap.Drivers[l.DriverID] = models.DriverRecord{Location: &l}
	}
	return snap
}

func driver(id string, lat, lng float64) models.DriverLocation {
	return models.DriverLocation{DriverID: id, Lat: lat, Lng: lng, Timestamp: time.Now()}
}

func TestThresholdMonotoneInZoom(t *testing.T) {
	e := New(zap.NewNop(), Config{})

	for zoom := 0.0; zoom < 21; zoom++ {
		lower := e.ThresholdPixels(zoom)
		higher := e.ThresholdPixels(zoom + 1)
		assert.GreaterOrEqual(t, lower, higher,
			"clustering must tighten (or hold) as zoom rises: z=%v", zoom)
	}
}

func TestTwoDriversUnderAndOverThreshold(t *testing.T) {
	const zoom = 15.0

	// Two drivers 40 screen pixels apart on the equator at this zoom.
	meters := 40 * geo.MetersPerPixel(0, zoom)
	lngDelta := meters / 111319.49
	snap := snapshotOf(
		driver("a", 0, 0),
		driver("b", 0, lngDelta),
	)

	wide := New(zap.NewNop(), Config{Thresholds: []ZoomThreshold{{MinZoom: 0, Pixels: 50}}})
	clusters, dropped := wide.Cluster(snap, zoom)
	require.Empty(t, dropped)
	require.Len(t, clusters, 1)
	assert.Equal(t, 2, clusters[0].Size())

	tight := New(zap.NewNop(), Config{Thresholds: []ZoomThreshold{{MinZoom: 0, Pixels: 30}}})
	clusters, dropped = tight.Cluster(snap, zoom)
	require.Empty(t, dropped)
	require.Len(t, clusters, 2)
	assert.Equal(t, 1, clusters[0].Size())
	assert.Equal(t, 1, clusters[1].Size())
}

func TestClusteringIsATotalPartition(t *testing.T) {
	e := New(zap.NewNop(), Config{})

	locs := []models.DriverLocation{
		driver("a", 40.7128, -74.0060),
		driver("b", 40.7130, -74.0062),
		driver("c", 40.7500, -73.9900),
		driver("d", 40.6000, -74.1000),
		driver("e", 40.7129, -74.0061),
	}
	snap := snapshotOf(locs...)

	clusters, dropped := e.Cluster(snap, 12)
	require.Empty(t, dropped)

	seen := make(map[string]int)
	for _, c := range clusters {
		for _, m := range c.Members {
			seen[m.DriverID]++
		}
	}
	require.Len(t, seen, len(locs), "no driver may be dropped")
	for id, n := range seen {
		assert.Equal(t, 1, n, "driver %s appears in exactly one cluster", id)
	}
}

func TestEmptyInputYieldsNoClusters(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	clusters, dropped := e.Cluster(models.Snapshot{Drivers: map[string]models.DriverRecord{}}, 12)
	assert.Empty(t, clusters)
	assert.Empty(t, dropped)
}

func TestDegenerateCoordinatesExcludedNotFatal(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	snap := snapshotOf(
		driver("good", 40.0, -74.0),
		driver("nan", math.NaN(), -74.0),
		driver("range", 95.0, 10.0),
	)

	clusters, dropped := e.Cluster(snap, 12)
	require.Len(t, clusters, 1)
	assert.Equal(t, "good", clusters[0].Members[0].DriverID)

	require.Len(t, dropped, 2)
	ids := []string{dropped[0].DriverID, dropped[1].DriverID}
	assert.ElementsMatch(t, []string{"nan", "range"}, ids)
}

func TestSingletonClusterCarriesFullShape(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	clusters, _ := e.Cluster(snapshotOf(driver("solo", 10, 20)), 15)

	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 10.0, c.Center.Lat)
	assert.Equal(t, 20.0, c.Center.Lng)
	assert.Equal(t, models.BoundingBox{MinLat: 10, MinLng: 20, MaxLat: 10, MaxLng: 20}, c.Bounds)
}

func TestCenterIsArithmeticMean(t *testing.T) {
	e := New(zap.NewNop(), Config{Thresholds: []ZoomThreshold{{MinZoom: 0, Pixels: 10000}}})
	clusters, _ := e.Cluster(snapshotOf(
		driver("a", 10, 20),
		driver("b", 12, 24),
	), 12)

	require.Len(t, clusters, 1)
	assert.InDelta(t, 11.0, clusters[0].Center.Lat, 1e-9)
	assert.InDelta(t, 22.0, clusters[0].Center.Lng, 1e-9)
}

func TestClusterIDFreshPerPass(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	snap := snapshotOf(driver("a", 10, 20))

	first, _ := e.Cluster(snap, 12)
	second, _ := e.Cluster(snap, 12)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID,
		"consumers must not rely on identity across passes")
}

func TestDeterministicGivenStableInput(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	snap := snapshotOf(
		driver("b", 40.7130, -74.0062),
		driver("a", 40.7128, -74.0060),
		driver("c", 40.7500, -73.9900),
	)

	first, _ := e.Cluster(snap, 12)
	second, _ := e.Cluster(snap, 12)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, memberIDs(first[i]), memberIDs(second[i]))
	}
}

func memberIDs(c models.ClusterData) []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.DriverID
	}
	return ids
}
