// Package cluster partitions driver positions into proximity groups whose
// granularity follows the map zoom level.
package cluster

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/geo"
	"github.com/openfleet/dispatchmap/internal/models"
)

// ZoomThreshold maps a zoom band to a clustering radius in screen pixels.
type ZoomThreshold struct {
	MinZoom float64
	Pixels  float64
}

// Config for the engine. Thresholds must be sorted by MinZoom descending;
// the first band whose MinZoom the zoom reaches wins. Pixel radii must be
// non-increasing as zoom grows so clustering tightens when zooming in.
type Config struct {
	Thresholds []ZoomThreshold
}

// DefaultThresholds: tight at street level, loose at region level.
var DefaultThresholds = []ZoomThreshold{
	{MinZoom: 15, Pixels: 50},
	{MinZoom: 12, Pixels: 80},
	{MinZoom: 9, Pixels: 150},
	{MinZoom: 6, Pixels: 220},
	{MinZoom: 0, Pixels: 300},
}

// Engine is stateless between passes; every call rebuilds clusters in full.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an engine. Nil/empty thresholds fall back to the defaults.
func New(logger *zap.Logger, cfg Config) *Engine {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds
	}
	sort.Slice(cfg.Thresholds, func(i, j int) bool {
		return cfg.Thresholds[i].MinZoom > cfg.Thresholds[j].MinZoom
	})
	return &Engine{cfg: cfg, logger: logger}
}

// ThresholdPixels returns the clustering radius in pixels for a zoom level.
func (e *Engine) ThresholdPixels(zoom float64) float64 {
	for _, t := range e.cfg.Thresholds {
		if zoom >= t.MinZoom {
			return t.Pixels
		}
	}
	return e.cfg.Thresholds[len(e.cfg.Thresholds)-1].Pixels
}

// Cluster runs one greedy single-pass grouping over the snapshot. Input
// ordering is made deterministic by sorting driver IDs; a seed absorbs every
// still-unclustered driver within the threshold distance, and absorbed
// drivers are never re-evaluated. Drivers with degenerate coordinates are
// excluded from this pass and reported, not fatal to the recompute.
func (e *Engine) Cluster(snap models.Snapshot, zoom float64) ([]models.ClusterData, []models.ClusteringInputError) {
	var dropped []models.ClusteringInputError

	ids := make([]string, 0, len(snap.Drivers))
	for id := range snap.Drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locs := make([]models.DriverLocation, 0, len(ids))
	for _, id := range ids {
		rec := snap.Drivers[id]
		if rec.Location == nil {
			continue // status-only driver, nothing to place on the map
		}
		loc := *rec.Location
		if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) ||
			!(models.LatLng{Lat: loc.Lat, Lng: loc.Lng}).Valid() {
			dropped = append(dropped, models.ClusteringInputError{
				DriverID: id,
				Reason:   "degenerate coordinate",
			})
			e.logger.Warn("excluding driver from clustering pass",
				zap.String("driver_id", id))
			continue
		}
		locs = append(locs, loc)
	}

	if len(locs) == 0 {
		return nil, dropped
	}

	pixels := e.ThresholdPixels(zoom)
	clustered := make([]bool, len(locs))
	var out []models.ClusterData

	for i := range locs {
		if clustered[i] {
			continue
		}
		clustered[i] = true

		seed := locs[i]
		members := []models.DriverLocation{seed}

		// Threshold in meters depends on latitude; anchor it at the seed.
		radius := pixels * geo.MetersPerPixel(seed.Lat, zoom)

		for j := i + 1; j < len(locs); j++ {
			if clustered[j] {
				continue
			}
			d := geo.Haversine(seed.Lat, seed.Lng, locs[j].Lat, locs[j].Lng)
			if d <= radius {
				clustered[j] = true
				members = append(members, locs[j])
			}
		}

		out = append(out, build(members))
	}

	return out, dropped
}

// build assembles one cluster from its members: mean center, bounds, and a
// fresh per-pass ID. A size-one cluster is a plain unclustered driver and
// still carries the full payload.
func build(members []models.DriverLocation) models.ClusterData {
	var sumLat, sumLng float64
	bounds := models.NewBoundingBox(members[0].Lat, members[0].Lng)
	for _, m := range members {
		sumLat += m.Lat
		sumLng += m.Lng
		bounds.Extend(m.Lat, m.Lng)
	}

	n := float64(len(members))
	return models.ClusterData{
		ID: uuid.NewString(),
		Center: models.LatLng{
			Lat: sumLat / n,
			Lng: sumLng / n,
		},
		Members: members,
		Bounds:  bounds,
	}
}
