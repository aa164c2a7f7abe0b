// Package store holds the authoritative location/status map for one viewer
// session. It is mutated only by the session's ingestion path; clustering and
// intent inference consume read-only snapshots.
package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/models"
)

// Config bounds and behavior for the store.
type Config struct {
	StalenessWindow time.Duration // no update for this long flags the driver stale
	HistoryDepth    int           // samples retained per driver
	HistoryWindow   time.Duration // samples older than this are evicted
	Smoothing       bool          // ease the rendering-facing position
	SmoothingFactor float64       // (0,1]; 1 snaps immediately
}

func (c *Config) withDefaults() {
	if c.StalenessWindow == 0 {
		c.StalenessWindow = 60 * time.Second
	}
	if c.HistoryDepth == 0 {
		c.HistoryDepth = 30
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 5 * time.Minute
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		c.SmoothingFactor = 0.35
	}
}

type driverEntry struct {
	loc              *models.DriverLocation
	status           *models.DriverStatus
	smoothed         *models.LatLng
	history          *historyRing
	lastSeen         time.Time // receipt time of the newest accepted update
	lastStatusChange time.Time
}

// Store maps driver ID to its latest known location and status.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	logger  *zap.Logger
	drivers map[string]*driverEntry

	now func() time.Time // injectable for tests
}

// New creates an empty store.
func New(logger *zap.Logger, cfg Config) *Store {
	cfg.withDefaults()
	return &Store{
		cfg:     cfg,
		logger:  logger,
		drivers: make(map[string]*driverEntry),
		now:     time.Now,
	}
}

// ApplyLocation inserts or overwrites a driver's location when the update's
// event timestamp is newer than the stored one. Out-of-order and duplicate
// updates are silently ignored: last writer by event time wins, not last
// received. Returns whether the update was applied.
func (s *Store) ApplyLocation(loc models.DriverLocation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(loc.DriverID)

	if e.loc != nil && !loc.Timestamp.After(e.loc.Timestamp) {
		s.logger.Debug("ignoring stale location update",
			zap.String("driver_id", loc.DriverID),
			zap.Time("stored", e.loc.Timestamp),
			zap.Time("update", loc.Timestamp))
		return false
	}

	stored := loc
	e.loc = &stored
	e.lastSeen = s.now()
	e.history.Append(stored)

	if s.cfg.Smoothing {
		if e.smoothed == nil {
			e.smoothed = &models.LatLng{Lat: loc.Lat, Lng: loc.Lng}
		} else {
			// Ease toward the new fix; the authoritative value above stays raw.
			a := s.cfg.SmoothingFactor
			e.smoothed.Lat += a * (loc.Lat - e.smoothed.Lat)
			e.smoothed.Lng += a * (loc.Lng - e.smoothed.Lng)
		}
	}

	return true
}

// ApplyStatus updates online/availability/battery independently of location.
// Older-than-stored status timestamps are ignored the same way locations are.
func (s *Store) ApplyStatus(status models.DriverStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(status.DriverID)

	if e.status != nil && !status.Timestamp.After(e.status.Timestamp) {
		return false
	}

	if e.status == nil ||
		e.status.IsOnline != status.IsOnline ||
		e.status.IsAvailable != status.IsAvailable {
		e.lastStatusChange = s.now()
	}

	stored := status
	e.status = &stored
	e.lastSeen = s.now()
	return true
}

// SetPresence handles driver_online/driver_offline events: a status flip with
// an optional last location attached.
func (s *Store) SetPresence(driverID string, online bool, at time.Time, loc *models.DriverLocation) {
	status := models.DriverStatus{
		DriverID:    driverID,
		IsOnline:    online,
		IsAvailable: online,
		Timestamp:   at,
	}
	s.ApplyStatus(status)
	if loc != nil {
		s.ApplyLocation(*loc)
	}
}

// Snapshot returns an immutable point-in-time view of the fleet. Stale
// drivers remain present (for last-known-position display) but are flagged.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	snap := models.Snapshot{
		Drivers: make(map[string]models.DriverRecord, len(s.drivers)),
		TakenAt: now,
	}

	for id, e := range s.drivers {
		rec := models.DriverRecord{
			Stale:    s.staleLocked(e, now),
			LastSeen: e.lastSeen,
		}
		if e.loc != nil {
			loc := *e.loc
			rec.Location = &loc
		}
		if e.status != nil {
			st := *e.status
			rec.Status = &st
		}
		if e.smoothed != nil {
			p := *e.smoothed
			rec.Smoothed = &p
		}
		snap.Drivers[id] = rec
	}
	return snap
}

// History returns a copy of the driver's retained location samples, oldest
// first. Unknown drivers yield nil.
func (s *Store) History(driverID string) []models.DriverLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.drivers[driverID]
	if !ok {
		return nil
	}
	return e.history.Recent()
}

// IsStale reports whether the driver has gone quiet past the staleness
// window. Unknown drivers are stale.
func (s *Store) IsStale(driverID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.drivers[driverID]
	if !ok {
		return true
	}
	return s.staleLocked(e, s.now())
}

// TimeSinceStatusChange returns how long the driver's online/availability
// flags have been steady, and whether the driver is known.
func (s *Store) TimeSinceStatusChange(driverID string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.drivers[driverID]
	if !ok || e.lastStatusChange.IsZero() {
		return 0, false
	}
	return s.now().Sub(e.lastStatusChange), true
}

// Len returns the number of known drivers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drivers)
}

func (s *Store) entry(driverID string) *driverEntry {
	e, ok := s.drivers[driverID]
	if !ok {
		e = &driverEntry{history: newHistoryRing(s.cfg.HistoryDepth, s.cfg.HistoryWindow)}
		s.drivers[driverID] = e
	}
	return e
}

func (s *Store) staleLocked(e *driverEntry, now time.Time) bool {
	if e.lastSeen.IsZero() {
		return true
	}
	return now.Sub(e.lastSeen) > s.cfg.StalenessWindow
}
