package models

import (
	"fmt"
	"math"
	"time"
)

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is a real point on the map.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DriverLocation is the latest known position of a driver.
// Timestamp is event time as reported by the source, not receipt time.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *int      `json:"heading,omitempty"`  // degrees, 0-359
	Speed     *float64  `json:"speed,omitempty"`    // m/s
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the location against the coordinate invariants.
func (l *DriverLocation) Validate() error {
	if l.DriverID == "" {
		return fmt.Errorf("missing driver id")
	}
	if !(LatLng{Lat: l.Lat, Lng: l.Lng}).Valid() {
		return fmt.Errorf("coordinate out of range: %f,%f", l.Lat, l.Lng)
	}
	if l.Heading != nil && (*l.Heading < 0 || *l.Heading > 359) {
		return fmt.Errorf("heading out of range: %d", *l.Heading)
	}
	if l.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// DriverStatus is a driver's online/availability state. It travels on an
// independent channel from location: a driver may go offline without a
// location update and vice versa.
type DriverStatus struct {
	DriverID          string            `json:"driver_id"`
	IsOnline          bool              `json:"is_online"`
	IsAvailable       bool              `json:"is_available"`
	BatteryLevel      *int              `json:"battery_level,omitempty"` // 0-100
	ConnectionQuality ConnectionQuality `json:"connection_quality,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Assigned reports whether the driver currently has an active assignment.
// An online driver that is not accepting new work is treated as assigned.
func (s DriverStatus) Assigned() bool {
	return s.IsOnline && !s.IsAvailable
}

// DriverRecord is one driver's entry in a store snapshot. Smoothed carries
// the eased rendering position when smoothing is enabled; the authoritative
// position is always Location.
type DriverRecord struct {
	Location *DriverLocation `json:"location,omitempty"`
	Status   *DriverStatus   `json:"status,omitempty"`
	Stale    bool            `json:"stale"`
	Smoothed *LatLng         `json:"smoothed,omitempty"`
	LastSeen time.Time       `json:"last_seen"`
}

// Snapshot is an immutable point-in-time view of the whole fleet.
type Snapshot struct {
	Drivers map[string]DriverRecord `json:"drivers"`
	TakenAt time.Time               `json:"taken_at"`
}
