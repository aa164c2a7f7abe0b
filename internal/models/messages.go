package models

import (
	"encoding/json"
	"time"
)

// Inbound message kinds.
const (
	MsgLocationUpdate = "location_update"
	MsgStatusUpdate   = "status_update"
	MsgDriverOnline   = "driver_online"
	MsgDriverOffline  = "driver_offline"
	MsgNearbyResult   = "nearby_result"
	MsgPong           = "pong"
)

// Outbound message kinds.
const (
	MsgSubscribe  = "subscribe"
	MsgPing       = "ping"
	MsgFindNearby = "find_nearby"
)

// InboundMessage is one decoded, validated variant of the inbound stream.
type InboundMessage interface {
	Kind() string
}

// LocationUpdateMsg carries a single driver position sample.
type LocationUpdateMsg struct {
	DriverID  string   `json:"driverId"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *int     `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"` // ms epoch, event time
}

func (m *LocationUpdateMsg) Kind() string { return MsgLocationUpdate }

// Location converts the wire sample into the domain type.
func (m *LocationUpdateMsg) Location() DriverLocation {
	return DriverLocation{
		DriverID:  m.DriverID,
		Lat:       m.Lat,
		Lng:       m.Lng,
		Heading:   m.Heading,
		Speed:     m.Speed,
		Accuracy:  m.Accuracy,
		Timestamp: time.UnixMilli(m.Timestamp),
	}
}

// StatusUpdateMsg carries a driver's online/availability state.
type StatusUpdateMsg struct {
	DriverID          string `json:"driverId"`
	IsOnline          bool   `json:"isOnline"`
	IsAvailable       bool   `json:"isAvailable"`
	BatteryLevel      *int   `json:"batteryLevel,omitempty"`
	ConnectionQuality string `json:"connectionQuality,omitempty"`
	Timestamp         int64  `json:"timestamp"`
}

func (m *StatusUpdateMsg) Kind() string { return MsgStatusUpdate }

// Status converts the wire sample into the domain type.
func (m *StatusUpdateMsg) Status() DriverStatus {
	return DriverStatus{
		DriverID:          m.DriverID,
		IsOnline:          m.IsOnline,
		IsAvailable:       m.IsAvailable,
		BatteryLevel:      m.BatteryLevel,
		ConnectionQuality: ConnectionQuality(m.ConnectionQuality),
		Timestamp:         time.UnixMilli(m.Timestamp),
	}
}

// DriverPresenceMsg is a driver_online or driver_offline event, optionally
// carrying a last location.
type DriverPresenceMsg struct {
	Type      string             `json:"type"`
	DriverID  string             `json:"driverId"`
	Timestamp int64              `json:"timestamp"`
	Location  *LocationUpdateMsg `json:"location,omitempty"`
}

func (m *DriverPresenceMsg) Kind() string { return m.Type }

// Online reports whether this is a driver_online event.
func (m *DriverPresenceMsg) Online() bool { return m.Type == MsgDriverOnline }

// NearbyResultMsg answers a find_nearby query.
type NearbyResultMsg struct {
	QueryID string              `json:"queryId"`
	Drivers []LocationUpdateMsg `json:"drivers"`
}

func (m *NearbyResultMsg) Kind() string { return MsgNearbyResult }

// PongMsg echoes a ping for round-trip latency measurement.
type PongMsg struct {
	ID     int64 `json:"id"`
	SentAt int64 `json:"sentAt"` // ms epoch, copied from the ping
}

func (m *PongMsg) Kind() string { return MsgPong }

// SubscribeMsg registers a session's interest scope on connect.
type SubscribeMsg struct {
	Type      string     `json:"type"`
	Role      ViewerRole `json:"role"`
	FleetID   string     `json:"fleetScope"`
	ZoneIDs   []string   `json:"zoneScope,omitempty"`
	DriverIDs []string   `json:"driverScope,omitempty"`
}

// PingMsg probes round-trip latency.
type PingMsg struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	SentAt int64  `json:"sentAt"`
}

// FindNearbyMsg asks the backend for drivers near a point.
type FindNearbyMsg struct {
	Type         string  `json:"type"`
	QueryID      string  `json:"queryId"`
	Center       LatLng  `json:"center"`
	RadiusMeters float64 `json:"radiusMeters"`
	Limit        int     `json:"limit"`
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses and validates one raw inbound frame into its tagged
// variant. Unrecognized or malformed frames yield a MalformedMessageError;
// callers drop the frame and keep going.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Kind: "unknown", Reason: err.Error()}
	}

	switch env.Type {
	case MsgLocationUpdate:
		var m LocationUpdateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		// A zero ms-epoch converts to 1970, not the zero time.Time, so the
		// Validate IsZero check below cannot catch an absent field.
		if m.Timestamp == 0 {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing timestamp"}
		}
		loc := m.Location()
		if err := loc.Validate(); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		return &m, nil

	case MsgStatusUpdate:
		var m StatusUpdateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		if m.DriverID == "" {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing driver id"}
		}
		if m.Timestamp == 0 {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing timestamp"}
		}
		if m.BatteryLevel != nil && (*m.BatteryLevel < 0 || *m.BatteryLevel > 100) {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "battery level out of range"}
		}
		return &m, nil

	case MsgDriverOnline, MsgDriverOffline:
		var m DriverPresenceMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		if m.DriverID == "" {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing driver id"}
		}
		if m.Timestamp == 0 {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing timestamp"}
		}
		if m.Location != nil {
			if m.Location.Timestamp == 0 {
				return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing location timestamp"}
			}
			loc := m.Location.Location()
			if err := loc.Validate(); err != nil {
				return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
			}
		}
		return &m, nil

	case MsgNearbyResult:
		var m NearbyResultMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		if m.QueryID == "" {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: "missing query id"}
		}
		return &m, nil

	case MsgPong:
		var m PongMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &MalformedMessageError{Kind: env.Type, Reason: err.Error()}
		}
		return &m, nil

	default:
		return nil, &MalformedMessageError{Kind: env.Type, Reason: "unrecognized message type"}
	}
}
