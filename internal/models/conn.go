package models

// ConnectionState is the lifecycle state of the backend channel.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// ConnectionQuality is derived client-side from round-trip latency and
// message arrival gaps; the server never transmits it.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityOffline   ConnectionQuality = "offline"
)

// ViewerRole scopes a session's interest registration.
type ViewerRole string

const (
	RoleDispatcher ViewerRole = "dispatcher"
	RoleAdmin      ViewerRole = "admin"
)
