package models

// Intent is a heuristic classification of what a driver is currently doing.
type Intent string

const (
	IntentAvailable Intent = "available"
	IntentBusy      Intent = "busy"
	IntentEnRoute   Intent = "en_route"
	IntentReturning Intent = "returning"
	IntentOffline   Intent = "offline"
)

// IntentPriority is the fixed tie-break order used when two intents have the
// same member count in a cluster. Earlier wins.
var IntentPriority = []Intent{
	IntentAvailable,
	IntentEnRoute,
	IntentBusy,
	IntentReturning,
	IntentOffline,
}

// DriverIntentPrediction is a derived classification for one driver.
// It is recomputed from bounded rolling history and never persisted.
type DriverIntentPrediction struct {
	DriverID   string   `json:"driver_id"`
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"` // [0,1]
	ETAMinutes *float64 `json:"eta_minutes,omitempty"`
}
