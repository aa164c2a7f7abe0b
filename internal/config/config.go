package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/openfleet/dispatchmap/internal/models"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Tracking backend
	BackendURL  string
	FleetID     string
	Role        models.ViewerRole
	ZoneScope   []string
	DriverScope []string

	// Connection
	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	PingInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	QueueCap             int
	RTTWindow            int
	GoodLatency          time.Duration
	PoorLatency          time.Duration
	GapThreshold         time.Duration

	// Store
	StalenessWindow time.Duration
	HistoryDepth    int
	HistoryWindow   time.Duration
	Smoothing       bool
	SmoothingFactor float64

	// Derived view
	FrameInterval time.Duration // recompute debounce
	DefaultZoom   float64

	// Intent heuristics
	EnRouteSpeedMin     float64 // m/s
	MovingSpeedMax      float64 // m/s
	HeadingStabilityMin float64
	StatusSettleWindow  time.Duration
	ReturnBases         []models.LatLng
}

func Load() (*Config, error) {
	// Optional .env file.
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:  getEnv("PORT", "4000"),
		Debug:       getEnvBool("DEBUG", false),
		BackendURL:  getEnv("BACKEND_URL", "ws://localhost:9000/stream"),
		FleetID:     getEnv("FLEET_ID", "default"),
		Role:        models.ViewerRole(getEnv("VIEWER_ROLE", string(models.RoleDispatcher))),
		ZoneScope:   getEnvCSV("ZONE_SCOPE"),
		DriverScope: getEnvCSV("DRIVER_SCOPE"),

		DialTimeout:          getEnvDuration("DIAL_TIMEOUT", 10*time.Second),
		ReadTimeout:          getEnvDuration("READ_TIMEOUT", 60*time.Second),
		PingInterval:         getEnvDuration("PING_INTERVAL", 5*time.Second),
		ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", 1*time.Second),
		MaxReconnectDelay:    getEnvDuration("MAX_RECONNECT_DELAY", 30*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 0), // 0 = forever
		QueueCap:             getEnvInt("OUTBOUND_QUEUE_CAP", 256),
		RTTWindow:            getEnvInt("RTT_WINDOW", 10),
		GoodLatency:          getEnvDuration("GOOD_LATENCY", 150*time.Millisecond),
		PoorLatency:          getEnvDuration("POOR_LATENCY", 400*time.Millisecond),
		GapThreshold:         getEnvDuration("GAP_THRESHOLD", 15*time.Second),

		StalenessWindow: getEnvDuration("STALENESS_WINDOW", 60*time.Second),
		HistoryDepth:    getEnvInt("HISTORY_DEPTH", 30),
		HistoryWindow:   getEnvDuration("HISTORY_WINDOW", 5*time.Minute),
		Smoothing:       getEnvBool("SMOOTHING", true),
		SmoothingFactor: getEnvFloat("SMOOTHING_FACTOR", 0.35),

		FrameInterval: getEnvDuration("FRAME_INTERVAL", 16*time.Millisecond),
		DefaultZoom:   getEnvFloat("DEFAULT_ZOOM", 12),

		EnRouteSpeedMin:     getEnvFloat("EN_ROUTE_SPEED_MIN", 5.0),
		MovingSpeedMax:      getEnvFloat("MOVING_SPEED_MAX", 1.5),
		HeadingStabilityMin: getEnvFloat("HEADING_STABILITY_MIN", 0.8),
		StatusSettleWindow:  getEnvDuration("STATUS_SETTLE_WINDOW", 30*time.Second),
		ReturnBases:         parseBases(getEnv("RETURN_BASES", "")),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvCSV(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBases reads "lat,lng;lat,lng" into coordinates, skipping bad pairs.
func parseBases(value string) []models.LatLng {
	if value == "" {
		return nil
	}
	var bases []models.LatLng
	for _, pair := range strings.Split(value, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		p := models.LatLng{Lat: lat, Lng: lng}
		if p.Valid() {
			bases = append(bases, p)
		}
	}
	return bases
}
