package models

// BoundingBox is the geographic region covering a cluster's members.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Extend grows the box to include the given point.
func (b *BoundingBox) Extend(lat, lng float64) {
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
	if lng < b.MinLng {
		b.MinLng = lng
	}
	if lng > b.MaxLng {
		b.MaxLng = lng
	}
}

// NewBoundingBox returns a box containing exactly the given point.
func NewBoundingBox(lat, lng float64) BoundingBox {
	return BoundingBox{MinLat: lat, MinLng: lng, MaxLat: lat, MaxLng: lng}
}

// ClusterMetrics summarizes the intents of a cluster's members.
type ClusterMetrics struct {
	Counts        map[Intent]int `json:"counts"`
	Dominant      Intent         `json:"dominant"`
	AvgConfidence float64        `json:"avg_confidence"`
}

// ClusterData is a derived group of spatially near drivers. Clusters are
// ephemeral view artifacts: rebuilt in full on every pass, and the ID is not
// stable across passes even when membership is unchanged.
type ClusterData struct {
	ID          string                   `json:"id"`
	Center      LatLng                   `json:"center"`
	Members     []DriverLocation         `json:"members"`
	Predictions []DriverIntentPrediction `json:"predictions"`
	Metrics     ClusterMetrics           `json:"metrics"`
	Bounds      BoundingBox              `json:"bounds"`
}

// Size returns the member count.
func (c *ClusterData) Size() int { return len(c.Members) }
