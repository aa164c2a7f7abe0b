package intent

import (
	"gonum.org/v1/gonum/stat"

	"github.com/openfleet/dispatchmap/internal/models"
)

// Aggregate summarizes the member predictions of one cluster: per-intent
// counts, the dominant intent (count-max, ties broken by the fixed priority
// order), and the arithmetic mean confidence. Rebuilt in full on every
// clustering pass.
func Aggregate(preds []models.DriverIntentPrediction) models.ClusterMetrics {
	metrics := models.ClusterMetrics{
		Counts: make(map[models.Intent]int, len(models.IntentPriority)),
	}
	if len(preds) == 0 {
		return metrics
	}

	confidences := make([]float64, 0, len(preds))
	for _, p := range preds {
		metrics.Counts[p.Intent]++
		confidences = append(confidences, p.Confidence)
	}

	best := -1
	for _, intent := range models.IntentPriority {
		if n := metrics.Counts[intent]; n > best {
			best = n
			metrics.Dominant = intent
		}
	}

	metrics.AvgConfidence = stat.Mean(confidences, nil)
	return metrics
}
