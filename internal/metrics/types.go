// internal/metrics/types.go
package metrics

import "time"

// ModelMetrics is the aggregated document for a single backend/model pair.
type ModelMetrics struct {
	Backend        string                 `json:"backend"`
	ModelName      string                 `json:"model_name"`
	LastUpdatedUTC time.Time              `json:"last_updated_utc"`
	Stats          RunningAggregatedStats `json:"stats"`
}

// RunningAggregatedStats stores the running statistical values for a set of turns.
type RunningAggregatedStats struct {
	TotalTurns  int64 `json:"total_turns"`
	FailedTurns int64 `json:"failed_turns"`

	TTFTSeconds  RunningStat `json:"ttft_seconds"`
	TTCSeconds   RunningStat `json:"ttc_seconds"`
	InputTokens  RunningStat `json:"input_tokens"`
	OutputTokens RunningStat `json:"output_tokens"`
}

// RunningStat holds the values for online calculation of mean, variance and stddev.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // sum of squares of differences from the current mean
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}
