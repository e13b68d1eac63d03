// internal/metrics/aggregator.go
package metrics

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providers"
	"github.com/mwiater/vlmbench/internal/util"
)

// Aggregator keeps running per-model turn statistics in memory.
type Aggregator struct {
	mutex   sync.Mutex
	metrics map[string]*ModelMetrics
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{metrics: make(map[string]*ModelMetrics)}
}

// Observation is one finished turn as seen by the transport decorator.
type Observation struct {
	Backend string
	Model   string
	// TTFT is zero when the turn was not streamed.
	TTFT  time.Duration
	TTC   time.Duration
	Usage providers.Usage
	Err   error
}

// Record folds one observation into the model's running stats.
func (a *Aggregator) Record(obs Observation) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := obs.Backend + "|" + obs.Model
	m, exists := a.metrics[key]
	if !exists {
		m = &ModelMetrics{Backend: obs.Backend, ModelName: obs.Model}
		a.metrics[key] = m
	}
	m.LastUpdatedUTC = time.Now().UTC()

	if obs.Err != nil {
		m.Stats.FailedTurns++
		return
	}
	m.Stats.TotalTurns++
	if obs.TTFT > 0 {
		updateRunningStat(&m.Stats.TTFTSeconds, obs.TTFT.Seconds())
	}
	updateRunningStat(&m.Stats.TTCSeconds, obs.TTC.Seconds())
	updateRunningStat(&m.Stats.InputTokens, float64(obs.Usage.InputTokens))
	updateRunningStat(&m.Stats.OutputTokens, float64(obs.Usage.OutputTokens))
}

// Snapshot returns a copy of all model metrics ordered by backend and model.
func (a *Aggregator) Snapshot() []ModelMetrics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]ModelMetrics, 0, len(a.metrics))
	for _, m := range a.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Backend != out[j].Backend {
			return out[i].Backend < out[j].Backend
		}
		return out[i].ModelName < out[j].ModelName
	})
	return out
}

// Save writes the snapshot as indented JSON.
func (a *Aggregator) Save(path string) error {
	logging.LogEvent("[METRICS] Saving metrics to %s", path)
	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// updateRunningStat updates a single running statistic using Welford's online algorithm.
func updateRunningStat(rs *RunningStat, value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		if value < rs.Min {
			rs.Min = value
		}
		if value > rs.Max {
			rs.Max = value
		}
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

// StdDev returns the sample standard deviation.
func (rs RunningStat) StdDev() float64 {
	if rs.Count < 2 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count-1))
}
