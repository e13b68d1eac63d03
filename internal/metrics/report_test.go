package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildReportRanksByMeanLatency(t *testing.T) {
	agg := NewAggregator()
	for _, ttc := range []time.Duration{400 * time.Millisecond, 600 * time.Millisecond} {
		agg.Record(Observation{Backend: "openai", Model: "slow", TTFT: 200 * time.Millisecond, TTC: ttc})
	}
	agg.Record(Observation{Backend: "openai", Model: "fast", TTFT: 50 * time.Millisecond, TTC: 100 * time.Millisecond})
	agg.Record(Observation{Backend: "native", Model: "batch", TTC: 300 * time.Millisecond})
	agg.Record(Observation{Backend: "native", Model: "batch", Err: errors.New("timeout")})

	r := BuildReport(agg.Snapshot())

	require.Len(t, r.Rankings.ByTTFT, 2, "unstreamed model has no TTFT rank")
	require.Equal(t, "fast", r.Rankings.ByTTFT[0].ModelName)
	require.Equal(t, 1, r.Rankings.ByTTFT[0].Rank)

	require.Len(t, r.Rankings.ByTTC, 3)
	require.Equal(t, []string{"fast", "batch", "slow"}, []string{
		r.Rankings.ByTTC[0].ModelName, r.Rankings.ByTTC[1].ModelName, r.Rankings.ByTTC[2].ModelName,
	})
	require.InDelta(t, 0.5, r.Rankings.ByTTC[2].Value, 1e-9)

	joined := strings.Join(r.Notes, "\n")
	require.Contains(t, joined, "Lowest mean time to first token: fast")
	require.Contains(t, joined, "batch had 1 failed turns")
}

func TestSnapshotRoundTripKeepsVariance(t *testing.T) {
	agg := NewAggregator()
	for _, ttc := range []time.Duration{time.Second, 3 * time.Second} {
		agg.Record(Observation{Backend: "openai", Model: "m", TTC: ttc})
	}
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, agg.Save(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.InDelta(t, agg.Snapshot()[0].Stats.TTCSeconds.StdDev(), loaded[0].Stats.TTCSeconds.StdDev(), 1e-9)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestWriteReportRendersModels(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Observation{Backend: "openai", Model: "Qwen/Qwen2.5-VL-7B-Instruct", TTFT: 80 * time.Millisecond, TTC: 900 * time.Millisecond})
	agg.Record(Observation{Backend: "native", Model: "<script>", TTC: time.Second})

	path := filepath.Join(t.TempDir(), "out", "report.html")
	require.NoError(t, WriteReport(path, BuildReport(agg.Snapshot())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	require.Contains(t, html, "Qwen/Qwen2.5-VL-7B-Instruct")
	require.Contains(t, html, "0.080s")
	require.Contains(t, html, "not streamed")
	require.NotContains(t, html, "<td><script></td>")
	require.Contains(t, html, "&lt;script&gt;")
}
