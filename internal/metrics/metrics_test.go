package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/vlmbench/internal/providers"
)

type scriptedTransport struct {
	chunks   []string
	streamed bool
	usage    providers.Usage
	err      error
	closed   bool
}

func (s *scriptedTransport) SubmitTurn(_ context.Context, req providers.TurnRequest, cb providers.StreamCallbacks) error {
	if s.err != nil {
		return s.err
	}
	for _, c := range s.chunks {
		time.Sleep(time.Millisecond)
		if err := providers.EmitChunk(cb, c); err != nil {
			return err
		}
	}
	return providers.Complete(cb, providers.StreamMetadata{Model: req.Model, Streamed: s.streamed, Usage: s.usage})
}

func (s *scriptedTransport) Close() error { s.closed = true; return nil }

func TestTransportRecordsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollectors(reg)
	agg := NewAggregator()
	inner := &scriptedTransport{chunks: []string{"a", "b"}, streamed: true, usage: providers.Usage{InputTokens: 10, OutputTokens: 2}}
	tr := NewTransport(inner, "openai", col, agg)

	var got []string
	err := tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m"}, providers.StreamCallbacks{
		OnChunk: func(s string) error { got = append(got, s); return nil },
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)

	exposition := scrape(t, reg)
	require.Contains(t, exposition, `vlmbench_turns_total{backend="openai",model="m",status="ok"} 1`)
	require.Contains(t, exposition, `vlmbench_tokens_total{backend="openai",kind="input",model="m"} 10`)

	snap := agg.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, int64(1), snap[0].Stats.TotalTurns)
	require.Equal(t, int64(1), snap[0].Stats.TTFTSeconds.Count)
	require.LessOrEqual(t, snap[0].Stats.TTFTSeconds.Mean, snap[0].Stats.TTCSeconds.Mean)

	require.NoError(t, tr.Close())
	require.True(t, inner.closed)
}

func TestTransportRecordsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollectors(reg)
	agg := NewAggregator()
	boom := errors.New("boom")
	tr := NewTransport(&scriptedTransport{err: boom}, "anthropic", col, agg)

	err := tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m"}, providers.StreamCallbacks{})
	require.ErrorIs(t, err, boom)
	require.Contains(t, scrape(t, reg), `vlmbench_turns_total{backend="anthropic",model="m",status="error"} 1`)
	require.Equal(t, int64(1), agg.Snapshot()[0].Stats.FailedTurns)
}

func TestTransportNonStreamedSkipsTTFT(t *testing.T) {
	agg := NewAggregator()
	tr := NewTransport(&scriptedTransport{chunks: []string{"whole reply"}}, "native", nil, agg)
	require.NoError(t, tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m"}, providers.StreamCallbacks{}))

	stats := agg.Snapshot()[0].Stats
	require.Zero(t, stats.TTFTSeconds.Count)
	require.Equal(t, int64(1), stats.TTCSeconds.Count)
}

func TestRunningStat(t *testing.T) {
	var rs RunningStat
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		updateRunningStat(&rs, v)
	}
	require.Equal(t, int64(8), rs.Count)
	require.InDelta(t, 5.0, rs.Mean, 1e-9)
	require.Equal(t, 2.0, rs.Min)
	require.Equal(t, 9.0, rs.Max)
	require.InDelta(t, 2.138, rs.StdDev(), 1e-3)
}

func TestAggregatorSave(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Observation{Backend: "b", Model: "m", TTC: time.Second})
	path := filepath.Join(t.TempDir(), "out", "metrics.json")
	require.NoError(t, agg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"model_name": "m"`)
}

func TestHandlerServesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollectors(reg)
	col.ConnectionOpened()
	col.ProxyRequest("complete")

	body := scrape(t, reg)
	require.True(t, strings.Contains(body, "vlmbench_proxy_active_connections 1"))
	require.Contains(t, body, `vlmbench_proxy_requests_total{outcome="complete"} 1`)
}

func scrape(t *testing.T, g prometheus.Gatherer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(g).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
