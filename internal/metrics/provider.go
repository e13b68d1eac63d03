// internal/metrics/provider.go
package metrics

import (
	"context"
	"time"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providers"
)

// Transport is a decorator that wraps a providers.Transport to record metrics.
type Transport struct {
	wrapped    providers.Transport
	backend    string
	collectors *Collectors
	aggregator *Aggregator
}

// NewTransport wraps a transport. Either sink may be nil.
func NewTransport(wrapped providers.Transport, backend string, collectors *Collectors, aggregator *Aggregator) *Transport {
	logging.LogEvent("[METRICS] Wrapping %s transport with metrics", backend)
	return &Transport{wrapped: wrapped, backend: backend, collectors: collectors, aggregator: aggregator}
}

// SubmitTurn intercepts the wrapped transport's callbacks to time the turn.
func (t *Transport) SubmitTurn(ctx context.Context, req providers.TurnRequest, callbacks providers.StreamCallbacks) error {
	start := time.Now()
	var firstChunk time.Time
	completed := false

	onChunk := func(fragment string) error {
		if firstChunk.IsZero() {
			firstChunk = time.Now()
		}
		if callbacks.OnChunk != nil {
			return callbacks.OnChunk(fragment)
		}
		return nil
	}

	onComplete := func(meta providers.StreamMetadata) error {
		completed = true
		obs := Observation{Backend: t.backend, Model: req.Model, TTC: time.Since(start), Usage: meta.Usage}
		if meta.Streamed && !firstChunk.IsZero() {
			obs.TTFT = firstChunk.Sub(start)
		}
		t.record(obs)
		if callbacks.OnComplete != nil {
			return callbacks.OnComplete(meta)
		}
		return nil
	}

	err := t.wrapped.SubmitTurn(ctx, req, providers.StreamCallbacks{OnChunk: onChunk, OnComplete: onComplete})
	if err != nil && !completed {
		t.record(Observation{Backend: t.backend, Model: req.Model, TTC: time.Since(start), Err: err})
	}
	return err
}

func (t *Transport) record(obs Observation) {
	if t.collectors != nil {
		t.collectors.Observe(obs)
	}
	if t.aggregator != nil {
		t.aggregator.Record(obs)
	}
}

// Prepare passes the call through when the wrapped transport supports it.
func (t *Transport) Prepare(ctx context.Context, model string) error {
	if p, ok := t.wrapped.(providers.Preparer); ok {
		return p.Prepare(ctx, model)
	}
	return nil
}

// Close passes the call through to the wrapped transport.
func (t *Transport) Close() error {
	return t.wrapped.Close()
}
