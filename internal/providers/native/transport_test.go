// internal/providers/native/transport_test.go
package native

import (
	"context"
	"errors"
	"testing"

	"github.com/mwiater/vlmbench/internal/providers"
)

type fakeEngine struct {
	calls   []GenerateRequest
	reply   string
	err     error
	prepped string
}

func (f *fakeEngine) Generate(_ context.Context, req GenerateRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func (f *fakeEngine) Prepare(_ context.Context, model string) error {
	f.prepped = model
	return nil
}

func imageTurn(cacheID, question string) providers.Message {
	return providers.Message{Role: providers.RoleUser, Blocks: []providers.Block{
		{Type: providers.BlockImage, MediaType: "image/jpeg", Data: []byte(cacheID), CacheID: cacheID},
		{Type: providers.BlockText, Text: question},
	}}
}

func TestBuildPrompt(t *testing.T) {
	history := []providers.Message{
		imageTurn("a", "What is this?"),
		providers.TextMessage(providers.RoleAssistant, "A dog."),
		imageTurn("b", "Where?"),
	}
	want := "USER: <image>\nWhat is this?\nASSISTANT: A dog.\nUSER: <image>\nWhere?\nASSISTANT:"
	if got := BuildPrompt(history); got != want {
		t.Fatalf("BuildPrompt = %q, want %q", got, want)
	}
}

func TestBuildPromptTextTurns(t *testing.T) {
	history := []providers.Message{providers.TextMessage(providers.RoleUser, "doc\n\n --- \n\nSummarize.")}
	want := "USER: doc\n\n --- \n\nSummarize.\nASSISTANT:"
	if got := BuildPrompt(history); got != want {
		t.Fatalf("BuildPrompt = %q, want %q", got, want)
	}
}

func TestSubmitTurnSendsImageOncePerCacheID(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	tr := New(engine, 0)

	var history []providers.Message
	for _, id := range []string{"a", "a", "b", "a"} {
		history = append(history, imageTurn(id, "q"))
		var meta providers.StreamMetadata
		var got string
		err := tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m", History: history, MaxTokens: 8}, providers.StreamCallbacks{
			OnChunk:    func(s string) error { got += s; return nil },
			OnComplete: func(m providers.StreamMetadata) error { meta = m; return nil },
		})
		if err != nil {
			t.Fatalf("SubmitTurn: %v", err)
		}
		if got != "ok" || meta.Streamed {
			t.Fatalf("unexpected reply %q streamed=%v", got, meta.Streamed)
		}
		history = append(history, providers.TextMessage(providers.RoleAssistant, got))
	}

	wantPayload := []bool{true, false, true, false}
	for i, call := range engine.calls {
		if (call.Image != nil) != wantPayload[i] {
			t.Fatalf("call %d: image payload present=%v, want %v", i, call.Image != nil, wantPayload[i])
		}
		if call.CacheID == "" {
			t.Fatalf("call %d: missing cache id", i)
		}
	}
}

func TestSubmitTurnEngineFailureDoesNotMarkSeen(t *testing.T) {
	engine := &fakeEngine{err: errors.New("oom")}
	tr := New(engine, 0)
	history := []providers.Message{imageTurn("a", "q")}

	err := tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m", History: history}, providers.StreamCallbacks{})
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Backend != "native" {
		t.Fatalf("expected native TransportError, got %v", err)
	}

	engine.err = nil
	if err := tr.SubmitTurn(context.Background(), providers.TurnRequest{Model: "m", History: history}, providers.StreamCallbacks{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if engine.calls[1].Image == nil {
		t.Fatal("expected payload to be resent after failed first attempt")
	}
}

func TestSubmitTurnRejectsHistoryWithoutUserTurn(t *testing.T) {
	tr := New(&fakeEngine{}, 0)
	if err := tr.SubmitTurn(context.Background(), providers.TurnRequest{}, providers.StreamCallbacks{}); err == nil {
		t.Fatal("expected error for empty history")
	}
}

func TestPrepareDelegatesToEngine(t *testing.T) {
	engine := &fakeEngine{}
	tr := New(engine, 0)
	if err := tr.Prepare(context.Background(), "qwen"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if engine.prepped != "qwen" {
		t.Fatalf("expected engine Prepare to be called, got %q", engine.prepped)
	}
}
