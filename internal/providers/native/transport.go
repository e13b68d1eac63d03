// internal/providers/native/transport.go
// Package native provides a Transport for locally hosted inference engines that
// accept a flattened text prompt and cache image inputs by identifier.
package native

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mwiater/vlmbench/internal/providers"
)

const (
	backendName = "native"
	imageToken  = "<image>\n"
)

// Transport implements providers.Transport on top of an Engine. Only time to
// completion is observable: the engine returns the whole reply at once.
type Transport struct {
	engine  Engine
	timeout time.Duration
	// seen tracks cache identifiers whose image payload was already sent.
	seen map[string]bool
}

// New wraps engine in a Transport.
func New(engine Engine, timeout time.Duration) *Transport {
	return &Transport{engine: engine, timeout: timeout, seen: map[string]bool{}}
}

// SubmitTurn flattens the history into a prompt and generates the reply.
func (t *Transport) SubmitTurn(ctx context.Context, req providers.TurnRequest, callbacks providers.StreamCallbacks) error {
	if len(req.History) == 0 || req.History[len(req.History)-1].Role != providers.RoleUser {
		return providers.Wrap(backendName, "build prompt", errors.New("history must end with a user message"))
	}

	genReq := GenerateRequest{
		Model:       req.Model,
		Prompt:      BuildPrompt(req.History),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if img, ok := lastImage(req.History[len(req.History)-1]); ok {
		genReq.CacheID = img.CacheID
		if img.CacheID == "" || !t.seen[img.CacheID] {
			genReq.Image = img.Data
		}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	text, err := t.engine.Generate(ctx, genReq)
	if err != nil {
		return providers.Wrap(backendName, "generate", err)
	}
	if genReq.CacheID != "" {
		t.seen[genReq.CacheID] = true
	}

	if err := providers.EmitChunk(callbacks, text); err != nil {
		return err
	}
	return providers.Complete(callbacks, providers.StreamMetadata{Model: req.Model, Streamed: false})
}

// Prepare forwards to the engine when it supports model loading.
func (t *Transport) Prepare(ctx context.Context, model string) error {
	p, ok := t.engine.(providers.Preparer)
	if !ok {
		return nil
	}
	return providers.Wrap(backendName, "prepare", p.Prepare(ctx, model))
}

// Close releases any resources held by the transport.
func (t *Transport) Close() error {
	return nil
}

// BuildPrompt renders history as USER:/ASSISTANT: lines ending with an open
// assistant turn. User turns with an image carry the image placeholder.
func BuildPrompt(history []providers.Message) string {
	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case providers.RoleAssistant:
			b.WriteString("ASSISTANT: ")
			b.WriteString(msg.Text())
			b.WriteString("\n")
		default:
			b.WriteString("USER: ")
			if msg.HasImage() {
				b.WriteString(imageToken)
			}
			b.WriteString(msg.Text())
			b.WriteString("\n")
		}
	}
	b.WriteString("ASSISTANT:")
	return b.String()
}

func lastImage(msg providers.Message) (providers.Block, bool) {
	for i := len(msg.Blocks) - 1; i >= 0; i-- {
		if msg.Blocks[i].Type == providers.BlockImage {
			return msg.Blocks[i], true
		}
	}
	return providers.Block{}, false
}
