// internal/providers/anthropic/transport.go
// Package anthropic provides a Transport backed by the Anthropic Messages API,
// with optional prompt caching of the conversation prefix.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providers"
)

const backendName = "anthropic"

// Options configures the transport.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CacheHint marks the newest user block as an ephemeral cache breakpoint on every turn.
	CacheHint      bool
	RequestOptions []option.RequestOption
}

// Transport implements providers.Transport using the anthropic-sdk-go client.
type Transport struct {
	client    anthropic.Client
	timeout   time.Duration
	cacheHint bool
}

// New constructs a Transport with SDK retries disabled.
func New(opts Options) *Transport {
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(base))
	}
	clientOpts = append(clientOpts, opts.RequestOptions...)
	return &Transport{
		client:    anthropic.NewClient(clientOpts...),
		timeout:   opts.Timeout,
		cacheHint: opts.CacheHint,
	}
}

// SubmitTurn sends the history to the Messages API and forwards the reply.
func (t *Transport) SubmitTurn(ctx context.Context, req providers.TurnRequest, callbacks providers.StreamCallbacks) error {
	history := req.History
	if t.cacheHint {
		history = providers.WithCacheHint(history)
	}
	params, err := BuildParams(req, history)
	if err != nil {
		return providers.Wrap(backendName, "build request", err)
	}
	logging.LogRequest("BENCH->LLM", backendName, req.Model, providers.Describe(req))

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if req.Stream {
		return t.stream(ctx, req, params, callbacks)
	}
	return t.complete(ctx, req, params, callbacks)
}

func (t *Transport) stream(ctx context.Context, req providers.TurnRequest, params anthropic.MessageNewParams, callbacks providers.StreamCallbacks) error {
	stream := t.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	model := req.Model
	var usage providers.Usage
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			if ev.Message.Model != "" {
				model = string(ev.Message.Model)
			}
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CacheCreationInputTokens = ev.Message.Usage.CacheCreationInputTokens
			usage.CacheReadInputTokens = ev.Message.Usage.CacheReadInputTokens
			usage.OutputTokens = ev.Message.Usage.OutputTokens
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				if err := providers.EmitChunk(callbacks, delta.Text); err != nil {
					return err
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.OutputTokens = ev.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return providers.Wrap(backendName, "stream message", err)
	}

	logging.LogRequest("LLM->BENCH", backendName, model, usage)
	return providers.Complete(callbacks, providers.StreamMetadata{Model: model, Streamed: true, Usage: usage})
}

func (t *Transport) complete(ctx context.Context, req providers.TurnRequest, params anthropic.MessageNewParams, callbacks providers.StreamCallbacks) error {
	msg, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return providers.Wrap(backendName, "create message", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := providers.Usage{
		InputTokens:              msg.Usage.InputTokens,
		OutputTokens:             msg.Usage.OutputTokens,
		CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
	}
	model := string(msg.Model)
	if model == "" {
		model = req.Model
	}
	logging.LogRequest("LLM->BENCH", backendName, model, usage)

	if err := providers.EmitChunk(callbacks, text.String()); err != nil {
		return err
	}
	return providers.Complete(callbacks, providers.StreamMetadata{Model: model, Streamed: false, Usage: usage})
}

// Close releases any resources held by the transport.
func (t *Transport) Close() error {
	return nil
}

// BuildParams converts history into Messages API parameters. System messages
// are lifted into the top-level system prompt.
func BuildParams(req providers.TurnRequest, history []providers.Message) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	for i, msg := range history {
		switch msg.Role {
		case providers.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Text()})
		case providers.RoleUser, "":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(toBlocks(msg.Blocks)...))
		case providers.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(toBlocks(msg.Blocks)...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}
	return params, nil
}

func toBlocks(blocks []providers.Block) []anthropic.ContentBlockParamUnion {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		var block anthropic.ContentBlockParamUnion
		switch b.Type {
		case providers.BlockImage:
			if b.URL != "" && len(b.Data) == 0 {
				block = anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: b.URL})
			} else {
				mediaType := b.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				block = anthropic.NewImageBlockBase64(mediaType, b.Base64())
			}
			if b.CacheHint && block.OfImage != nil {
				block.OfImage.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
		default:
			block = anthropic.NewTextBlock(b.Text)
			if b.CacheHint && block.OfText != nil {
				block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
		}
		out = append(out, block)
	}
	return out
}
