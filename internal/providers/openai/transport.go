// internal/providers/openai/transport.go
// Package openai provides a Transport backed by an OpenAI-compatible chat completions API
// (vLLM, llama.cpp server, OpenAI).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providers"
)

const backendName = "openai"

// Options configures the transport.
type Options struct {
	BaseURL string
	// APIKey defaults to "EMPTY", which self-hosted servers accept.
	APIKey  string
	Timeout time.Duration
	// RequestOptions are appended to the client options, e.g. a custom HTTP client.
	RequestOptions []option.RequestOption
}

// Transport implements providers.Transport using the openai-go SDK.
type Transport struct {
	client  openai.Client
	timeout time.Duration
}

// New constructs a Transport. SDK retries are disabled so every turn is timed once.
func New(opts Options) *Transport {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = "EMPTY"
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(base))
	}
	clientOpts = append(clientOpts, opts.RequestOptions...)
	return &Transport{
		client:  openai.NewClient(clientOpts...),
		timeout: opts.Timeout,
	}
}

// SubmitTurn sends the history as a chat completion and forwards the reply.
func (t *Transport) SubmitTurn(ctx context.Context, req providers.TurnRequest, callbacks providers.StreamCallbacks) error {
	params, err := BuildParams(req)
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

func (t *Transport) stream(ctx context.Context, req providers.TurnRequest, params openai.ChatCompletionNewParams, callbacks providers.StreamCallbacks) error {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := t.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	model := req.Model
	var usage providers.Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = usageFrom(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := providers.EmitChunk(callbacks, chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return providers.Wrap(backendName, "stream chat completion", err)
	}

	logging.LogRequest("LLM->BENCH", backendName, model, usage)
	return providers.Complete(callbacks, providers.StreamMetadata{Model: model, Streamed: true, Usage: usage})
}

func (t *Transport) complete(ctx context.Context, req providers.TurnRequest, params openai.ChatCompletionNewParams, callbacks providers.StreamCallbacks) error {
	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return providers.Wrap(backendName, "create chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return providers.Wrap(backendName, "create chat completion", errors.New("response contained no choices"))
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	usage := usageFrom(resp.Usage)
	logging.LogRequest("LLM->BENCH", backendName, model, usage)

	if err := providers.EmitChunk(callbacks, resp.Choices[0].Message.Content); err != nil {
		return err
	}
	return providers.Complete(callbacks, providers.StreamMetadata{Model: model, Streamed: false, Usage: usage})
}

// Close releases any resources held by the transport.
func (t *Transport) Close() error {
	return nil
}

// BuildParams converts a turn request into chat completion parameters.
func BuildParams(req providers.TurnRequest) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History))
	for i, msg := range req.History {
		converted, err := toMessage(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, converted)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func toMessage(msg providers.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case providers.RoleSystem:
		return openai.SystemMessage(msg.Text()), nil
	case providers.RoleAssistant:
		return openai.AssistantMessage(msg.Text()), nil
	case providers.RoleUser, "":
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", msg.Role)
	}

	if !msg.HasImage() && len(msg.Blocks) == 1 {
		return openai.UserMessage(msg.Blocks[0].Text), nil
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case providers.BlockImage:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: b.ImageURL(),
			}))
		default:
			parts = append(parts, openai.TextContentPart(b.Text))
		}
	}
	return openai.UserMessage(parts), nil
}

func usageFrom(u openai.CompletionUsage) providers.Usage {
	return providers.Usage{
		InputTokens:          u.PromptTokens,
		OutputTokens:         u.CompletionTokens,
		CacheReadInputTokens: u.PromptTokensDetails.CachedTokens,
	}
}

