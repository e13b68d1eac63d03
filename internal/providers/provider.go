// internal/providers/provider.go

// Package providers defines the transport abstraction the benchmark drives.
// A Transport submits one conversation turn to an inference backend and reports
// streamed fragments and completion metadata through callbacks, regardless of
// the wire protocol underneath (OpenAI-compatible, Anthropic, native engine).
package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BlockType distinguishes text content from image content.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// Block is one ordered content element of a message.
type Block struct {
	Type BlockType
	Text string
	// Image payload: raw bytes plus media type, or a URL passed through as is.
	MediaType string
	Data      []byte
	URL       string
	// CacheID identifies the image across turns for engines that cache encoded inputs.
	CacheID string
	// CacheHint asks the backend to cache the prompt prefix ending at this block.
	CacheHint bool
}

// Message represents a single message in a conversation.
type Message struct {
	Role   string
	Blocks []Block
}

// TextMessage builds a message with a single text block.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasImage reports whether the message carries an image block.
func (m Message) HasImage() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

// Base64 returns the image payload base64-encoded.
func (b Block) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// ImageURL returns the pass-through URL or a data URL built from the payload.
func (b Block) ImageURL() string {
	if b.URL != "" {
		return b.URL
	}
	mt := b.MediaType
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + b.Base64()
}

// TurnRequest encapsulates everything needed to submit one turn.
type TurnRequest struct {
	Model       string
	History     []Message
	MaxTokens   int
	// Temperature is nil when the backend default applies.
	Temperature *float64
	Stream      bool
}

// Usage holds the token counters a backend reported for a turn. Zero means not reported.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Add accumulates another turn's counters.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
}

// StreamMetadata describes a completed turn.
type StreamMetadata struct {
	Model     string
	CreatedAt time.Time
	// Streamed is true when fragments arrived incrementally, making TTFT meaningful.
	Streamed bool
	Usage    Usage
}

// StreamCallbacks defines the callback functions that are invoked during a turn.
// OnChunk is called for each non-empty fragment in arrival order, and OnComplete
// once when the turn is finished.
type StreamCallbacks struct {
	OnChunk    func(string) error
	OnComplete func(StreamMetadata) error
}

// Transport is the interface every backend adapter implements.
type Transport interface {
	// SubmitTurn sends the full history and reports the assistant reply through callbacks.
	SubmitTurn(ctx context.Context, req TurnRequest, callbacks StreamCallbacks) error
	// Close cleans up any resources used by the transport.
	Close() error
}

// Preparer is implemented by transports that can warm a model before the first turn.
type Preparer interface {
	Prepare(ctx context.Context, model string) error
}

// TransportError wraps a backend failure with the backend and operation that produced it.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Wrap returns err as a *TransportError, leaving nil and already wrapped errors untouched.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TransportError); ok {
		return te
	}
	return &TransportError{Backend: backend, Op: op, Err: err}
}

// WithCacheHint returns a deep copy of history in which only the final content
// block of the most recent user message carries the cache hint. The input is
// never modified.
func WithCacheHint(history []Message) []Message {
	out := make([]Message, len(history))
	lastUser := -1
	for i, msg := range history {
		blocks := make([]Block, len(msg.Blocks))
		for j, b := range msg.Blocks {
			b.CacheHint = false
			if b.Data != nil {
				b.Data = append([]byte(nil), b.Data...)
			}
			blocks[j] = b
		}
		out[i] = Message{Role: msg.Role, Blocks: blocks}
		if msg.Role == RoleUser && len(blocks) > 0 {
			lastUser = i
		}
	}
	if lastUser >= 0 {
		blocks := out[lastUser].Blocks
		blocks[len(blocks)-1].CacheHint = true
	}
	return out
}

// Describe summarizes a turn request for logging without image payloads.
func Describe(req TurnRequest) map[string]any {
	images := 0
	for _, m := range req.History {
		for _, b := range m.Blocks {
			if b.Type == BlockImage {
				images++
			}
		}
	}
	summary := map[string]any{
		"model":      req.Model,
		"messages":   len(req.History),
		"images":     images,
		"max_tokens": req.MaxTokens,
		"stream":     req.Stream,
	}
	if req.Temperature != nil {
		summary["temperature"] = *req.Temperature
	}
	return summary
}

// EmitChunk forwards a fragment to OnChunk unless it is empty or no callback is set.
func EmitChunk(callbacks StreamCallbacks, fragment string) error {
	if fragment == "" || callbacks.OnChunk == nil {
		return nil
	}
	return callbacks.OnChunk(fragment)
}

// Complete invokes OnComplete when set.
func Complete(callbacks StreamCallbacks, meta StreamMetadata) error {
	if callbacks.OnComplete == nil {
		return nil
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	return callbacks.OnComplete(meta)
}
