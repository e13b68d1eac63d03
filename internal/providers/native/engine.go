// internal/providers/native/engine.go
package native

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/vlmbench/internal/logging"
)

// GenerateRequest is one raw-prompt generation call against a native engine.
type GenerateRequest struct {
	Model  string
	Prompt string
	// Image is nil when the engine is expected to reuse the cached image for CacheID.
	Image       []byte
	CacheID     string
	MaxTokens   int
	Temperature *float64
}

// Engine is a locally hosted inference engine that takes flattened prompts and
// caches multi-modal inputs by identifier.
type Engine interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// HTTPEngine talks to an engine sidecar over HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPEngine constructs an HTTPEngine rooted at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		timeout: timeout,
	}
}

type generatePayload struct {
	Model          string            `json:"model"`
	Prompt         string            `json:"prompt"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    *float64          `json:"temperature,omitempty"`
	MultiModalData map[string]any    `json:"multi_modal_data,omitempty"`
	MultiModalIDs  map[string]string `json:"multi_modal_uuids,omitempty"`
}

type generateResponse struct {
	Text    *string `json:"text"`
	Outputs []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

// Generate POSTs the prompt to /generate and returns the generated text.
func (e *HTTPEngine) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	payload := generatePayload{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.CacheID != "" || req.Image != nil {
		var image any
		if req.Image != nil {
			image = base64.StdEncoding.EncodeToString(req.Image)
		}
		payload.MultiModalData = map[string]any{"image": image}
	}
	if req.CacheID != "" {
		payload.MultiModalIDs = map[string]string{"image": req.CacheID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	logging.LogRequest("BENCH->ENGINE", e.baseURL, req.Model, map[string]any{
		"prompt_chars": len(req.Prompt),
		"image_bytes":  len(req.Image),
		"cache_id":     req.CacheID,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	logging.LogRequest("ENGINE->BENCH", e.baseURL, req.Model, raw)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine: /generate returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("engine: decode /generate response: %w", err)
	}
	if parsed.Text != nil {
		return *parsed.Text, nil
	}
	if len(parsed.Outputs) > 0 {
		return parsed.Outputs[0].Text, nil
	}
	return "", fmt.Errorf("engine: /generate response contained no text")
}
