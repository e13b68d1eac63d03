package proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mwiater/vlmbench/internal/providers"
)

// Event types sent to WebSocket clients.
const (
	EventToken    = "token"
	EventComplete = "complete"
	EventError    = "error"
)

// Request is a client message: an OpenAI-shaped conversation plus optional overrides.
type Request struct {
	Messages  []WireMessage `json:"messages"`
	Model     string        `json:"model,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// WireMessage carries content as either a string or an array of parts.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Event is a server message.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

type wirePart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

const requestSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "model": {"type": "string", "minLength": 1},
    "max_tokens": {"type": "integer", "minimum": 1},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["system", "user", "assistant"]},
          "content": {
            "oneOf": [
              {"type": "string"},
              {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["type"],
                  "properties": {
                    "type": {"enum": ["text", "image_url"]},
                    "text": {"type": "string"},
                    "image_url": {
                      "type": "object",
                      "required": ["url"],
                      "properties": {"url": {"type": "string"}}
                    }
                  }
                }
              }
            ]
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(requestSchema)

// ParseRequest validates raw against the request schema and decodes it.
func ParseRequest(raw []byte) (Request, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Request{}, fmt.Errorf("invalid request: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return Request{}, fmt.Errorf("invalid request: %s", strings.Join(details, "; "))
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

// History converts the wire messages into transport messages.
func (r Request) History() ([]providers.Message, error) {
	out := make([]providers.Message, 0, len(r.Messages))
	for i, m := range r.Messages {
		msg, err := m.toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m WireMessage) toMessage() (providers.Message, error) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return providers.TextMessage(m.Role, text), nil
	}

	var parts []wirePart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return providers.Message{}, fmt.Errorf("content must be a string or an array of parts")
	}
	msg := providers.Message{Role: m.Role}
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			msg.Blocks = append(msg.Blocks, providers.Block{Type: providers.BlockImage, URL: p.ImageURL.URL})
		default:
			msg.Blocks = append(msg.Blocks, providers.Block{Type: providers.BlockText, Text: p.Text})
		}
	}
	return msg, nil
}
