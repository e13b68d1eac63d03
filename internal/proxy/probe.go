package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ProbeResult is what a probe observed for one request.
type ProbeResult struct {
	TTFT     time.Duration
	Total    time.Duration
	Tokens   int
	Response string
}

// Probe connects to a proxy at url, sends req and collects the streamed reply.
// onToken, when set, sees each token as it arrives.
func Probe(ctx context.Context, url string, req Request, onToken func(string)) (ProbeResult, error) {
	var res ProbeResult

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return res, fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	if err := conn.WriteJSON(req); err != nil {
		return res, fmt.Errorf("send request: %w", err)
	}

	var b strings.Builder
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("read event: %w", err)
		}
		switch ev.Type {
		case EventToken:
			if res.Tokens == 0 {
				res.TTFT = time.Since(start)
			}
			res.Tokens++
			b.WriteString(ev.Content)
			if onToken != nil {
				onToken(ev.Content)
			}
		case EventComplete:
			res.Total = time.Since(start)
			res.Response = b.String()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return res, nil
		case EventError:
			res.Response = b.String()
			return res, errors.New(ev.Message)
		default:
			return res, fmt.Errorf("unexpected event type %q", ev.Type)
		}
	}
}

// TextRequest builds a single-user-message request.
func TextRequest(prompt, model string, maxTokens int) Request {
	content, _ := json.Marshal(prompt)
	return Request{
		Messages:  []WireMessage{{Role: "user", Content: content}},
		Model:     model,
		MaxTokens: maxTokens,
	}
}
