// Package conversation drives one multi-turn benchmark conversation: it
// appends each fixture entry to the history, submits the whole history and
// times the reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mwiater/vlmbench/internal/fixture"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providers"
	"github.com/mwiater/vlmbench/internal/results"
)

// ErrInterrupted is returned when the context is cancelled before all turns finished.
var ErrInterrupted = errors.New("conversation interrupted")

// textSeparator joins a text asset and its question into one user message.
const textSeparator = "\n\n --- \n\n"

// Options configures the turns a Driver submits.
type Options struct {
	Model       string
	MaxTokens   int
	// Temperature is always sent so runs are comparable across servers.
	Temperature float64
	Stream      bool
	// InflateFactor > 1 stores each assistant reply repeated that many times in the history.
	InflateFactor int
}

// Run is the outcome of a conversation: the completed turns and the history they built.
type Run struct {
	Turns   []results.Turn
	History []providers.Message
}

// Driver runs a conversation against a single transport. It is not safe for concurrent use.
type Driver struct {
	transport providers.Transport
	opts      Options
	// OnTurn, when set, observes each completed turn.
	OnTurn func(results.Turn)

	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// New creates a Driver.
func New(transport providers.Transport, opts Options) *Driver {
	return &Driver{
		transport: transport,
		opts:      opts,
		now:       time.Now,
		readFile:  os.ReadFile,
	}
}

// Run submits one turn per entry, in order. On cancellation it returns the
// turns completed so far and an error matching ErrInterrupted; on a transport
// failure it returns the turns so far and the transport error. The in-flight
// turn is discarded in both cases.
func (d *Driver) Run(ctx context.Context, entries []fixture.Entry) (Run, error) {
	var run Run
	if len(entries) == 0 {
		return run, nil
	}

	if p, ok := d.transport.(providers.Preparer); ok {
		if err := p.Prepare(ctx, d.opts.Model); err != nil {
			if ctx.Err() != nil {
				return run, ErrInterrupted
			}
			return run, err
		}
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			return run, ErrInterrupted
		}

		userMsg, err := d.userMessage(entry)
		if err != nil {
			return run, err
		}
		run.History = append(run.History, userMsg)

		turn, err := d.submit(ctx, i+1, run.History)
		if err != nil {
			run.History = run.History[:len(run.History)-1]
			if ctx.Err() != nil {
				logging.LogEvent("turn %d interrupted after %d completed turns", i+1, len(run.Turns))
				return run, ErrInterrupted
			}
			return run, err
		}

		stored := turn.Response
		if d.opts.InflateFactor > 1 {
			stored = strings.Repeat(turn.Response, d.opts.InflateFactor)
		}
		run.History = append(run.History, providers.TextMessage(providers.RoleAssistant, stored))
		run.Turns = append(run.Turns, turn)
		if d.OnTurn != nil {
			d.OnTurn(turn)
		}
	}
	return run, nil
}

func (d *Driver) submit(ctx context.Context, number int, history []providers.Message) (results.Turn, error) {
	var (
		reply      strings.Builder
		firstChunk time.Time
		meta       providers.StreamMetadata
	)
	temperature := d.opts.Temperature
	req := providers.TurnRequest{
		Model:       d.opts.Model,
		History:     history,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: &temperature,
		Stream:      d.opts.Stream,
	}
	callbacks := providers.StreamCallbacks{
		OnChunk: func(fragment string) error {
			if firstChunk.IsZero() {
				firstChunk = d.now()
			}
			reply.WriteString(fragment)
			return nil
		},
		OnComplete: func(m providers.StreamMetadata) error {
			meta = m
			return nil
		},
	}

	start := d.now()
	if err := d.transport.SubmitTurn(ctx, req, callbacks); err != nil {
		return results.Turn{}, err
	}
	end := d.now()

	turn := results.Turn{
		Turn:             number,
		Model:            meta.Model,
		TimeToCompletion: end.Sub(start),
		Response:         reply.String(),
		Usage:            meta.Usage,
	}
	if meta.Streamed && !firstChunk.IsZero() {
		turn.Streamed = true
		turn.TimeToFirstToken = firstChunk.Sub(start)
	}
	return turn, nil
}

func (d *Driver) userMessage(entry fixture.Entry) (providers.Message, error) {
	switch entry.Asset.Kind {
	case fixture.KindText:
		return providers.TextMessage(providers.RoleUser, entry.Asset.Text+textSeparator+entry.Question), nil
	default:
		data, err := d.readFile(entry.Asset.Path)
		if err != nil {
			return providers.Message{}, fmt.Errorf("read image %q: %w", entry.Asset.Path, err)
		}
		return providers.Message{
			Role: providers.RoleUser,
			Blocks: []providers.Block{
				{Type: providers.BlockImage, MediaType: entry.Asset.MediaType, Data: data, CacheID: entry.Asset.CacheID},
				{Type: providers.BlockText, Text: entry.Question},
			},
		}, nil
	}
}
