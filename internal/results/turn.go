// Package results collects per-turn measurements and writes them to CSV,
// JSON summaries and the console.
package results

import (
	"time"

	"github.com/mwiater/vlmbench/internal/providers"
)

// Turn is the measurement of one completed conversation turn.
type Turn struct {
	Turn  int    `json:"turn"`
	Model string `json:"model,omitempty"`
	// TimeToFirstToken is only meaningful when Streamed is true.
	TimeToFirstToken time.Duration   `json:"time_to_first_token"`
	Streamed         bool            `json:"streamed"`
	TimeToCompletion time.Duration   `json:"time_to_completion"`
	Response         string          `json:"response"`
	Usage            providers.Usage `json:"usage"`
}

// TTFT returns the time to first token and whether it was observed.
func (t Turn) TTFT() (time.Duration, bool) {
	return t.TimeToFirstToken, t.Streamed
}
