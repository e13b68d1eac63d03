package results

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/vlmbench/internal/providers"
	"github.com/mwiater/vlmbench/internal/util"
)

// Stats summarizes a series of durations, in seconds.
type Stats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// Summary aggregates a run.
type Summary struct {
	Backend     string          `json:"backend,omitempty"`
	Model       string          `json:"model,omitempty"`
	Turns       int             `json:"turns"`
	Interrupted bool            `json:"interrupted,omitempty"`
	TTFT        *Stats          `json:"time_to_first_token,omitempty"`
	TTC         Stats           `json:"time_to_completion"`
	Usage       providers.Usage `json:"usage"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Summarize computes latency statistics and token totals. TTFT statistics
// cover streamed turns only and are nil when no turn was streamed.
func Summarize(turns []Turn) Summary {
	s := Summary{Turns: len(turns), GeneratedAt: time.Now().UTC()}
	if len(turns) > 0 {
		s.Model = turns[0].Model
	}

	var ttft, ttc []float64
	for _, t := range turns {
		ttc = append(ttc, t.TimeToCompletion.Seconds())
		if d, ok := t.TTFT(); ok {
			ttft = append(ttft, d.Seconds())
		}
		s.Usage.Add(t.Usage)
	}

	s.TTC = calculateStats(ttc)
	if len(ttft) > 0 {
		st := calculateStats(ttft)
		s.TTFT = &st
	}
	return s
}

func calculateStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	st := Stats{Count: len(values), Min: values[0], Max: values[0]}
	var total float64
	for _, v := range values {
		total += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Avg = total / float64(len(values))
	st.P50 = simpleQuantile(values, 0.50)
	st.P95 = simpleQuantile(values, 0.95)
	return st
}

// simpleQuantile returns the q-quantile by linear interpolation between closest ranks.
func simpleQuantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// SummaryPath returns the summary file that accompanies a CSV file.
func SummaryPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".summary.json"
}

// WriteSummary writes the summary as indented JSON.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// RenderSummary formats a summary for the terminal.
func RenderSummary(s Summary) string {
	title := "Run summary"
	if s.Model != "" {
		title += ": " + s.Model
	}
	if s.Interrupted {
		title += " (interrupted)"
	}

	rows := []string{titleStyle.Render(title)}
	row := func(label, value string) {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value)))
	}
	row("Turns", fmt.Sprintf("%d", s.Turns))
	if s.TTFT != nil {
		row("TTFT avg/p50/p95", formatStats(*s.TTFT))
		row("TTFT min/max", fmt.Sprintf("%.3fs / %.3fs", s.TTFT.Min, s.TTFT.Max))
	}
	row("TTC avg/p50/p95", formatStats(s.TTC))
	row("TTC min/max", fmt.Sprintf("%.3fs / %.3fs", s.TTC.Min, s.TTC.Max))
	row("Tokens in/out", fmt.Sprintf("%d / %d", s.Usage.InputTokens, s.Usage.OutputTokens))
	if s.Usage.CacheReadInputTokens > 0 || s.Usage.CacheCreationInputTokens > 0 {
		row("Cache read/created", fmt.Sprintf("%d / %d", s.Usage.CacheReadInputTokens, s.Usage.CacheCreationInputTokens))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func formatStats(st Stats) string {
	return fmt.Sprintf("%.3fs / %.3fs / %.3fs", st.Avg, st.P50, st.P95)
}
