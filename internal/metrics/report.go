// internal/metrics/report.go
package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mwiater/vlmbench/internal/util"
)

// RankEntry is one model's position in a ranking.
type RankEntry struct {
	Rank      int     `json:"rank"`
	Backend   string  `json:"backend"`
	ModelName string  `json:"model_name"`
	Value     float64 `json:"value"`
}

// Rankings orders models by mean latency, fastest first.
type Rankings struct {
	ByTTFT []RankEntry `json:"by_ttft"`
	ByTTC  []RankEntry `json:"by_ttc"`
}

// Report is the comparison built from a metrics snapshot.
type Report struct {
	Title       string         `json:"title"`
	GeneratedAt time.Time      `json:"generated_at"`
	Models      []ModelMetrics `json:"models"`
	Rankings    Rankings       `json:"rankings"`
	Notes       []string       `json:"notes"`
}

// LoadSnapshot reads a metrics file written by Aggregator.Save.
func LoadSnapshot(path string) ([]ModelMetrics, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("metrics file %s not found", path)
		}
		return nil, fmt.Errorf("read metrics file %s: %w", path, err)
	}
	var models []ModelMetrics
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse metrics file %s: %w", path, err)
	}
	return models, nil
}

// BuildReport ranks the models and derives summary notes.
func BuildReport(models []ModelMetrics) Report {
	r := Report{
		Title:       "vlmbench: model latency comparison",
		GeneratedAt: time.Now().UTC(),
		Models:      models,
	}
	r.Rankings.ByTTFT = rank(models, func(m ModelMetrics) RunningStat { return m.Stats.TTFTSeconds })
	r.Rankings.ByTTC = rank(models, func(m ModelMetrics) RunningStat { return m.Stats.TTCSeconds })

	if len(r.Rankings.ByTTFT) > 0 {
		best := r.Rankings.ByTTFT[0]
		r.Notes = append(r.Notes, fmt.Sprintf("Lowest mean time to first token: %s (%.3fs).", best.ModelName, best.Value))
	}
	if len(r.Rankings.ByTTC) > 0 {
		best := r.Rankings.ByTTC[0]
		r.Notes = append(r.Notes, fmt.Sprintf("Lowest mean time to completion: %s (%.3fs).", best.ModelName, best.Value))
	}
	for _, m := range models {
		if m.Stats.FailedTurns > 0 {
			r.Notes = append(r.Notes, fmt.Sprintf("%s had %d failed turns.", m.ModelName, m.Stats.FailedTurns))
		}
		if cv := coefficientOfVariation(m.Stats.TTCSeconds); cv > 0.5 {
			r.Notes = append(r.Notes, fmt.Sprintf("%s completion times are unstable (stddev %.0f%% of mean).", m.ModelName, cv*100))
		}
	}
	return r
}

// rank skips models without samples for the selected statistic.
func rank(models []ModelMetrics, stat func(ModelMetrics) RunningStat) []RankEntry {
	var entries []RankEntry
	for _, m := range models {
		s := stat(m)
		if s.Count == 0 {
			continue
		}
		entries = append(entries, RankEntry{Backend: m.Backend, ModelName: m.ModelName, Value: s.Mean})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Value < entries[j].Value })
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func coefficientOfVariation(rs RunningStat) float64 {
	if rs.Count < 2 || rs.Mean == 0 {
		return 0
	}
	return rs.StdDev() / rs.Mean
}

// GenerateReport renders a standalone HTML page for the report.
func GenerateReport(r Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteReport renders r to path.
func WriteReport(path string, r Report) error {
	html, err := GenerateReport(r)
	if err != nil {
		return fmt.Errorf("failed generating HTML report: %w", err)
	}
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("unable to write HTML report %s: %w", path, err)
	}
	return nil
}

var reportTemplate = template.Must(template.New("latency-report").Funcs(template.FuncMap{
	"secs":   func(v float64) string { return fmt.Sprintf("%.3fs", v) },
	"stddev": func(rs RunningStat) string { return fmt.Sprintf("%.3fs", rs.StdDev()) },
	"utc":    func(t time.Time) string { return t.Format(time.RFC3339) },
}).Parse(reportTemplateHTML))

const reportTemplateHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css">
  <style>
    :root { --primary: #334155; --light: #F1F5F9; --border: #E2E8F0; }
    body { background-color: var(--light); }
    .navbar-dark { background-color: var(--primary) !important; }
    .card { border: 1px solid var(--border); }
    td.num { text-align: right; font-variant-numeric: tabular-nums; }
  </style>
</head>
<body>
  <nav class="navbar navbar-dark mb-4"><div class="container"><span class="navbar-brand">{{ .Title }}</span>
    <span class="text-light small">generated {{ utc .GeneratedAt }}</span></div></nav>
  <main class="container">
    {{ if .Notes }}<div class="card mb-4"><div class="card-body"><ul class="mb-0">
      {{ range .Notes }}<li>{{ . }}</li>{{ end }}
    </ul></div></div>{{ end }}
    <div class="card mb-4"><div class="card-body">
      <h5 class="card-title">Per-model latency</h5>
      <table class="table table-striped table-bordered" id="modelsTable">
        <thead><tr>
          <th>Backend</th><th>Model</th><th>Turns</th><th>Failed</th>
          <th>TTFT mean</th><th>TTFT min</th><th>TTFT max</th>
          <th>TTC mean</th><th>TTC min</th><th>TTC max</th><th>TTC stddev</th>
          <th>Input tokens (mean)</th><th>Output tokens (mean)</th>
        </tr></thead>
        <tbody>
        {{ range .Models }}<tr>
          <td>{{ .Backend }}</td><td>{{ .ModelName }}</td>
          <td class="num">{{ .Stats.TotalTurns }}</td><td class="num">{{ .Stats.FailedTurns }}</td>
          {{ if .Stats.TTFTSeconds.Count }}<td class="num">{{ secs .Stats.TTFTSeconds.Mean }}</td><td class="num">{{ secs .Stats.TTFTSeconds.Min }}</td><td class="num">{{ secs .Stats.TTFTSeconds.Max }}</td>
          {{ else }}<td colspan="3" class="text-muted">not streamed</td>{{ end }}
          <td class="num">{{ secs .Stats.TTCSeconds.Mean }}</td><td class="num">{{ secs .Stats.TTCSeconds.Min }}</td>
          <td class="num">{{ secs .Stats.TTCSeconds.Max }}</td><td class="num">{{ stddev .Stats.TTCSeconds }}</td>
          <td class="num">{{ printf "%.0f" .Stats.InputTokens.Mean }}</td><td class="num">{{ printf "%.0f" .Stats.OutputTokens.Mean }}</td>
        </tr>{{ end }}
        </tbody>
      </table>
    </div></div>
    <div class="row">
      <div class="col-md-6"><div class="card mb-4"><div class="card-body">
        <h5 class="card-title">Ranking: time to first token</h5>
        <ol>{{ range .Rankings.ByTTFT }}<li>{{ .ModelName }} <span class="text-muted">({{ .Backend }})</span>: {{ secs .Value }}</li>{{ end }}</ol>
      </div></div></div>
      <div class="col-md-6"><div class="card mb-4"><div class="card-body">
        <h5 class="card-title">Ranking: time to completion</h5>
        <ol>{{ range .Rankings.ByTTC }}<li>{{ .ModelName }} <span class="text-muted">({{ .Backend }})</span>: {{ secs .Value }}</li>{{ end }}</ol>
      </div></div></div>
    </div>
  </main>
</body>
</html>
`
