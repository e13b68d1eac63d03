package vlmbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/conversation"
	"github.com/mwiater/vlmbench/internal/fixture"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/providerfactory"
	"github.com/mwiater/vlmbench/internal/results"
)

// newTransport is swapped in tests.
var newTransport = providerfactory.NewTransport

// runCmd runs one multi-turn benchmark.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a multi-turn benchmark against one model",
	Long: `The 'run' command builds a shuffled fixture of images (or text documents) and
questions, submits them as one growing conversation, and records time to first
token and time to completion for every turn into a CSV file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err := executeRun(ctx, cmd.OutOrStdout(), cfg.Bench, cfg.Debug, providerfactory.Sinks{})
		return err
	},
}

func init() {
	addBenchFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addBenchFlags registers the benchmark flags on cmd and binds them to bench.* keys.
func addBenchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", appconfig.BackendOpenAI, "inference backend: openai, anthropic or native")
	f.String("baseURL", "http://localhost:8000/v1", "backend base URL")
	f.String("apiKey", "", "API key (defaults to OPENAI_API_KEY / ANTHROPIC_API_KEY)")
	f.String("model", "Qwen/Qwen2.5-VL-7B-Instruct", "model identifier")
	f.String("mode", appconfig.ModeImage, "fixture mode: image or text")
	f.String("dataDir", "data", "directory holding the fixture assets")
	f.String("pattern", "", "asset glob inside dataDir (defaults per mode)")
	f.String("questions", "", "YAML file replacing the built-in question catalog")
	f.Int("repeat", 3, "times each asset and question is replicated before shuffling")
	f.Int64("seed", 1337, "shuffle seed")
	f.Int("maxTokens", 100, "output token cap per turn")
	f.Float64("temperature", 0, "sampling temperature")
	f.Bool("stream", true, "stream responses and record time to first token")
	f.Bool("cacheHint", false, "mark the newest content block cacheable (anthropic)")
	f.Int("inflate", 1, "store each reply this many times in the history")
	f.String("output", "results.csv", "CSV output path")
	f.Int("timeout", 600, "per-request timeout in seconds")

	for flag, key := range map[string]string{
		"backend":     "bench.backend",
		"baseURL":     "bench.baseURL",
		"apiKey":      "bench.apiKey",
		"model":       "bench.model",
		"mode":        "bench.mode",
		"dataDir":     "bench.dataDir",
		"pattern":     "bench.assetPattern",
		"questions":   "bench.questionsFile",
		"repeat":      "bench.repeat",
		"seed":        "bench.seed",
		"maxTokens":   "bench.maxTokens",
		"temperature": "bench.temperature",
		"stream":      "bench.stream",
		"cacheHint":   "bench.cacheHint",
		"inflate":     "bench.inflate",
		"output":      "bench.output",
		"timeout":     "bench.timeout",
	} {
		bindFlag(cmd, flag, key)
	}
}

// executeRun performs one benchmark and writes its results. Partial results
// are written on interruption and on transport failure; interruption is not an
// error. The returned bool reports whether the run was interrupted.
func executeRun(ctx context.Context, out io.Writer, bench appconfig.BenchConfig, debug bool, sinks providerfactory.Sinks) (bool, error) {
	if err := bench.Validate(); err != nil {
		return false, fmt.Errorf("invalid benchmark configuration: %w", err)
	}
	console := results.NewConsole(out, debug)

	entries, err := fixture.Load(fixture.LoadOptions{
		Mode:          bench.Mode,
		DataDir:       bench.DataDir,
		Pattern:       bench.AssetPattern,
		QuestionsFile: bench.QuestionsFile,
		Repeat:        bench.Repeat,
		Seed:          bench.Seed,
	})
	if err != nil {
		return false, fmt.Errorf("load fixture: %w", err)
	}
	if len(entries) == 0 {
		console.Warn("No %s assets found in %s; nothing to benchmark.", bench.Mode, bench.DataDir)
	}

	transport, err := newTransport(bench, sinks)
	if err != nil {
		return false, err
	}
	defer transport.Close()

	backend := appconfig.NormalizeBackend(bench.Backend)
	logging.LogEvent("run start: backend=%s model=%s mode=%s turns=%d output=%s", backend, bench.Model, bench.Mode, len(entries), bench.Output)

	driver := conversation.New(transport, conversation.Options{
		Model:         bench.Model,
		MaxTokens:     bench.MaxTokens,
		Temperature:   bench.Temperature,
		Stream:        bench.Stream,
		InflateFactor: bench.Inflate,
	})
	driver.OnTurn = console.Turn

	run, runErr := driver.Run(ctx, entries)
	interrupted := errors.Is(runErr, conversation.ErrInterrupted)

	if err := writeResults(out, bench, backend, run.Turns, interrupted); err != nil {
		return interrupted, err
	}

	switch {
	case interrupted:
		logging.LogEvent("run interrupted after %d of %d turns; partial results written to %s", len(run.Turns), len(entries), bench.Output)
		console.Warn("Interrupted after %d of %d turns.", len(run.Turns), len(entries))
		return true, nil
	case runErr != nil:
		logging.LogEvent("run failed after %d turns: %v", len(run.Turns), runErr)
		return false, fmt.Errorf("benchmark %s failed after %d turns: %w", bench.Model, len(run.Turns), runErr)
	}
	logging.LogEvent("run complete: %d turns written to %s", len(run.Turns), bench.Output)
	return false, nil
}

func writeResults(out io.Writer, bench appconfig.BenchConfig, backend string, turns []results.Turn, interrupted bool) error {
	if err := results.WriteCSV(bench.Output, turns); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	summary := results.Summarize(turns)
	summary.Backend = backend
	summary.Model = bench.Model
	summary.Interrupted = interrupted
	if err := results.WriteSummary(results.SummaryPath(bench.Output), summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if len(turns) > 0 {
		fmt.Fprintln(out, results.RenderSummary(summary))
	}
	fmt.Fprintf(out, "Results written to %s\n", bench.Output)
	return nil
}
