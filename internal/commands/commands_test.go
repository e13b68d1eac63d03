package vlmbench

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/metrics"
	"github.com/mwiater/vlmbench/internal/providerfactory"
	"github.com/mwiater/vlmbench/internal/providers"
)

type scriptedTransport struct {
	calls  int
	failAt int
	// afterCall, when set, runs after each successful call.
	afterCall func(calls int)
}

func (s *scriptedTransport) SubmitTurn(ctx context.Context, req providers.TurnRequest, cb providers.StreamCallbacks) error {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return providers.Wrap("fake", "chat", errors.New("server went away"))
	}
	if err := providers.EmitChunk(cb, fmt.Sprintf("reply %d", s.calls)); err != nil {
		return err
	}
	err := providers.Complete(cb, providers.StreamMetadata{
		Model:    req.Model,
		Streamed: req.Stream,
		Usage:    providers.Usage{InputTokens: 10, OutputTokens: 2},
	})
	if s.afterCall != nil {
		s.afterCall(s.calls)
	}
	return err
}

func (s *scriptedTransport) Close() error { return nil }

func useTransport(t *testing.T, fake *scriptedTransport) {
	t.Helper()
	prev := newTransport
	newTransport = func(bench appconfig.BenchConfig, sinks providerfactory.Sinks) (providers.Transport, error) {
		if sinks.Aggregator != nil {
			return metrics.NewTransport(fake, "fake", nil, sinks.Aggregator), nil
		}
		return fake, nil
	}
	t.Cleanup(func() { newTransport = prev })
}

func resetFlags() {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.Flags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeTextAssets(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("test-txt-%d.txt", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("document %d", i)), 0o644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	color.NoColor = true
	t.Cleanup(func() { _ = logging.Close() })

	logPath := filepath.Join(t.TempDir(), "vlmbench.log")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append(args, "--logFile", logPath))
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })

	_, err := rootCmd.ExecuteC()
	return buf.String(), err
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

// TestRootCmd verifies running the root command with an invalid subcommand reports an error.
func TestRootCmd(t *testing.T) {
	b := new(bytes.Buffer)
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)

	rootCmd.SetArgs([]string{"nonexistent"})
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	_, err := rootCmd.ExecuteC()

	if err == nil {
		t.Error("Expected an error for a nonexistent command, but got none")
	}

	expected := "unknown command \"nonexistent\" for \"vlmbench\""
	if !strings.Contains(b.String(), expected) {
		t.Errorf("Expected output to contain '%s', but got '%s'", expected, b.String())
	}
}

func TestShowConfigMergesFileAndDefaults(t *testing.T) {
	configPath := writeTempConfig(t, `{
		"bench": {"model": "cfg-model", "backend": "anthropic", "repeat": 2},
		"proxy": {"listen": ":9999"}
	}`)

	out, err := execute(t, "show", "config", "--config", configPath)
	if err != nil {
		t.Fatalf("ExecuteC error: %v", err)
	}
	if !strings.Contains(out, "Config file: "+configPath) {
		t.Fatalf("expected config file path in output, got %s", out)
	}
	for _, want := range []string{"Model:           cfg-model", "Backend:         anthropic", "Listen:          :9999", "Default Tokens:  100"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %s", want, out)
		}
	}
	if cfg := GetConfig(); cfg == nil || cfg.ConfigPath != configPath {
		t.Fatalf("expected config loaded from %s, got %+v", configPath, cfg)
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	fake := &scriptedTransport{}
	useTransport(t, fake)
	dataDir := writeTextAssets(t, 2)
	output := filepath.Join(t.TempDir(), "out", "results.csv")
	configPath := writeTempConfig(t, `{"bench": {"model": "from-config", "repeat": 5, "maxTokens": 32}}`)

	out, err := execute(t, "run", "--config", configPath,
		"--mode", "text", "--dataDir", dataDir, "--repeat", "1", "--output", output)
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}

	cfg := GetConfig()
	if cfg.Bench.Model != "from-config" || cfg.Bench.MaxTokens != 32 {
		t.Fatalf("expected config values to survive, got %+v", cfg.Bench)
	}
	if cfg.Bench.Repeat != 1 || cfg.Bench.Mode != appconfig.ModeText {
		t.Fatalf("expected flags to override config, got %+v", cfg.Bench)
	}

	rows := readRows(t, output)
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %v", rows)
	}
	if rows[0][0] != "times_to_first_token" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[2][2] != "reply 2" {
		t.Fatalf("unexpected response cell %q", rows[2][2])
	}
	if _, err := os.Stat(strings.TrimSuffix(output, ".csv") + ".summary.json"); err != nil {
		t.Fatalf("expected summary next to csv: %v", err)
	}
	if !strings.Contains(out, "Turn 1 TTFT:") {
		t.Fatalf("expected per-turn console output, got %s", out)
	}
}

func TestExecuteRunWritesPartialResultsOnTransportError(t *testing.T) {
	fake := &scriptedTransport{failAt: 3}
	useTransport(t, fake)
	output := filepath.Join(t.TempDir(), "results.csv")

	bench := appconfig.BenchConfig{
		Backend: "openai", Model: "m", Mode: appconfig.ModeText, DataDir: writeTextAssets(t, 4),
		Repeat: 1, Seed: 1, MaxTokens: 16, Stream: true, Output: output,
	}
	var out bytes.Buffer
	interrupted, err := executeRun(context.Background(), &out, bench, false, providerfactory.Sinks{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	var terr *providers.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError in chain, got %v", err)
	}
	if interrupted {
		t.Fatal("transport error must not count as interruption")
	}
	if rows := readRows(t, output); len(rows) != 3 {
		t.Fatalf("expected 2 completed turns written, got %d rows", len(rows)-1)
	}
}

func TestExecuteRunInterruptedIsNotAnError(t *testing.T) {
	fake := &scriptedTransport{}
	useTransport(t, fake)
	output := filepath.Join(t.TempDir(), "results.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bench := appconfig.BenchConfig{
		Backend: "openai", Model: "m", Mode: appconfig.ModeText, DataDir: writeTextAssets(t, 2),
		Repeat: 1, MaxTokens: 16, Output: output,
	}
	interrupted, err := executeRun(ctx, &bytes.Buffer{}, bench, false, providerfactory.Sinks{})
	if err != nil {
		t.Fatalf("expected nil error on interruption, got %v", err)
	}
	if !interrupted {
		t.Fatal("expected interrupted run")
	}
	if rows := readRows(t, output); len(rows) != 1 {
		t.Fatalf("expected header only, got %v", rows)
	}
}

func TestExecuteRunRejectsInvalidConfig(t *testing.T) {
	_, err := executeRun(context.Background(), &bytes.Buffer{}, appconfig.BenchConfig{Backend: "openai"}, false, providerfactory.Sinks{})
	if err == nil || !strings.Contains(err.Error(), "invalid benchmark configuration") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunSuiteWritesOneCSVPerModel(t *testing.T) {
	fake := &scriptedTransport{}
	useTransport(t, fake)
	outputDir := filepath.Join(t.TempDir(), "suite")

	cfg := appconfig.Config{
		Bench: appconfig.BenchConfig{
			Backend: "openai", Mode: appconfig.ModeText, DataDir: writeTextAssets(t, 2),
			Repeat: 1, MaxTokens: 16, Stream: true,
		},
		Suite: appconfig.SuiteConfig{
			Models:    []string{"Qwen/Qwen2.5-VL-7B-Instruct", "llava:13b"},
			OutputDir: outputDir,
			Pause:     true,
		},
	}
	var out bytes.Buffer
	if err := runSuite(context.Background(), strings.NewReader("\n"), &out, cfg); err != nil {
		t.Fatalf("runSuite error: %v", err)
	}

	for _, name := range []string{"qwen_qwen2-5-vl-7b-instruct_results.csv", "llava_13b_results.csv"} {
		if rows := readRows(t, filepath.Join(outputDir, name)); len(rows) != 3 {
			t.Fatalf("%s: expected 2 turns, got %d rows", name, len(rows)-1)
		}
	}
	if !strings.Contains(out.String(), "Load llava:13b on the server") {
		t.Fatalf("expected pause prompt, got %s", out.String())
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "metrics.json"))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	var snapshot []metrics.ModelMetrics
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected metrics for 2 models, got %d", len(snapshot))
	}
	if _, err := os.Stat(filepath.Join(outputDir, "report.html")); err != nil {
		t.Fatalf("expected comparison report: %v", err)
	}
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	agg := metrics.NewAggregator()
	agg.Record(metrics.Observation{Backend: "openai", Model: "m", TTFT: 1, TTC: 2})
	input := filepath.Join(dir, "metrics.json")
	if err := agg.Save(input); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "report.html")

	out, err := execute(t, "report", "--input", input, "--output", output)
	if err != nil {
		t.Fatalf("report error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Lowest mean time to completion: m") {
		t.Fatalf("expected notes in output, got %s", out)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("expected report file: %v", err)
	}
}

func TestRunSuiteContinuesAfterFailure(t *testing.T) {
	fake := &scriptedTransport{failAt: 1}
	useTransport(t, fake)

	cfg := appconfig.Config{
		Bench: appconfig.BenchConfig{
			Backend: "openai", Mode: appconfig.ModeText, DataDir: writeTextAssets(t, 1),
			Repeat: 1, MaxTokens: 16,
		},
		Suite: appconfig.SuiteConfig{Models: []string{"a", "b"}, OutputDir: t.TempDir()},
	}
	err := runSuite(context.Background(), strings.NewReader(""), &bytes.Buffer{}, cfg)
	if err == nil {
		t.Fatal("expected the failing model to be reported")
	}
	if fake.calls != 2 {
		t.Fatalf("expected second model to run after the first failed, got %d calls", fake.calls)
	}
}

func TestRunSuiteInterruptAtPausePromptStopsSuite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &scriptedTransport{afterCall: func(int) { cancel() }}
	useTransport(t, fake)
	outputDir := t.TempDir()

	stdin, stdinWriter := io.Pipe()
	defer stdinWriter.Close()

	cfg := appconfig.Config{
		Bench: appconfig.BenchConfig{
			Backend: "openai", Mode: appconfig.ModeText, DataDir: writeTextAssets(t, 1),
			Repeat: 1, MaxTokens: 16,
		},
		Suite: appconfig.SuiteConfig{Models: []string{"a", "b"}, OutputDir: outputDir, Pause: true},
	}

	done := make(chan error, 1)
	go func() { done <- runSuite(ctx, stdin, io.Discard, cfg) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected interrupted suite to succeed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("suite still waiting for Enter after cancellation")
	}

	if fake.calls != 1 {
		t.Fatalf("expected only the first model to run, got %d calls", fake.calls)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "b_results.csv")); !os.IsNotExist(err) {
		t.Fatalf("second model must not write results, stat err: %v", err)
	}
	for _, name := range []string{"a_results.csv", "metrics.json", "report.html"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Fatalf("expected %s after interruption: %v", name, err)
		}
	}
}

func TestRunSuiteRequiresModels(t *testing.T) {
	if err := runSuite(context.Background(), strings.NewReader(""), &bytes.Buffer{}, appconfig.Config{}); err == nil {
		t.Fatal("expected error without models")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VLMBENCH_TEST_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VLMBENCH_TEST_KEY", "")
	os.Unsetenv("VLMBENCH_TEST_KEY")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile error: %v", err)
	}
	if got := os.Getenv("VLMBENCH_TEST_KEY"); got != "from-dotenv" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}

func TestBindCommandFlagsOnlyBindsAnnotatedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("annotated", "v", "")
	cmd.Flags().String("plain", "p", "")
	bindFlag(cmd, "annotated", "test.annotated")

	bindCommandFlags(cmd)
	if got := viper.GetString("test.annotated"); got != "v" {
		t.Fatalf("expected bound default, got %q", got)
	}
	if viper.IsSet("plain") {
		t.Fatal("unannotated flag must not be bound")
	}
}
