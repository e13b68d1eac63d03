package vlmbench

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/metrics"
	"github.com/mwiater/vlmbench/internal/providerfactory"
	"github.com/mwiater/vlmbench/internal/util"
)

// suiteCmd benchmarks several models back to back with the same fixture settings.
var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run the benchmark for each model in a list",
	Long: `The 'suite' command runs the benchmark once per model listed in suite.models
(or --models), writing <outputDir>/<model>_results.csv for each and a combined
metrics.json with running statistics per model plus an HTML comparison report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSuite(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), *cfg)
	},
}

func init() {
	addBenchFlags(suiteCmd)
	suiteCmd.Flags().StringSlice("models", nil, "models to benchmark, in order")
	suiteCmd.Flags().String("outputDir", "results", "directory receiving one CSV per model")
	suiteCmd.Flags().Bool("pause", false, "wait for Enter before each model after the first")
	bindFlag(suiteCmd, "models", "suite.models")
	bindFlag(suiteCmd, "outputDir", "suite.outputDir")
	bindFlag(suiteCmd, "pause", "suite.pause")
	rootCmd.AddCommand(suiteCmd)
}

// runSuite runs every model in turn. A failing model is reported and the
// suite moves on; an interruption stops the suite after writing partial results.
func runSuite(ctx context.Context, in io.Reader, out io.Writer, cfg appconfig.Config) error {
	models := cfg.Suite.Models
	if len(models) == 0 {
		return errors.New("suite requires at least one model (suite.models or --models)")
	}
	outputDir := cfg.Suite.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "results"
	}

	aggregator := metrics.NewAggregator()
	sinks := providerfactory.Sinks{Aggregator: aggregator}
	reader := bufio.NewReader(in)

	var failures []error
	for i, model := range models {
		if i > 0 && cfg.Suite.Pause {
			fmt.Fprintf(out, "Load %s on the server, then press Enter to continue...", model)
			if err := waitForEnter(ctx, reader); err != nil {
				if ctx.Err() == nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
			}
		}
		if ctx.Err() != nil {
			logging.LogEvent("suite interrupted before model %s", model)
			fmt.Fprintf(out, "\nInterrupted; skipping %d remaining models.\n", len(models)-i)
			break
		}

		bench := cfg.Bench
		bench.Model = model
		bench.Output = filepath.Join(outputDir, util.Slugify(model)+"_results.csv")
		fmt.Fprintf(out, "\n=== %s (%d/%d) ===\n", model, i+1, len(models))

		interrupted, err := executeRun(ctx, out, bench, cfg.Debug, sinks)
		if err != nil {
			logging.LogEvent("suite: model %s failed: %v", model, err)
			fmt.Fprintf(out, "Model %s failed: %v\n", model, err)
			failures = append(failures, err)
		}
		if interrupted {
			break
		}
	}

	metricsPath := filepath.Join(outputDir, "metrics.json")
	if err := aggregator.Save(metricsPath); err != nil {
		return fmt.Errorf("write suite metrics: %w", err)
	}
	logging.LogEvent("suite metrics written to %s", metricsPath)

	reportPath := filepath.Join(outputDir, "report.html")
	if err := metrics.WriteReport(reportPath, metrics.BuildReport(aggregator.Snapshot())); err != nil {
		return err
	}
	fmt.Fprintf(out, "Comparison report written to %s\n", reportPath)

	return errors.Join(failures...)
}

// waitForEnter returns when a line is read or ctx is done. The reading
// goroutine stays blocked on in after cancellation; the process is exiting.
func waitForEnter(ctx context.Context, reader *bufio.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
