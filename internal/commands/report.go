package vlmbench

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/metrics"
)

// reportCmd renders the comparison report for a saved metrics file.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render an HTML latency comparison from a suite metrics file",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")

		models, err := metrics.LoadSnapshot(input)
		if err != nil {
			return err
		}
		report := metrics.BuildReport(models)
		if err := metrics.WriteReport(output, report); err != nil {
			return err
		}
		for _, note := range report.Notes {
			cmd.Println(note)
		}
		logging.LogEvent("report: %d models from %s written to %s", len(models), input, output)
		cmd.Printf("Report written to %s\n", output)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("input", "results/metrics.json", "metrics file written by the suite command")
	reportCmd.Flags().String("output", "results/report.html", "HTML report path")
	rootCmd.AddCommand(reportCmd)
}
