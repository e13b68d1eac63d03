package vlmbench

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/proxy"
)

// probeCmd is a smoke test for a running proxy.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send one prompt to a WebSocket proxy and report time to first token",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		prompt, _ := cmd.Flags().GetString("prompt")
		model, _ := cmd.Flags().GetString("requestModel")
		maxTokens, _ := cmd.Flags().GetInt("requestMaxTokens")
		timeout, _ := cmd.Flags().GetDuration("wait")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		out := cmd.OutOrStdout()
		label := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Fprintf(out, "Connecting to %s\n", url)

		res, err := proxy.Probe(ctx, url, proxy.TextRequest(prompt, model, maxTokens), func(token string) {
			fmt.Fprint(out, token)
		})
		fmt.Fprintln(out)
		if err != nil {
			logging.LogEvent("probe %s failed: %v", url, err)
			return err
		}
		fmt.Fprintf(out, "%s %.3fs\n", label("Time to first token:"), res.TTFT.Seconds())
		fmt.Fprintf(out, "%s %.3fs (%d tokens)\n", label("Total time:"), res.Total.Seconds(), res.Tokens)
		logging.LogEvent("probe %s: ttft=%s total=%s tokens=%d", url, res.TTFT, res.Total, res.Tokens)
		return nil
	},
}

func init() {
	f := probeCmd.Flags()
	f.String("url", "ws://localhost:8001", "proxy WebSocket URL")
	f.String("prompt", "Hello! Tell me a short joke.", "prompt to send")
	f.String("requestModel", "", "model to request (proxy default when empty)")
	f.Int("requestMaxTokens", 50, "max_tokens to request")
	f.Duration("wait", 2*time.Minute, "give up after this long")
	rootCmd.AddCommand(probeCmd)
}
