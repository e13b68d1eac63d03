package vlmbench

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/metrics"
	"github.com/mwiater/vlmbench/internal/providerfactory"
	"github.com/mwiater/vlmbench/internal/proxy"
)

// proxyCmd serves the WebSocket relay in front of an OpenAI-compatible server.
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Serve a WebSocket proxy that streams completions from an upstream server",
	Long: `The 'proxy' command accepts WebSocket clients, forwards each request to the
upstream chat completions endpoint with streaming enabled, and relays tokens back
as {"type":"token"} messages followed by {"type":"complete"} or {"type":"error"}.
Prometheus metrics are served on /metrics and running statistics on /stats.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sinks := providerfactory.Sinks{
			Collectors: metrics.NewCollectors(reg),
			Aggregator: metrics.NewAggregator(),
		}

		upstream := providerfactory.NewProxyTransport(cfg.Proxy, sinks)
		defer upstream.Close()

		server := proxy.New(upstream, cfg.Proxy, proxy.Options{
			Collectors: sinks.Collectors,
			Aggregator: sinks.Aggregator,
			Gatherer:   reg,
		})
		cmd.Printf("WebSocket proxy listening on %s (upstream %s)\n", cfg.Proxy.Listen, cfg.Proxy.UpstreamURL)
		return server.ListenAndServe(ctx)
	},
}

func init() {
	f := proxyCmd.Flags()
	f.String("listen", ":8001", "address to listen on")
	f.String("upstream", "http://localhost:8000/v1", "upstream OpenAI-compatible base URL")
	f.String("apiKey", "", "upstream API key (defaults to OPENAI_API_KEY)")
	f.String("defaultModel", "Qwen/Qwen2.5-VL-7B-Instruct", "model used when a request names none")
	f.Int("defaultMaxTokens", 100, "max_tokens used when a request sets none")
	f.Int("timeout", 600, "upstream request timeout in seconds")
	bindFlag(proxyCmd, "listen", "proxy.listen")
	bindFlag(proxyCmd, "upstream", "proxy.upstreamURL")
	bindFlag(proxyCmd, "apiKey", "proxy.apiKey")
	bindFlag(proxyCmd, "defaultModel", "proxy.defaultModel")
	bindFlag(proxyCmd, "defaultMaxTokens", "proxy.defaultMaxTokens")
	bindFlag(proxyCmd, "timeout", "proxy.timeout")
	rootCmd.AddCommand(proxyCmd)
}
