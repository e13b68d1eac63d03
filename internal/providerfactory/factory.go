// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"
	"os"
	"strings"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/metrics"
	"github.com/mwiater/vlmbench/internal/providers"
	"github.com/mwiater/vlmbench/internal/providers/anthropic"
	"github.com/mwiater/vlmbench/internal/providers/native"
	"github.com/mwiater/vlmbench/internal/providers/openai"
)

// Environment variables consulted when no API key is configured.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
)

// Sinks are optional metrics destinations; a transport is wrapped when either is set.
type Sinks struct {
	Collectors *metrics.Collectors
	Aggregator *metrics.Aggregator
}

// NewTransport selects and configures the transport for the benchmark settings.
func NewTransport(bench appconfig.BenchConfig, sinks Sinks) (providers.Transport, error) {
	backend := appconfig.NormalizeBackend(bench.Backend)
	timeout := bench.RequestTimeout()

	var transport providers.Transport
	switch backend {
	case appconfig.BackendOpenAI:
		transport = openai.New(openai.Options{
			BaseURL: bench.BaseURL,
			APIKey:  APIKey(backend, bench.APIKey),
			Timeout: timeout,
		})
	case appconfig.BackendAnthropic:
		key := APIKey(backend, bench.APIKey)
		if key == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key (set bench.apiKey or %s)", EnvAnthropicKey)
		}
		transport = anthropic.New(anthropic.Options{
			BaseURL:   bench.BaseURL,
			APIKey:    key,
			Timeout:   timeout,
			CacheHint: bench.CacheHint,
		})
	case appconfig.BackendNative:
		if strings.TrimSpace(bench.BaseURL) == "" {
			return nil, fmt.Errorf("native backend requires baseURL of the engine sidecar")
		}
		transport = native.New(native.NewHTTPEngine(bench.BaseURL, timeout), timeout)
	default:
		return nil, fmt.Errorf("unsupported backend %q", bench.Backend)
	}
	logging.LogEvent("%s transport ready: baseURL=%s model=%s", backend, bench.BaseURL, bench.Model)

	return instrument(transport, backend, sinks), nil
}

// NewProxyTransport builds the streaming upstream used by the WebSocket proxy.
func NewProxyTransport(cfg appconfig.ProxyConfig, sinks Sinks) providers.Transport {
	transport := openai.New(openai.Options{
		BaseURL: cfg.UpstreamURL,
		APIKey:  APIKey(appconfig.BackendOpenAI, cfg.APIKey),
		Timeout: cfg.RequestTimeout(),
	})
	return instrument(transport, appconfig.BackendOpenAI, sinks)
}

func instrument(t providers.Transport, backend string, sinks Sinks) providers.Transport {
	if sinks.Collectors == nil && sinks.Aggregator == nil {
		return t
	}
	return metrics.NewTransport(t, backend, sinks.Collectors, sinks.Aggregator)
}

// APIKey returns the configured key, falling back to the backend's environment variable.
func APIKey(backend, configured string) string {
	if key := strings.TrimSpace(configured); key != "" {
		return key
	}
	switch appconfig.NormalizeBackend(backend) {
	case appconfig.BackendOpenAI:
		return strings.TrimSpace(os.Getenv(EnvOpenAIKey))
	case appconfig.BackendAnthropic:
		return strings.TrimSpace(os.Getenv(EnvAnthropicKey))
	}
	return ""
}
