package appconfig

import (
	"fmt"
	"io"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg *Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}
	if cfg == nil {
		fmt.Fprintln(out, "Configuration not loaded.")
		return
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Log File:        %s\n", cfg.LogFilePath())

	b := cfg.Bench
	fmt.Fprintln(out, "\nBenchmark:")
	fmt.Fprintf(out, "  Backend:         %s\n", NormalizeBackend(b.Backend))
	fmt.Fprintf(out, "  Base URL:        %s\n", b.BaseURL)
	fmt.Fprintf(out, "  Model:           %s\n", b.Model)
	fmt.Fprintf(out, "  Mode:            %s\n", b.Mode)
	fmt.Fprintf(out, "  Data Dir:        %s\n", b.DataDir)
	fmt.Fprintf(out, "  Repeat / Seed:   %d / %d\n", b.Repeat, b.Seed)
	fmt.Fprintf(out, "  Max Tokens:      %d\n", b.MaxTokens)
	fmt.Fprintf(out, "  Temperature:     %.2f\n", b.Temperature)
	fmt.Fprintf(out, "  Stream:          %v\n", b.Stream)
	fmt.Fprintf(out, "  Cache Hint:      %v\n", b.CacheHint)
	fmt.Fprintf(out, "  Inflate:         %d\n", b.Inflate)
	fmt.Fprintf(out, "  Output:          %s\n", b.Output)
	fmt.Fprintf(out, "  Request Timeout: %s\n", b.RequestTimeout())
	if b.APIKey != "" {
		fmt.Fprintln(out, "  API Key:         (set)")
	}

	if len(cfg.Suite.Models) > 0 {
		fmt.Fprintln(out, "\nSuite:")
		fmt.Fprintf(out, "  Models:          %v\n", cfg.Suite.Models)
		fmt.Fprintf(out, "  Output Dir:      %s\n", cfg.Suite.OutputDir)
		fmt.Fprintf(out, "  Pause:           %v\n", cfg.Suite.Pause)
	}

	p := cfg.Proxy
	fmt.Fprintln(out, "\nProxy:")
	fmt.Fprintf(out, "  Listen:          %s\n", p.Listen)
	fmt.Fprintf(out, "  Upstream:        %s\n", p.UpstreamURL)
	fmt.Fprintf(out, "  Default Model:   %s\n", p.Model())
	fmt.Fprintf(out, "  Default Tokens:  %d\n", p.MaxTokens())
}
