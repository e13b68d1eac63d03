// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// defaultRequestTimeout is the default timeout for a single inference call.
	defaultRequestTimeout = 600 * time.Second
	// defaultProxyModel is the model the proxy forwards to when a client omits one.
	defaultProxyModel = "Qwen/Qwen2.5-VL-7B-Instruct"
	// defaultProxyMaxTokens is the output cap the proxy applies when a client omits one.
	defaultProxyMaxTokens = 100
)

// Backend names accepted by the transport factory.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendNative    = "native"
)

// Fixture modes.
const (
	ModeImage = "image"
	ModeText  = "text"
)

// Config represents the top-level application configuration.
type Config struct {
	Debug      bool        `json:"debug"`
	LogFile    string      `json:"logFile,omitempty"`
	Bench      BenchConfig `json:"bench"`
	Suite      SuiteConfig `json:"suite"`
	Proxy      ProxyConfig `json:"proxy"`
	Images     ImageConfig `json:"images"`
	ConfigPath string      `json:"-"`
}

// BenchConfig describes a single multi-turn benchmark run.
type BenchConfig struct {
	Backend        string  `json:"backend"`
	BaseURL        string  `json:"baseURL"`
	APIKey         string  `json:"apiKey,omitempty"`
	Model          string  `json:"model"`
	Mode           string  `json:"mode"`
	DataDir        string  `json:"dataDir"`
	AssetPattern   string  `json:"assetPattern,omitempty"`
	QuestionsFile  string  `json:"questionsFile,omitempty"`
	Repeat         int     `json:"repeat"`
	Seed           int64   `json:"seed"`
	MaxTokens      int     `json:"maxTokens"`
	Temperature    float64 `json:"temperature"`
	Stream         bool    `json:"stream"`
	CacheHint      bool    `json:"cacheHint"`
	Inflate        int     `json:"inflate"`
	Output         string  `json:"output"`
	TimeoutSeconds int     `json:"timeout,omitempty" mapstructure:"timeout"`
}

// SuiteConfig lists the models benchmarked back to back by the suite command.
type SuiteConfig struct {
	Models    []string `json:"models"`
	OutputDir string   `json:"outputDir"`
	Pause     bool     `json:"pause"`
}

// ProxyConfig configures the WebSocket relay.
type ProxyConfig struct {
	Listen           string `json:"listen"`
	UpstreamURL      string `json:"upstreamURL"`
	APIKey           string `json:"apiKey,omitempty"`
	DefaultModel     string `json:"defaultModel"`
	DefaultMaxTokens int    `json:"defaultMaxTokens"`
	TimeoutSeconds   int    `json:"timeout,omitempty" mapstructure:"timeout"`
}

// ImageConfig configures fixture image preparation.
type ImageConfig struct {
	Dir          string `json:"dir"`
	Pattern      string `json:"pattern"`
	TargetHeight int    `json:"targetHeight"`
	Quality      int    `json:"quality"`
}

// RequestTimeout returns the timeout for one inference call, falling back to the default if not specified.
func (b BenchConfig) RequestTimeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the upstream timeout used by the proxy.
func (p ProxyConfig) RequestTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Model returns the model used when the client request omits one.
func (p ProxyConfig) Model() string {
	if m := strings.TrimSpace(p.DefaultModel); m != "" {
		return m
	}
	return defaultProxyModel
}

// MaxTokens returns the output cap used when the client request omits one.
func (p ProxyConfig) MaxTokens() int {
	if p.DefaultMaxTokens <= 0 {
		return defaultProxyMaxTokens
	}
	return p.DefaultMaxTokens
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "vlmbench.log"
}

// Validate checks the benchmark settings that cannot be defaulted.
func (b BenchConfig) Validate() error {
	switch NormalizeBackend(b.Backend) {
	case BackendOpenAI, BackendAnthropic, BackendNative:
	default:
		return fmt.Errorf("unsupported backend %q (expected openai, anthropic or native)", b.Backend)
	}
	switch b.Mode {
	case ModeImage, ModeText:
	default:
		return fmt.Errorf("unsupported mode %q (expected image or text)", b.Mode)
	}
	if strings.TrimSpace(b.Model) == "" {
		return errors.New("model is required")
	}
	if b.Repeat < 1 {
		return fmt.Errorf("repeat must be at least 1, got %d", b.Repeat)
	}
	if b.MaxTokens < 1 {
		return fmt.Errorf("maxTokens must be at least 1, got %d", b.MaxTokens)
	}
	if b.CacheHint && NormalizeBackend(b.Backend) != BackendAnthropic {
		return errors.New("cacheHint is only supported by the anthropic backend")
	}
	return nil
}

// NormalizeBackend maps accepted aliases onto the canonical backend names.
func NormalizeBackend(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "openai", "vllm", "openai-compatible":
		return BackendOpenAI
	case "anthropic", "claude":
		return BackendAnthropic
	case "native", "engine":
		return BackendNative
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// Load reads the application configuration from a JSON file.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	if config.Bench.TimeoutSeconds <= 0 {
		config.Bench.TimeoutSeconds = int(defaultRequestTimeout.Seconds())
	}
	config.ConfigPath = path
	return config, nil
}
