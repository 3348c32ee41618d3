// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/scraperotor/internal/api"
	"github.com/valpere/scraperotor/internal/archive"
	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/monitoring"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
)

// Default returns a configuration that runs a local service with an empty
// pool, the Chrome backend and an in-memory archive.
func Default() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "info", Format: "console"},
		Server:       api.DefaultConfig(),
		Pool:         proxy.DefaultPoolConfig(),
		Monitor:      proxy.DefaultMonitorConfig(),
		Browser:      BrowserSettings{Backend: BackendChrome, BrowserConfig: *browser.DefaultBrowserConfig()},
		Orchestrator: orchestrator.DefaultConfig(),
		Inference:    InferenceConfig{Backend: InferenceLocal},
		Archive: ArchiveConfig{
			Options:       archive.Options{Driver: ArchiveMemory},
			Capacity:      1000,
			PruneInterval: time.Hour,
		},
		Metrics: monitoring.MetricsConfig{Namespace: "scraperotor", EnableRuntimeMetrics: true},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment before parsing; keys absent from the document
// keep their Default values.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := os.ExpandEnv(string(data))

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}

	return LoadFromBytes(data)
}

// SaveToFile validates and writes configuration as YAML
func SaveToFile(config *Config, filename string) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// credentials may be inlined
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// applyDefaults fills fields the document set to zero values
func applyDefaults(config *Config) {
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}

	config.Server = config.Server.WithDefaults()
	config.Pool = config.Pool.WithDefaults()
	config.Monitor = config.Monitor.WithDefaults()
	config.Orchestrator = config.Orchestrator.WithDefaults()
	config.Pacing = config.Pacing.WithDefaults()

	if config.Browser.Backend == "" {
		config.Browser.Backend = BackendChrome
	}
	if config.Browser.Timeout <= 0 {
		config.Browser.Timeout = 30 * time.Second
	}

	if config.Inference.Backend == "" {
		config.Inference.Backend = InferenceLocal
	}

	if config.Archive.Driver == "" {
		config.Archive.Driver = ArchiveMemory
	}
	if config.Archive.Capacity <= 0 {
		config.Archive.Capacity = 1000
	}
	if config.Archive.PruneInterval <= 0 {
		config.Archive.PruneInterval = time.Hour
	}

	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "scraperotor"
	}

	for i := range config.Proxies {
		if config.Proxies[i].Type == "" {
			config.Proxies[i].Type = proxy.ProxyTypeHTTP
		}
		if config.Proxies[i].AuthType == "" {
			if config.Proxies[i].Username != "" {
				config.Proxies[i].AuthType = proxy.AuthBasic
			} else {
				config.Proxies[i].AuthType = proxy.AuthNone
			}
		}
	}
}
