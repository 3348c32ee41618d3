// internal/config/types.go

// Package config loads the service configuration: the egress pool and its
// monitor, the browser backend, the task orchestrator and the surfaces
// around them.
package config

import (
	"time"

	"github.com/valpere/scraperotor/internal/api"
	"github.com/valpere/scraperotor/internal/archive"
	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/monitoring"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
)

// Browser backends
const (
	BackendChrome = "chrome"
	BackendHTTP   = "http"
)

// Inference backends
const (
	InferenceNone   = "none"
	InferenceLocal  = "local"
	InferenceRemote = "remote"
)

// ArchiveMemory keeps evicted tasks in a bounded in-process archive.
const ArchiveMemory = "memory"

// Config is the root service configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  api.Config    `yaml:"server" json:"server"`

	// Egress pool
	Pool    proxy.PoolConfig    `yaml:"pool" json:"pool"`
	Monitor proxy.MonitorConfig `yaml:"monitor" json:"monitor"`
	Proxies []proxy.EgressPoint `yaml:"proxies,omitempty" json:"proxies,omitempty"`
	Quotas  []proxy.QuotaConfig `yaml:"quotas,omitempty" json:"quotas,omitempty"`

	// Tasks
	Browser      BrowserSettings      `yaml:"browser" json:"browser"`
	Orchestrator orchestrator.Config  `yaml:"orchestrator" json:"orchestrator"`
	Pacing       scraper.PacingConfig `yaml:"pacing" json:"pacing"`
	Inference    InferenceConfig      `yaml:"inference" json:"inference"`
	Archive      ArchiveConfig        `yaml:"archive" json:"archive"`

	Metrics monitoring.MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // console or json
}

// BrowserSettings picks the automation backend and configures it
type BrowserSettings struct {
	Backend               string `yaml:"backend" json:"backend"`
	browser.BrowserConfig `yaml:",inline"`
}

// InferenceConfig selects the selector inference backend
type InferenceConfig struct {
	Backend string               `yaml:"backend" json:"backend"`
	Remote  scraper.RemoteConfig `yaml:"remote,omitempty" json:"remote,omitempty"`
}

// ArchiveConfig configures where finished tasks go after retention.
// Driver is "memory" or one of the SQL drivers.
type ArchiveConfig struct {
	archive.Options `yaml:",inline"`

	// Capacity bounds the memory archive.
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	// MaxAge prunes SQL rows older than this; 0 keeps everything.
	MaxAge        time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	PruneInterval time.Duration `yaml:"prune_interval,omitempty" json:"prune_interval,omitempty"`
}

// IsSQL reports whether the archive is backed by a database
func (a ArchiveConfig) IsSQL() bool {
	return a.Driver != "" && a.Driver != ArchiveMemory
}
