// internal/proxy/config.go
package proxy

import (
	"strconv"
	"time"

	"github.com/valpere/scraperotor/internal/errors"
)

// DefaultProbeURL answers 204 through any working egress point.
const DefaultProbeURL = "https://www.gstatic.com/generate_204"

// PoolConfig holds the runtime-tunable selection policy
type PoolConfig struct {
	Strategy            Strategy      `yaml:"strategy" json:"strategy"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	StickyTTL           time.Duration `yaml:"sticky_ttl" json:"sticky_ttl"`
	EWMAAlpha           float64       `yaml:"ewma_alpha" json:"ewma_alpha"`
	QuotaWarningPercent float64       `yaml:"quota_warning_percent" json:"quota_warning_percent"`
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Strategy:            StrategyRoundRobin,
		FailureThreshold:    3,
		StickyTTL:           10 * time.Minute,
		EWMAAlpha:           0.3,
		QuotaWarningPercent: 80,
	}
}

// WithDefaults fills zero fields from DefaultPoolConfig.
func (c PoolConfig) WithDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.StickyTTL == 0 {
		c.StickyTTL = def.StickyTTL
	}
	if c.EWMAAlpha == 0 {
		c.EWMAAlpha = def.EWMAAlpha
	}
	if c.QuotaWarningPercent == 0 {
		c.QuotaWarningPercent = def.QuotaWarningPercent
	}
	return c
}

// Validate checks a fully defaulted config.
func (c PoolConfig) Validate() error {
	v := &errors.ValidationError{}
	if !c.Strategy.Valid() {
		v.Add("strategy", string(c.Strategy), "must be one of round_robin, random, least_used, fastest")
	}
	if c.FailureThreshold < 1 {
		v.Add("failure_threshold", strconv.Itoa(c.FailureThreshold), "must be at least 1")
	}
	if c.StickyTTL <= 0 {
		v.Add("sticky_ttl", c.StickyTTL.String(), "must be positive")
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		v.Add("ewma_alpha", strconv.FormatFloat(c.EWMAAlpha, 'f', -1, 64), "must be in (0, 1]")
	}
	if c.QuotaWarningPercent <= 0 || c.QuotaWarningPercent > 100 {
		v.Add("quota_warning_percent", strconv.FormatFloat(c.QuotaWarningPercent, 'f', -1, 64), "must be in (0, 100]")
	}
	return v.OrNil()
}

// MonitorConfig configures the background health monitor
type MonitorConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	Interval            time.Duration `yaml:"interval" json:"interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	MaxConcurrentProbes int           `yaml:"max_concurrent_probes" json:"max_concurrent_probes"`
	ProbeURL            string        `yaml:"probe_url" json:"probe_url"`
	TLS                 *TLSConfig    `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// DefaultMonitorConfig returns the monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:             true,
		Interval:            30 * time.Second,
		ProbeTimeout:        10 * time.Second,
		MaxConcurrentProbes: 8,
		ProbeURL:            DefaultProbeURL,
	}
}

// WithDefaults fills zero fields from DefaultMonitorConfig.
func (c MonitorConfig) WithDefaults() MonitorConfig {
	def := DefaultMonitorConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = def.MaxConcurrentProbes
	}
	if c.ProbeURL == "" {
		c.ProbeURL = def.ProbeURL
	}
	return c
}

// QuotaConfig declares the limits of one provider. Zero limits are unlimited.
type QuotaConfig struct {
	Provider       string        `yaml:"provider" json:"provider"`
	RequestsLimit  int64         `yaml:"requests_limit" json:"requests_limit"`
	BandwidthLimit int64         `yaml:"bandwidth_limit" json:"bandwidth_limit"`
	CostLimit      float64       `yaml:"cost_limit" json:"cost_limit"`
	CostPerRequest float64       `yaml:"cost_per_request" json:"cost_per_request"`
	ResetInterval  time.Duration `yaml:"reset_interval" json:"reset_interval"`
}

// Validate checks the quota declaration.
func (c QuotaConfig) Validate() error {
	v := &errors.ValidationError{}
	if c.Provider == "" {
		v.Add("provider", "", "cannot be empty")
	}
	if c.RequestsLimit < 0 {
		v.Add("requests_limit", strconv.FormatInt(c.RequestsLimit, 10), "cannot be negative")
	}
	if c.BandwidthLimit < 0 {
		v.Add("bandwidth_limit", strconv.FormatInt(c.BandwidthLimit, 10), "cannot be negative")
	}
	if c.CostLimit < 0 || c.CostPerRequest < 0 {
		v.Add("cost_limit", "", "costs cannot be negative")
	}
	if c.ResetInterval < 0 {
		v.Add("reset_interval", c.ResetInterval.String(), "cannot be negative")
	}
	return v.OrNil()
}
