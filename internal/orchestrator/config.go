// internal/orchestrator/config.go
package orchestrator

import (
	"time"

	"github.com/valpere/scraperotor/internal/errors"
)

// Config tunes the orchestrator
type Config struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	Retention          time.Duration `yaml:"retention" json:"retention"`
	SweepInterval      time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	PageTimeout        time.Duration `yaml:"page_timeout" json:"page_timeout"`
	// ContextTimeout bounds the lifetime of one browser context.
	ContextTimeout    time.Duration `yaml:"context_timeout" json:"context_timeout"`
	PreviewMaxRecords int           `yaml:"preview_max_records" json:"preview_max_records"`
	// MaxAddressAttempts is how often an address is retried on a fresh egress point
	// after a navigation failure through a proxy.
	MaxAddressAttempts int                `yaml:"max_address_attempts" json:"max_address_attempts"`
	SelectRetry        errors.RetryConfig `yaml:"select_retry" json:"select_retry"`
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 4,
		Retention:          time.Hour,
		SweepInterval:      time.Minute,
		PageTimeout:        30 * time.Second,
		ContextTimeout:     10 * time.Minute,
		PreviewMaxRecords:  5,
		MaxAddressAttempts: 2,
		SelectRetry:        errors.DefaultRetryConfig(),
	}
}

// WithDefaults fills unset fields from DefaultConfig
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = def.PageTimeout
	}
	if c.ContextTimeout <= 0 {
		c.ContextTimeout = def.ContextTimeout
	}
	if c.PreviewMaxRecords <= 0 {
		c.PreviewMaxRecords = def.PreviewMaxRecords
	}
	if c.MaxAddressAttempts <= 0 {
		c.MaxAddressAttempts = def.MaxAddressAttempts
	}
	if c.SelectRetry == (errors.RetryConfig{}) {
		c.SelectRetry = def.SelectRetry
	}
	return c
}
