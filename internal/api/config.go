// internal/api/config.go
package api

import (
	"strconv"
	"time"

	"github.com/valpere/scraperotor/internal/errors"
)

// Config configures the management HTTP server
type Config struct {
	Address string `yaml:"address" json:"address"`
	// APIKey enables bearer authentication on /api/v1 when set.
	APIKey string `yaml:"api_key,omitempty" json:"-"`

	// RequestsPerSecond limits each client address; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// DefaultConfig returns the server defaults
func DefaultConfig() Config {
	return Config{
		Address:           ":8080",
		RequestsPerSecond: 10,
		Burst:             20,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		MaxBodyBytes:      1 << 20,
	}
}

// WithDefaults fills unset fields
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	return c
}

// Validate checks a defaulted config
func (c Config) Validate() error {
	v := &errors.ValidationError{}
	if c.Address == "" {
		v.Add("address", "", "cannot be empty")
	}
	if c.RequestsPerSecond < 0 {
		v.Add("requests_per_second", strconv.FormatFloat(c.RequestsPerSecond, 'f', -1, 64), "cannot be negative")
	}
	if c.APIKey != "" && len(c.APIKey) < 8 {
		v.Add("api_key", "", "must be at least 8 characters")
	}
	return v.OrNil()
}
