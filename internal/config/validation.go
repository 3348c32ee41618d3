// internal/config/validation.go
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/valpere/scraperotor/internal/archive"
	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/utils"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the whole configuration and reports every problem at once
// as an *errors.ValidationError.
func (c *Config) Validate() error {
	v := &errors.ValidationError{}

	c.validateLogging(v)
	merge(v, "server", c.Server.Validate())
	merge(v, "pool", c.Pool.Validate())
	c.validateMonitor(v)
	c.validateProxies(v)
	c.validateQuotas(v)
	c.validateBrowser(v)
	c.validateOrchestrator(v)
	c.validateInference(v)
	c.validateArchive(v)

	if c.Pacing.RequestsPerSecond < 0 {
		v.Add("pacing.requests_per_second", formatFloat(c.Pacing.RequestsPerSecond), "cannot be negative")
	}

	return v.OrNil()
}

// merge folds a nested validation error into v under prefix
func merge(v *errors.ValidationError, prefix string, err error) {
	if err == nil {
		return
	}
	var nested *errors.ValidationError
	if errors.As(err, &nested) {
		for _, f := range nested.Fields {
			v.Add(prefix+"."+f.Field, f.Value, f.Message)
		}
		return
	}
	v.Add(prefix, "", err.Error())
}

func (c *Config) validateLogging(v *errors.ValidationError) {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		v.Add("logging.level", c.Logging.Level, "must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		v.Add("logging.format", c.Logging.Format, "must be console or json")
	}
}

func (c *Config) validateMonitor(v *errors.ValidationError) {
	m := c.Monitor
	if m.Interval < m.ProbeTimeout {
		v.Add("monitor.interval", m.Interval.String(), "must not be shorter than probe_timeout")
	}
	if err := utils.ValidateHTTPURL(m.ProbeURL); err != nil {
		v.Add("monitor.probe_url", m.ProbeURL, err.Error())
	}
	if m.TLS != nil {
		merge(v, "monitor.tls", proxy.ValidateTLSConfig(m.TLS))
	}
}

func (c *Config) validateProxies(v *errors.ValidationError) {
	seen := make(map[string]int)
	for i, p := range c.Proxies {
		prefix := fmt.Sprintf("proxies[%d]", i)
		merge(v, prefix, p.Validate())
		if p.ID == "" {
			continue
		}
		if first, dup := seen[p.ID]; dup {
			v.Add(prefix+".id", p.ID, fmt.Sprintf("duplicates proxies[%d]", first))
			continue
		}
		seen[p.ID] = i
	}
}

func (c *Config) validateQuotas(v *errors.ValidationError) {
	seen := make(map[string]bool)
	for i, q := range c.Quotas {
		prefix := fmt.Sprintf("quotas[%d]", i)
		merge(v, prefix, q.Validate())
		if q.Provider != "" && seen[q.Provider] {
			v.Add(prefix+".provider", q.Provider, "declared twice")
		}
		seen[q.Provider] = true
	}
}

func (c *Config) validateBrowser(v *errors.ValidationError) {
	switch c.Browser.Backend {
	case BackendChrome, BackendHTTP:
	default:
		v.Add("browser.backend", c.Browser.Backend, "must be chrome or http")
	}
	if c.Browser.MaxContexts < 0 {
		v.Add("browser.max_contexts", strconv.Itoa(c.Browser.MaxContexts), "cannot be negative")
	}
}

func (c *Config) validateOrchestrator(v *errors.ValidationError) {
	o := c.Orchestrator
	if o.SweepInterval > o.Retention {
		v.Add("orchestrator.sweep_interval", o.SweepInterval.String(), "must not exceed retention")
	}
	if o.SelectRetry.MaxRetries < 0 {
		v.Add("orchestrator.select_retry.max_retries", strconv.Itoa(o.SelectRetry.MaxRetries), "cannot be negative")
	}
	if o.SelectRetry.BackoffFactor < 1 {
		v.Add("orchestrator.select_retry.backoff_factor", formatFloat(o.SelectRetry.BackoffFactor), "must be at least 1")
	}
}

func (c *Config) validateInference(v *errors.ValidationError) {
	switch c.Inference.Backend {
	case InferenceNone, InferenceLocal:
	case InferenceRemote:
		if err := utils.ValidateHTTPURL(c.Inference.Remote.Endpoint); err != nil {
			v.Add("inference.remote.endpoint", c.Inference.Remote.Endpoint, err.Error())
		}
		if c.Inference.Remote.RetryCount < 0 {
			v.Add("inference.remote.retry_count", strconv.Itoa(c.Inference.Remote.RetryCount), "cannot be negative")
		}
	default:
		v.Add("inference.backend", c.Inference.Backend, "must be none, local or remote")
	}
}

func (c *Config) validateArchive(v *errors.ValidationError) {
	a := c.Archive
	switch a.Driver {
	case ArchiveMemory:
		return
	case archive.DriverSQLite, archive.DriverPostgres, archive.DriverMySQL:
	default:
		v.Add("archive.driver", a.Driver, "must be memory, sqlite3, postgres or mysql")
		return
	}
	if a.DSN == "" {
		v.Add("archive.dsn", "", "required for SQL archives")
	}
	if a.Table != "" {
		if err := archive.ValidateIdentifier(a.Table); err != nil {
			v.Add("archive.table", a.Table, err.Error())
		}
	}
	if a.MaxAge < 0 {
		v.Add("archive.max_age", a.MaxAge.String(), "cannot be negative")
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
