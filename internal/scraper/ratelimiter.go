// internal/scraper/ratelimiter.go
package scraper

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/scraperotor/internal/utils"
)

// Default pacing constants
const (
	DefaultBurstSize           = 1
	DefaultMaxInterval         = 30 * time.Second
	DefaultErrorRateThreshold  = 0.1 // 10% error rate
	DefaultConsecutiveErrLimit = 3
	ErrorRateMultiplier        = 3.0 // Up to 4x slower at 100% error rate (1 + 3)
	MaxConsecutiveMultiplier   = 10.0
)

// PacingConfig configures per-host request pacing shared by all tasks
type PacingConfig struct {
	// RequestsPerSecond per target host; 0 disables pacing.
	RequestsPerSecond   float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst               int           `yaml:"burst" json:"burst"`
	MaxInterval         time.Duration `yaml:"max_interval" json:"max_interval"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold" json:"error_rate_threshold"`
	ConsecutiveErrLimit int           `yaml:"consecutive_err_limit" json:"consecutive_err_limit"`
}

// WithDefaults fills unset fields
func (c PacingConfig) WithDefaults() PacingConfig {
	if c.Burst <= 0 {
		c.Burst = DefaultBurstSize
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if c.ConsecutiveErrLimit <= 0 {
		c.ConsecutiveErrLimit = DefaultConsecutiveErrLimit
	}
	return c
}

// hostLimiter slows down when a host keeps failing and recovers on success.
type hostLimiter struct {
	limiter         *rate.Limiter
	baseInterval    time.Duration
	currentInterval time.Duration
	successCount    int
	errorCount      int
	consecutiveErrs int
}

// HostPacer rate limits requests per target host.
type HostPacer struct {
	config PacingConfig
	mu     sync.Mutex
	hosts  map[string]*hostLimiter
}

// NewHostPacer creates a pacer. A zero RequestsPerSecond yields a pacer that never waits.
func NewHostPacer(config PacingConfig) *HostPacer {
	return &HostPacer{
		config: config.WithDefaults(),
		hosts:  make(map[string]*hostLimiter),
	}
}

func (p *HostPacer) enabled() bool {
	return p != nil && p.config.RequestsPerSecond > 0
}

func (p *HostPacer) host(rawURL string) *hostLimiter {
	host, err := utils.ExtractDomain(rawURL)
	if err != nil || host == "" {
		host = rawURL
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[host]
	if !ok {
		interval := time.Duration(float64(time.Second) / p.config.RequestsPerSecond)
		h = &hostLimiter{
			limiter:         rate.NewLimiter(rate.Every(interval), p.config.Burst),
			baseInterval:    interval,
			currentInterval: interval,
		}
		p.hosts[host] = h
	}
	return h
}

// Wait blocks until a request to rawURL's host is allowed
func (p *HostPacer) Wait(ctx context.Context, rawURL string) error {
	if !p.enabled() {
		return ctx.Err()
	}
	return p.host(rawURL).limiter.Wait(ctx)
}

// Report feeds the outcome of a request back into the host's pace.
func (p *HostPacer) Report(rawURL string, success bool) {
	if !p.enabled() {
		return
	}
	h := p.host(rawURL)

	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		h.successCount++
		h.consecutiveErrs = 0
	} else {
		h.errorCount++
		h.consecutiveErrs++
	}
	p.adapt(h)
}

// adapt must be called with p.mu held
func (p *HostPacer) adapt(h *hostLimiter) {
	total := h.successCount + h.errorCount
	if total == 0 {
		return
	}
	errorRate := float64(h.errorCount) / float64(total)

	multiplier := 1.0
	if errorRate > p.config.ErrorRateThreshold {
		multiplier = 1 + errorRate*ErrorRateMultiplier
	}
	if h.consecutiveErrs > p.config.ConsecutiveErrLimit {
		ratio := float64(h.consecutiveErrs) / float64(p.config.ConsecutiveErrLimit)
		multiplier *= math.Min(ratio, MaxConsecutiveMultiplier)
	}

	interval := time.Duration(float64(h.baseInterval) * multiplier)
	if interval > p.config.MaxInterval {
		interval = p.config.MaxInterval
	}
	if interval != h.currentInterval {
		h.currentInterval = interval
		h.limiter.SetLimit(rate.Every(interval))
	}
}

// Interval returns the current pacing interval for rawURL's host
func (p *HostPacer) Interval(rawURL string) time.Duration {
	if !p.enabled() {
		return 0
	}
	h := p.host(rawURL)
	p.mu.Lock()
	defer p.mu.Unlock()
	return h.currentInterval
}
