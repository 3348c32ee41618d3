// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Error    error                  `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheck represents a single health check
type HealthCheck struct {
	Name      string                                      `json:"name"`
	Critical  bool                                        `json:"critical"`
	Timeout   time.Duration                               `json:"-"`
	CheckFunc func(ctx context.Context) HealthCheckResult `json:"-"`
}

// CheckReport is the last outcome of one check
type CheckReport struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Critical  bool                   `json:"critical"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	LastCheck time.Time              `json:"last_check"`
	Duration  time.Duration          `json:"duration"`
}

// SystemHealth represents overall system health information
type SystemHealth struct {
	Status     HealthStatus  `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Version    string        `json:"version,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	Goroutines int           `json:"goroutines"`
	Checks     []CheckReport `json:"checks"`
}

// HealthConfig configuration for health monitoring
type HealthConfig struct {
	Version        string        `json:"version,omitempty"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	// CacheTTL reuses the last report for this long; 0 runs checks on every call.
	CacheTTL time.Duration `json:"cache_ttl"`
}

// HealthManager runs registered checks on demand
type HealthManager struct {
	config  HealthConfig
	started time.Time

	mu     sync.RWMutex
	checks []*HealthCheck

	cacheMu sync.Mutex
	cached  *SystemHealth
}

// NewHealthManager creates a new health manager
func NewHealthManager(config HealthConfig) *HealthManager {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 5 * time.Second
	}
	return &HealthManager{config: config, started: time.Now()}
}

// RegisterCheck registers a check, replacing one with the same name
func (hm *HealthManager) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = hm.config.DefaultTimeout
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for i, c := range hm.checks {
		if c.Name == check.Name {
			hm.checks[i] = check
			return
		}
	}
	hm.checks = append(hm.checks, check)
}

// Check runs every check concurrently and aggregates the result.
// An unhealthy critical check makes the system unhealthy; anything else
// short of healthy makes it degraded.
func (hm *HealthManager) Check(ctx context.Context) SystemHealth {
	if hm.config.CacheTTL > 0 {
		hm.cacheMu.Lock()
		defer hm.cacheMu.Unlock()
		if hm.cached != nil && time.Since(hm.cached.Timestamp) < hm.config.CacheTTL {
			return *hm.cached
		}
	}

	hm.mu.RLock()
	checks := append([]*HealthCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	reports := make([]CheckReport, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, c *HealthCheck) {
			defer wg.Done()
			reports[i] = runCheck(ctx, c)
		}(i, check)
	}
	wg.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })

	health := SystemHealth{
		Status:     HealthStatusHealthy,
		Timestamp:  time.Now(),
		Version:    hm.config.Version,
		Uptime:     time.Since(hm.started),
		Goroutines: runtime.NumGoroutine(),
		Checks:     reports,
	}
	for _, r := range reports {
		switch {
		case r.Status == HealthStatusHealthy:
		case r.Status == HealthStatusUnhealthy && r.Critical:
			health.Status = HealthStatusUnhealthy
		case health.Status == HealthStatusHealthy:
			health.Status = HealthStatusDegraded
		}
	}

	if hm.config.CacheTTL > 0 {
		hm.cached = &health
	}
	return health
}

func runCheck(ctx context.Context, check *HealthCheck) CheckReport {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	result := HealthCheckResult{Status: HealthStatusUnknown, Message: "No check function defined"}
	if check.CheckFunc != nil {
		result = check.CheckFunc(checkCtx)
	}

	report := CheckReport{
		Name:      check.Name,
		Status:    result.Status,
		Critical:  check.Critical,
		Message:   result.Message,
		Metadata:  result.Metadata,
		LastCheck: start,
		Duration:  time.Since(start),
	}
	if result.Error != nil {
		report.Error = result.Error.Error()
	}
	return report
}

// HealthHandler serves the aggregated health; unhealthy maps to 503
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// DatabaseHealthCheck creates a database connectivity health check
func DatabaseHealthCheck(name string, ping func(ctx context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:     name,
		Critical: true,
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			if err := ping(ctx); err != nil {
				return HealthCheckResult{
					Status:  HealthStatusUnhealthy,
					Message: "Database connection failed",
					Error:   err,
				}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Message: "Database connection successful"}
		},
	}
}

// PoolHealthCheck reports the egress pool: unhealthy with no healthy point,
// degraded while some points are down.
func PoolHealthCheck(src PoolSource) *HealthCheck {
	return &HealthCheck{
		Name:     "egress_pool",
		Critical: true,
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			stats := src.Stats()
			meta := map[string]interface{}{
				"total":   stats.TotalProxies,
				"healthy": stats.HealthyProxies,
			}
			switch {
			case stats.TotalProxies == 0:
				return HealthCheckResult{Status: HealthStatusDegraded, Message: "no egress points registered", Metadata: meta}
			case stats.HealthyProxies == 0:
				return HealthCheckResult{Status: HealthStatusUnhealthy, Message: "no healthy egress points", Metadata: meta}
			case stats.HealthyProxies < stats.TotalProxies:
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("%d of %d egress points unhealthy", stats.TotalProxies-stats.HealthyProxies, stats.TotalProxies),
					Metadata: meta,
				}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Metadata: meta}
		},
	}
}

// TaskHealthCheck reports orchestrator saturation as degraded
func TaskHealthCheck(src TaskSource) *HealthCheck {
	return &HealthCheck{
		Name: "orchestrator",
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			stats := src.Stats()
			meta := map[string]interface{}{
				"pending": stats.Pending,
				"running": stats.Running,
			}
			if stats.Pending > 0 && stats.Running >= stats.MaxParallel {
				return HealthCheckResult{Status: HealthStatusDegraded, Message: "all task slots busy", Metadata: meta}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Metadata: meta}
		},
	}
}

// GoroutineHealthCheck flags goroutine growth past maxGoroutines
func GoroutineHealthCheck(maxGoroutines int) *HealthCheck {
	return &HealthCheck{
		Name: "goroutines",
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			count := runtime.NumGoroutine()
			meta := map[string]interface{}{"count": count, "max": maxGoroutines}
			if count > maxGoroutines {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("goroutine count %d exceeds %d", count, maxGoroutines),
					Metadata: meta,
				}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Metadata: meta}
		},
	}
}
