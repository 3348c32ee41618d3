// internal/proxy/monitor.go
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/valpere/scraperotor/internal/utils"
)

var monitorLogger = utils.NewComponentLogger("proxy-monitor")

// CheckSummary reports one probe round.
type CheckSummary struct {
	Probed    int           `json:"probed"`
	Healthy   int           `json:"healthy"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// HealthMonitor periodically probes every registered point and sweeps quotas.
// It never removes points; probe failures are inputs to the health state.
type HealthMonitor struct {
	pool   *Pool
	prober Prober
	config MonitorConfig
	sem    *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	lastRun  CheckSummary
}

// NewHealthMonitor creates a monitor for pool using prober.
func NewHealthMonitor(pool *Pool, prober Prober, config MonitorConfig) *HealthMonitor {
	config = config.WithDefaults()
	return &HealthMonitor{
		pool:     pool,
		prober:   prober,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentProbes)),
		inFlight: make(map[string]bool),
	}
}

// Start launches the probe loop until ctx is done or Stop is called.
func (hm *HealthMonitor) Start(ctx context.Context) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.running {
		return fmt.Errorf("health monitor is already running")
	}
	hm.running = true
	hm.stopChan = make(chan struct{})

	hm.wg.Add(1)
	go hm.loop(ctx, hm.stopChan)

	monitorLogger.Infof("health monitor started (interval %s, max %d concurrent probes)",
		hm.config.Interval, hm.config.MaxConcurrentProbes)
	return nil
}

// Stop ends the probe loop and waits for in-flight probes.
func (hm *HealthMonitor) Stop() error {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return nil
	}
	hm.running = false
	close(hm.stopChan)
	hm.mu.Unlock()

	hm.wg.Wait()
	monitorLogger.Info("health monitor stopped")
	return nil
}

func (hm *HealthMonitor) loop(ctx context.Context, stop chan struct{}) {
	defer hm.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(hm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hm.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow probes every registered point not already mid-probe, then sweeps
// quotas and expired affinity. It blocks until the round completes.
func (hm *HealthMonitor) CheckNow(ctx context.Context) CheckSummary {
	summary := CheckSummary{StartedAt: time.Now()}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, point := range hm.pool.registry.List() {
		if !hm.claim(point.ID) {
			summary.Skipped++
			continue
		}
		if err := hm.sem.Acquire(ctx, 1); err != nil {
			hm.unclaim(point.ID)
			summary.Skipped++
			continue
		}

		wg.Add(1)
		go func(point EgressPoint) {
			defer wg.Done()
			defer hm.sem.Release(1)
			defer hm.unclaim(point.ID)

			ok := hm.probe(ctx, point)
			mu.Lock()
			summary.Probed++
			if ok {
				summary.Healthy++
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}(point)
	}
	wg.Wait()

	hm.pool.sweep()

	summary.Duration = time.Since(summary.StartedAt)
	hm.mu.Lock()
	hm.lastRun = summary
	hm.mu.Unlock()

	monitorLogger.WithFields(map[string]interface{}{
		"probed":  summary.Probed,
		"healthy": summary.Healthy,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Debug("probe round finished")
	return summary
}

// CheckOne probes a single point immediately and reports whether it passed.
func (hm *HealthMonitor) CheckOne(ctx context.Context, id string) (bool, error) {
	point, ok := hm.pool.registry.Get(id)
	if !ok {
		return false, unknownEgress(id)
	}
	if !hm.claim(id) {
		return false, fmt.Errorf("egress point %s is already being probed", id)
	}
	defer hm.unclaim(id)

	if err := hm.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer hm.sem.Release(1)

	return hm.probe(ctx, point), nil
}

// LastRun returns the summary of the latest completed round.
func (hm *HealthMonitor) LastRun() CheckSummary {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.lastRun
}

func (hm *HealthMonitor) probe(ctx context.Context, point EgressPoint) bool {
	probeCtx, cancel := context.WithTimeout(ctx, hm.config.ProbeTimeout)
	defer cancel()

	latency, err := hm.prober.Probe(probeCtx, point)
	if err != nil {
		monitorLogger.WithFields(map[string]interface{}{
			"egress_id": point.ID,
			"error":     err.Error(),
		}).Debug("probe failed")
		_ = hm.pool.recordOutcome(point.ID, Outcome{Success: false, Err: err}, false)
		return false
	}

	hm.pool.health.ObserveLatency(point.ID, latency, hm.pool.now())
	_ = hm.pool.MarkHealthy(point.ID)
	return true
}

func (hm *HealthMonitor) claim(id string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.inFlight[id] {
		return false
	}
	hm.inFlight[id] = true
	return true
}

func (hm *HealthMonitor) unclaim(id string) {
	hm.mu.Lock()
	delete(hm.inFlight, id)
	hm.mu.Unlock()
}
