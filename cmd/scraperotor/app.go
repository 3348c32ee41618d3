// cmd/scraperotor/app.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/valpere/scraperotor/internal/api"
	"github.com/valpere/scraperotor/internal/archive"
	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/config"
	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/monitoring"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
	"github.com/valpere/scraperotor/internal/utils"
)

var appLogger = utils.NewComponentLogger("scraperotor")

const maxGoroutines = 10000

// app owns every long-lived component of the service
type app struct {
	cfg *config.Config

	bus        *events.Bus
	pool       *proxy.Pool
	monitor    *proxy.HealthMonitor
	automation *browser.Tracker
	archive    orchestrator.Archive
	sqlArchive *archive.SQLArchive
	orch       *orchestrator.Orchestrator
	metrics    *monitoring.Metrics
	health     *monitoring.HealthManager
	server     *api.Server
}

// newApp wires the components described by cfg. Nothing listens or probes
// until run.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := utils.SetupLogging(cfg.Logging.Level, cfg.Logging.Format, os.Stderr); err != nil {
		appLogger.Warnf("logging setup: %v", err)
	}

	a := &app{cfg: cfg, bus: events.NewBus()}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	if err := a.buildPool(); err != nil {
		return nil, err
	}

	prober, err := proxy.NewHTTPProber(cfg.Monitor.ProbeURL, cfg.Monitor.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create prober: %w", err)
	}
	a.monitor = proxy.NewHealthMonitor(a.pool, prober, cfg.Monitor)

	var inner browser.Automation
	switch cfg.Browser.Backend {
	case config.BackendHTTP:
		inner = browser.NewHTTPAutomation(&cfg.Browser.BrowserConfig)
	default:
		inner = browser.NewChromeAutomation(&cfg.Browser.BrowserConfig)
	}
	a.automation = browser.NewTracker(inner, cfg.Browser.MaxContexts)

	inference, err := newInference(cfg.Inference)
	if err != nil {
		return nil, err
	}

	if err := a.openArchive(ctx); err != nil {
		return nil, err
	}

	a.orch, err = orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Automation: a.automation,
		Pool:       a.pool,
		Inference:  inference,
		Pacer:      scraper.NewHostPacer(cfg.Pacing),
		Archive:    a.archive,
		Bus:        a.bus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.metrics = monitoring.NewMetrics(cfg.Metrics)
	a.metrics.RegisterPool(a.pool)
	a.metrics.RegisterTasks(a.orch)
	a.metrics.Attach(a.bus)

	a.health = monitoring.NewHealthManager(monitoring.HealthConfig{Version: version, CacheTTL: 2 * time.Second})
	a.health.RegisterCheck(monitoring.PoolHealthCheck(a.pool))
	a.health.RegisterCheck(monitoring.TaskHealthCheck(a.orch))
	a.health.RegisterCheck(monitoring.GoroutineHealthCheck(maxGoroutines))
	if a.sqlArchive != nil {
		a.health.RegisterCheck(monitoring.DatabaseHealthCheck("archive", a.sqlArchive.Ping))
	}

	a.server, err = api.NewServer(cfg.Server, api.Dependencies{
		Pool:         a.pool,
		Monitor:      a.monitor,
		Orchestrator: a.orch,
		Bus:          a.bus,
		Metrics:      a.metrics,
		Health:       a.health,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *app) buildPool() error {
	pool, err := proxy.NewPool(a.cfg.Pool, a.bus)
	if err != nil {
		return fmt.Errorf("invalid pool configuration: %w", err)
	}
	a.pool = pool

	now := time.Now()
	for _, q := range a.cfg.Quotas {
		pool.Quotas().Configure(q, now)
	}
	for _, p := range a.cfg.Proxies {
		if _, err := pool.Add(p); err != nil {
			return fmt.Errorf("failed to register proxy %s: %w", p.Address(), err)
		}
	}
	return nil
}

func newInference(cfg config.InferenceConfig) (scraper.InferenceBackend, error) {
	switch cfg.Backend {
	case config.InferenceNone:
		return nil, nil
	case config.InferenceRemote:
		backend, err := scraper.NewRemoteBackend(cfg.Remote)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return scraper.NewLocalBackend(), nil
	}
}

func (a *app) openArchive(ctx context.Context) error {
	if !a.cfg.Archive.IsSQL() {
		a.archive = orchestrator.NewMemoryArchive(a.cfg.Archive.Capacity)
		return nil
	}
	sqlArchive, err := archive.Open(ctx, a.cfg.Archive.Options)
	if err != nil {
		return err
	}
	a.sqlArchive = sqlArchive
	a.archive = sqlArchive
	return nil
}

// run starts background work and the API, then blocks until ctx is done
// or the listener fails.
func (a *app) run(ctx context.Context, configPath string) error {
	if a.cfg.Monitor.Enabled {
		if err := a.monitor.Start(ctx); err != nil {
			return err
		}
	}

	if configPath != "" {
		watcher, err := config.NewConfigWatcher(configPath)
		if err != nil {
			appLogger.Warnf("configuration hot reload disabled: %v", err)
		} else {
			watcher.OnChange(a.applyConfig)
			defer watcher.Close()
		}
	}

	pruneDone := make(chan struct{})
	go func() {
		defer close(pruneDone)
		a.pruneLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	appLogger.WithFields(map[string]interface{}{
		"version":  version,
		"address":  a.cfg.Server.Address,
		"proxies":  len(a.cfg.Proxies),
		"strategy": a.cfg.Pool.Strategy,
	}).Info("scraperotor started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		appLogger.Warnf("api shutdown: %v", err)
	}
	<-pruneDone
	a.close(shutdownCtx)
	return runErr
}

// applyConfig takes the hot-reloadable parts of a new revision: pool policy
// and quota limits. Everything else needs a restart.
func (a *app) applyConfig(next *config.Config) {
	if err := a.pool.UpdateConfig(next.Pool); err != nil {
		appLogger.Errorf("rejected pool configuration: %v", err)
		return
	}

	previous := make(map[string]proxy.QuotaConfig, len(a.cfg.Quotas))
	for _, q := range a.cfg.Quotas {
		previous[q.Provider] = q
	}
	now := time.Now()
	for _, q := range next.Quotas {
		if old, ok := previous[q.Provider]; ok && old == q {
			continue
		}
		a.pool.Quotas().Configure(q, now)
		appLogger.WithField("provider", q.Provider).Info("quota limits updated")
	}

	a.cfg.Pool = next.Pool
	a.cfg.Quotas = next.Quotas
}

// pruneLoop deletes archived tasks older than archive.max_age
func (a *app) pruneLoop(ctx context.Context) {
	if a.sqlArchive == nil || a.cfg.Archive.MaxAge <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.Archive.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sqlArchive.Delete(ctx, time.Now().Add(-a.cfg.Archive.MaxAge))
			if err != nil {
				appLogger.Warnf("archive prune failed: %v", err)
				continue
			}
			if n > 0 {
				appLogger.Infof("pruned %d archived tasks", n)
			}
		}
	}
}

// close releases components in reverse dependency order. It tolerates a
// partially built app.
func (a *app) close(ctx context.Context) {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			appLogger.Warnf("orchestrator shutdown: %v", err)
		}
	}
	if a.automation != nil {
		a.automation.Close()
	}
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			appLogger.Warnf("archive close: %v", err)
		}
	}
	a.bus.Close()
	appLogger.Info("scraperotor stopped")
}
