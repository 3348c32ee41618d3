// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
)

// PoolSource exposes egress pool statistics
type PoolSource interface {
	Stats() proxy.PoolStats
}

// TaskSource exposes orchestrator statistics
type TaskSource interface {
	Stats() orchestrator.Stats
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace string            `yaml:"namespace" json:"namespace"`
	Subsystem string            `yaml:"subsystem,omitempty" json:"subsystem,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	// EnableRuntimeMetrics adds the Go runtime and process collectors.
	EnableRuntimeMetrics bool `yaml:"enable_runtime_metrics" json:"enable_runtime_metrics"`
}

// Metrics owns a private Prometheus registry, so several instances can
// coexist in one process (tests, embedded servers).
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory
	config   MetricsConfig

	// Event metrics
	eventsTotal  *prometheus.CounterVec
	selections   *prometheus.CounterVec
	degradations *prometheus.CounterVec
	recoveries   *prometheus.CounterVec
	quotaEvents  *prometheus.CounterVec

	// Task metrics
	tasksTotal       *prometheus.CounterVec
	recordsExtracted prometheus.Counter
	taskQuality      prometheus.Histogram

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sub *events.Subscription
}

// NewMetrics creates the metric set on a fresh registry
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "scraperotor"
	}

	registry := prometheus.NewRegistry()
	if config.EnableRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		factory:  promauto.With(registry),
		config:   config,
	}
	m.initializeMetrics()
	return m
}

func (m *Metrics) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.Labels,
	}
}

func (m *Metrics) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.Labels,
	}
}

func (m *Metrics) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.config.Labels,
	}
}

func (m *Metrics) initializeMetrics() {
	m.eventsTotal = m.factory.NewCounterVec(
		m.counterOpts("events_total", "Events published on the bus"),
		[]string{"type"},
	)
	m.selections = m.factory.NewCounterVec(
		m.counterOpts("egress_selections_total", "Egress point selections"),
		[]string{"egress_id", "provider"},
	)
	m.degradations = m.factory.NewCounterVec(
		m.counterOpts("egress_degradations_total", "Egress points marked unhealthy"),
		[]string{"egress_id"},
	)
	m.recoveries = m.factory.NewCounterVec(
		m.counterOpts("egress_recoveries_total", "Egress points restored to healthy"),
		[]string{"egress_id"},
	)
	m.quotaEvents = m.factory.NewCounterVec(
		m.counterOpts("quota_events_total", "Provider quota warnings, exhaustions and resets"),
		[]string{"provider", "type"},
	)

	m.tasksTotal = m.factory.NewCounterVec(
		m.counterOpts("tasks_total", "Tasks that reached a terminal state"),
		[]string{"status"},
	)
	m.recordsExtracted = m.factory.NewCounter(
		m.counterOpts("records_extracted_total", "Records extracted by finished tasks"),
	)
	m.taskQuality = m.factory.NewHistogram(
		m.histogramOpts("task_quality_score", "Overall quality score of finished tasks",
			[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}),
	)

	m.httpRequests = m.factory.NewCounterVec(
		m.counterOpts("http_requests_total", "Management API requests"),
		[]string{"route", "method", "code"},
	)
	m.httpDuration = m.factory.NewHistogramVec(
		m.histogramOpts("http_request_duration_seconds", "Management API request duration", prometheus.DefBuckets),
		[]string{"route", "method"},
	)
}

// RegisterPool exports live pool gauges
func (m *Metrics) RegisterPool(src PoolSource) {
	m.factory.NewGaugeFunc(m.gaugeOpts("egress_points", "Registered egress points"), func() float64 {
		return float64(src.Stats().TotalProxies)
	})
	m.factory.NewGaugeFunc(m.gaugeOpts("egress_points_healthy", "Healthy egress points"), func() float64 {
		return float64(src.Stats().HealthyProxies)
	})
	m.factory.NewGaugeFunc(m.gaugeOpts("egress_success_rate", "Mean success rate across egress points"), func() float64 {
		return src.Stats().SuccessRate
	})
	m.factory.NewGaugeFunc(m.gaugeOpts("egress_sticky_sessions", "Live session affinity bindings"), func() float64 {
		return float64(src.Stats().ActiveSessions)
	})
}

// RegisterTasks exports live task gauges
func (m *Metrics) RegisterTasks(src TaskSource) {
	m.factory.NewGaugeFunc(m.gaugeOpts("tasks_pending", "Tasks waiting for a slot"), func() float64 {
		return float64(src.Stats().Pending)
	})
	m.factory.NewGaugeFunc(m.gaugeOpts("tasks_running", "Tasks currently running"), func() float64 {
		return float64(src.Stats().Running)
	})
}

// Attach counts every event published on bus until Close.
func (m *Metrics) Attach(bus *events.Bus) {
	if bus == nil {
		return
	}
	m.sub = bus.SubscribeFunc(m.Observe)
}

// Close detaches from the event bus
func (m *Metrics) Close() {
	if m.sub != nil {
		m.sub.Close()
	}
}

// Observe updates counters from one event
func (m *Metrics) Observe(e events.Event) {
	m.eventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case events.SelectionMade:
		m.selections.WithLabelValues(e.EgressID, e.Provider).Inc()
	case events.HealthDegraded:
		m.degradations.WithLabelValues(e.EgressID).Inc()
	case events.HealthRecovered:
		m.recoveries.WithLabelValues(e.EgressID).Inc()
	case events.QuotaWarning, events.QuotaExhausted, events.QuotaReset:
		m.quotaEvents.WithLabelValues(e.Provider, string(e.Type)).Inc()
	case events.TaskCompleted, events.TaskFailed, events.TaskCancelled:
		status := e.Type[len("task."):]
		m.tasksTotal.WithLabelValues(string(status)).Inc()
		if n, ok := e.Data["records"].(int); ok {
			m.recordsExtracted.Add(float64(n))
		}
		if q, ok := e.Data["quality"].(float64); ok && e.Type != events.TaskCancelled {
			m.taskQuality.Observe(q)
		}
	}
}

// RecordHTTPRequest records one management API request
func (m *Metrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
