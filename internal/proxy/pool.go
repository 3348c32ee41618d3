// internal/proxy/pool.go
package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/utils"
)

var poolLogger = utils.NewComponentLogger("proxy-pool")

// Pool selects egress points and records their outcomes. It owns the
// registry, health, affinity and quota state; nothing else mutates them.
type Pool struct {
	registry *Registry
	health   *HealthTracker
	affinity *AffinityStore
	quotas   *QuotaTracker
	bus      *events.Bus

	// mu serialises selection, so sticky lookup-or-bind is atomic per group.
	mu      sync.Mutex
	config  PoolConfig
	rotator *rotator

	now func() time.Time
}

// NewPool creates an empty pool. bus may be nil.
func NewPool(config PoolConfig, bus *events.Bus) (*Pool, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		registry: NewRegistry(),
		health:   NewHealthTracker(config.FailureThreshold, config.EWMAAlpha),
		affinity: NewAffinityStore(config.StickyTTL),
		quotas:   NewQuotaTracker(config.QuotaWarningPercent),
		bus:      bus,
		config:   config,
		rotator:  newRotator(),
		now:      time.Now,
	}, nil
}

// Quotas exposes the quota tracker for provider configuration.
func (p *Pool) Quotas() *QuotaTracker { return p.quotas }

// Config returns the active policy configuration.
func (p *Pool) Config() PoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// UpdateConfig applies a new policy at runtime.
func (p *Pool) UpdateConfig(config PoolConfig) error {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	old := p.config
	p.config = config
	p.mu.Unlock()

	p.health.Configure(config.FailureThreshold, config.EWMAAlpha)
	p.affinity.SetTTL(config.StickyTTL)
	p.quotas.SetWarningPercent(config.QuotaWarningPercent)

	poolLogger.WithFields(map[string]interface{}{
		"old_strategy": old.Strategy,
		"strategy":     config.Strategy,
		"threshold":    config.FailureThreshold,
		"sticky_ttl":   config.StickyTTL.String(),
	}).Info("pool configuration updated")
	return nil
}

// Add registers an egress point and its health record.
func (p *Pool) Add(point EgressPoint) (EgressPoint, error) {
	now := p.now()

	p.mu.Lock()
	stored, err := p.registry.Add(point, now)
	if err == nil {
		p.health.Register(stored.ID, now)
	}
	p.mu.Unlock()
	if err != nil {
		return EgressPoint{}, err
	}

	poolLogger.WithFields(map[string]interface{}{
		"egress_id": stored.ID,
		"proxy":     stored.Redacted(),
		"provider":  stored.Provider,
	}).Info("egress point added")
	p.bus.Publish(events.Event{Type: events.EgressAdded, Time: now, EgressID: stored.ID, Provider: stored.Provider})
	return stored, nil
}

// Remove deregisters a point, its health record and every affinity entry
// referencing it in one step.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	point, ok := p.registry.Remove(id)
	if ok {
		p.health.Remove(id)
		p.affinity.PurgeEgress(id)
	}
	p.mu.Unlock()
	if !ok {
		return unknownEgress(id)
	}

	poolLogger.WithField("egress_id", id).Info("egress point removed")
	p.bus.Publish(events.Event{Type: events.EgressRemoved, EgressID: id, Provider: point.Provider})
	return nil
}

// Get returns a point by id.
func (p *Pool) Get(id string) (EgressPoint, bool) {
	return p.registry.Get(id)
}

// Health returns the health snapshot of a point.
func (p *Pool) Health(id string) (HealthRecord, bool) {
	return p.health.Get(id)
}

// List returns every point with its health, in registration order.
func (p *Pool) List() []EgressStatus {
	points := p.registry.List()
	out := make([]EgressStatus, 0, len(points))
	for _, point := range points {
		rec, ok := p.health.Get(point.ID)
		if !ok {
			continue
		}
		out = append(out, EgressStatus{EgressPoint: point, Health: rec})
	}
	return out
}

// SetEnabled toggles a point in or out of selection.
func (p *Pool) SetEnabled(id string, enabled bool) error {
	return p.registry.SetEnabled(id, enabled)
}

// Select picks one egress point for req and counts a connection on it.
// It returns ErrNoEgressAvailable when nothing is selectable; callers back off.
func (p *Pool) Select(ctx context.Context, req SelectRequest) (*EgressPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	candidates := p.eligible(now)
	if len(candidates) == 0 {
		return nil, ErrNoEgressAvailable
	}

	sticky := req.Sticky && req.GroupID != ""
	var chosen *candidate

	if sticky {
		id, ok := p.affinity.Lookup(req.GroupID, now, func(id string) bool {
			return indexOf(candidates, id) >= 0
		})
		if ok {
			chosen = &candidates[indexOf(candidates, id)]
		}
	}

	if chosen == nil {
		narrowed := candidates
		if !req.Geo.IsZero() {
			var geo []candidate
			for _, c := range candidates {
				if c.point.MatchesGeo(req.Geo) {
					geo = append(geo, c)
				}
			}
			if len(geo) > 0 {
				narrowed = geo
			}
		}

		if req.TargetID != "" {
			if i := indexOf(narrowed, req.TargetID); i >= 0 {
				chosen = &narrowed[i]
			}
		}
		if chosen == nil {
			c := p.rotator.pick(p.config.Strategy, narrowed)
			chosen = &c
		}
		if sticky {
			p.affinity.Bind(req.GroupID, chosen.point.ID, now)
		}
	}

	p.health.acquire(chosen.point.ID)
	p.registry.touch(chosen.point.ID, now)
	point := chosen.point
	point.LastUsed = now

	p.bus.Publish(events.Event{
		Type:     events.SelectionMade,
		Time:     now,
		EgressID: point.ID,
		Provider: point.Provider,
		Data: map[string]interface{}{
			"strategy": string(p.config.Strategy),
			"group_id": req.GroupID,
			"sticky":   sticky,
		},
	})
	return &point, nil
}

// eligible returns enabled, healthy, quota-available points in registration order.
func (p *Pool) eligible(now time.Time) []candidate {
	points := p.registry.List()
	out := make([]candidate, 0, len(points))
	for _, point := range points {
		if !point.Enabled {
			continue
		}
		rec, ok := p.health.Get(point.ID)
		if !ok || !rec.Healthy {
			continue
		}
		if point.Provider != "" && p.quotas.IsExhausted(point.Provider, now) {
			continue
		}
		out = append(out, candidate{point: point, health: rec})
	}
	return out
}

func indexOf(candidates []candidate, id string) int {
	for i, c := range candidates {
		if c.point.ID == id {
			return i
		}
	}
	return -1
}

// Release returns the connection counted by Select.
func (p *Pool) Release(id string) {
	p.health.release(id)
}

// RecordOutcome updates the point's health and charges its provider quota.
func (p *Pool) RecordOutcome(id string, o Outcome) error {
	return p.recordOutcome(id, o, true)
}

func (p *Pool) recordOutcome(id string, o Outcome, charge bool) error {
	now := p.now()
	rec, degraded, err := p.health.RecordOutcome(id, o, now)
	if err != nil {
		return err
	}
	point, _ := p.registry.Get(id)

	if degraded {
		p.affinity.PurgeEgress(id)
		poolLogger.WithFields(map[string]interface{}{
			"egress_id":            id,
			"consecutive_failures": rec.ConsecutiveFailures,
			"last_error":           rec.LastError,
		}).Warn("egress point marked unhealthy")
		p.bus.Publish(events.Event{
			Type:     events.HealthDegraded,
			Time:     now,
			EgressID: id,
			Provider: point.Provider,
			Data: map[string]interface{}{
				"consecutive_failures": rec.ConsecutiveFailures,
				"error":                rec.LastError,
			},
		})
	}

	if charge && point.Provider != "" {
		for _, e := range p.quotas.Charge(point.Provider, o.Bytes, now) {
			poolLogger.WithFields(map[string]interface{}{
				"provider": point.Provider,
				"event":    string(e.Type),
			}).Warn("provider quota threshold crossed")
			p.bus.Publish(e)
		}
	}
	return nil
}

// MarkHealthy restores a point to selection.
func (p *Pool) MarkHealthy(id string) error {
	now := p.now()
	recovered, err := p.health.MarkHealthy(id, now)
	if err != nil {
		return err
	}
	if recovered {
		point, _ := p.registry.Get(id)
		poolLogger.WithField("egress_id", id).Info("egress point recovered")
		p.bus.Publish(events.Event{Type: events.HealthRecovered, Time: now, EgressID: id, Provider: point.Provider})
	}
	return nil
}

// Reset drops all session affinity and restarts the round-robin cursor.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.affinity.Reset()
	p.rotator.reset()
	p.mu.Unlock()
}

// sweep runs periodic housekeeping: quota resets and expired affinity entries.
func (p *Pool) sweep() {
	now := p.now()
	for _, e := range p.quotas.Sweep(now) {
		poolLogger.WithField("provider", e.Provider).Info("provider quota reset")
		p.bus.Publish(e)
	}
	p.affinity.Cleanup(now)
}

// Stats aggregates pool-wide and per-provider statistics.
func (p *Pool) Stats() PoolStats {
	now := p.now()
	cfg := p.Config()
	quotas := p.quotas.Snapshot()

	stats := PoolStats{
		Strategy:       cfg.Strategy,
		ActiveSessions: p.affinity.Active(now),
		Providers:      make(map[string]ProviderStats),
	}

	var failed int64
	var latencySum time.Duration
	measured := 0

	for _, s := range p.List() {
		stats.TotalProxies++
		if s.Health.Healthy {
			stats.HealthyProxies++
		}
		stats.TotalRequests += s.Health.TotalRequests
		failed += s.Health.FailedRequests
		if s.Health.ResponseTimeEWMA > 0 {
			latencySum += s.Health.ResponseTimeEWMA
			measured++
		}

		if s.Provider == "" {
			continue
		}
		ps := stats.Providers[s.Provider]
		ps.TotalProxies++
		if s.Health.Healthy {
			ps.HealthyProxies++
		}
		ps.TotalRequests += s.Health.TotalRequests
		ps.FailedRequests += s.Health.FailedRequests
		stats.Providers[s.Provider] = ps
	}

	for name, ps := range stats.Providers {
		ps.SuccessRate = successRate(ps.TotalRequests, ps.FailedRequests)
		if q, ok := quotas[name]; ok {
			q := q
			ps.Quota = &q
			ps.Exhausted = p.quotas.IsExhausted(name, now)
		}
		stats.Providers[name] = ps
	}

	stats.SuccessRate = successRate(stats.TotalRequests, failed)
	if measured > 0 {
		stats.AvgResponseTime = latencySum / time.Duration(measured)
	}
	return stats
}

func successRate(total, failed int64) float64 {
	if total == 0 {
		return 1
	}
	return float64(total-failed) / float64(total)
}
