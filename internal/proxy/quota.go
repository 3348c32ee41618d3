// internal/proxy/quota.go
package proxy

import (
	"sort"
	"sync"
	"time"

	"github.com/valpere/scraperotor/internal/events"
)

// UsageQuota holds the usage counters of one provider. A zero limit is unlimited.
type UsageQuota struct {
	Provider       string        `json:"provider"`
	RequestsUsed   int64         `json:"requests_used"`
	RequestsLimit  int64         `json:"requests_limit"`
	BandwidthUsed  int64         `json:"bandwidth_used"`
	BandwidthLimit int64         `json:"bandwidth_limit"`
	CostUsed       float64       `json:"cost_used"`
	CostLimit      float64       `json:"cost_limit"`
	CostPerRequest float64       `json:"cost_per_request"`
	ResetAt        time.Time     `json:"reset_at,omitempty"`
	ResetInterval  time.Duration `json:"reset_interval,omitempty"`

	warned    bool
	exhausted bool
}

// Exhausted reports whether any limit has been reached.
func (q *UsageQuota) Exhausted() bool {
	return (q.RequestsLimit > 0 && q.RequestsUsed >= q.RequestsLimit) ||
		(q.BandwidthLimit > 0 && q.BandwidthUsed >= q.BandwidthLimit) ||
		(q.CostLimit > 0 && q.CostUsed >= q.CostLimit)
}

// UsagePercent returns the highest usage ratio across limited dimensions, in percent.
func (q *UsageQuota) UsagePercent() float64 {
	pct := 0.0
	if q.RequestsLimit > 0 {
		pct = maxFloat(pct, float64(q.RequestsUsed)/float64(q.RequestsLimit)*100)
	}
	if q.BandwidthLimit > 0 {
		pct = maxFloat(pct, float64(q.BandwidthUsed)/float64(q.BandwidthLimit)*100)
	}
	if q.CostLimit > 0 {
		pct = maxFloat(pct, q.CostUsed/q.CostLimit*100)
	}
	return pct
}

func (q *UsageQuota) resetCounters() {
	q.RequestsUsed = 0
	q.BandwidthUsed = 0
	q.CostUsed = 0
	q.warned = false
	q.exhausted = false
}

// QuotaTracker keeps per-provider usage and decides exclusion.
type QuotaTracker struct {
	mu          sync.Mutex
	quotas      map[string]*UsageQuota
	warnPercent float64
}

// NewQuotaTracker creates a tracker emitting warnings at warnPercent usage.
func NewQuotaTracker(warnPercent float64) *QuotaTracker {
	return &QuotaTracker{quotas: make(map[string]*UsageQuota), warnPercent: warnPercent}
}

// SetWarningPercent changes the warning threshold.
func (t *QuotaTracker) SetWarningPercent(pct float64) {
	t.mu.Lock()
	t.warnPercent = pct
	t.mu.Unlock()
}

// Configure installs or replaces the limits of a provider, keeping current usage.
func (t *QuotaTracker) Configure(c QuotaConfig, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.quota(c.Provider)
	q.RequestsLimit = c.RequestsLimit
	q.BandwidthLimit = c.BandwidthLimit
	q.CostLimit = c.CostLimit
	q.CostPerRequest = c.CostPerRequest
	q.ResetInterval = c.ResetInterval
	if c.ResetInterval > 0 {
		q.ResetAt = now.Add(c.ResetInterval)
	} else {
		q.ResetAt = time.Time{}
	}
	q.exhausted = q.Exhausted()
}

// SetResetAt overrides the next reset time of a provider.
func (t *QuotaTracker) SetResetAt(provider string, at time.Time) {
	t.mu.Lock()
	t.quota(provider).ResetAt = at
	t.mu.Unlock()
}

func (t *QuotaTracker) quota(provider string) *UsageQuota {
	q, ok := t.quotas[provider]
	if !ok {
		q = &UsageQuota{Provider: provider}
		t.quotas[provider] = q
	}
	return q
}

// Charge accounts one request and returns the quota events it triggered.
func (t *QuotaTracker) Charge(provider string, bytes int64, now time.Time) []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.quota(provider)
	q.RequestsUsed++
	if bytes > 0 {
		q.BandwidthUsed += bytes
	}
	q.CostUsed += q.CostPerRequest

	var out []events.Event
	data := func() map[string]interface{} {
		return map[string]interface{}{
			"usage_percent":  q.UsagePercent(),
			"requests_used":  q.RequestsUsed,
			"requests_limit": q.RequestsLimit,
		}
	}
	if !q.warned && t.warnPercent > 0 && q.UsagePercent() >= t.warnPercent {
		q.warned = true
		out = append(out, events.Event{Type: events.QuotaWarning, Time: now, Provider: provider, Data: data()})
	}
	if !q.exhausted && q.Exhausted() {
		q.exhausted = true
		out = append(out, events.Event{Type: events.QuotaExhausted, Time: now, Provider: provider, Data: data()})
	}
	return out
}

// IsExhausted reports whether provider's points must be excluded at now.
// Exclusion ends at ResetAt even if the sweep has not run yet.
func (t *QuotaTracker) IsExhausted(provider string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.quotas[provider]
	if !ok || !q.Exhausted() {
		return false
	}
	if !q.ResetAt.IsZero() && !now.Before(q.ResetAt) {
		return false
	}
	return true
}

// Sweep resets every provider whose reset time has passed.
func (t *QuotaTracker) Sweep(now time.Time) []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []events.Event
	for _, name := range t.providerNames() {
		q := t.quotas[name]
		if q.ResetAt.IsZero() || now.Before(q.ResetAt) {
			continue
		}
		q.resetCounters()
		if q.ResetInterval > 0 {
			for !q.ResetAt.After(now) {
				q.ResetAt = q.ResetAt.Add(q.ResetInterval)
			}
		} else {
			q.ResetAt = time.Time{}
		}
		out = append(out, events.Event{
			Type:     events.QuotaReset,
			Time:     now,
			Provider: name,
			Data:     map[string]interface{}{"next_reset": q.ResetAt},
		})
	}
	return out
}

// Reset zeroes the counters of a provider immediately.
func (t *QuotaTracker) Reset(provider string) {
	t.mu.Lock()
	if q, ok := t.quotas[provider]; ok {
		q.resetCounters()
	}
	t.mu.Unlock()
}

// Get returns a copy of a provider's quota.
func (t *QuotaTracker) Get(provider string) (UsageQuota, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.quotas[provider]
	if !ok {
		return UsageQuota{}, false
	}
	return *q, true
}

// Snapshot returns copies of every tracked quota.
func (t *QuotaTracker) Snapshot() map[string]UsageQuota {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]UsageQuota, len(t.quotas))
	for name, q := range t.quotas {
		out[name] = *q
	}
	return out
}

func (t *QuotaTracker) providerNames() []string {
	names := make([]string, 0, len(t.quotas))
	for name := range t.quotas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
