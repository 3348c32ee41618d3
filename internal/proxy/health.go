// internal/proxy/health.go
package proxy

import (
	"sync"
	"time"
)

// healthEntry guards one HealthRecord. Every read-modify-write of the record
// happens under its own mutex so concurrent outcomes never lose updates.
type healthEntry struct {
	mu  sync.Mutex
	rec HealthRecord
}

// HealthTracker owns the HealthRecord of every registered point.
type HealthTracker struct {
	mu               sync.RWMutex
	entries          map[string]*healthEntry
	failureThreshold int
	alpha            float64
}

// NewHealthTracker creates a tracker. New records start healthy.
func NewHealthTracker(failureThreshold int, alpha float64) *HealthTracker {
	return &HealthTracker{
		entries:          make(map[string]*healthEntry),
		failureThreshold: failureThreshold,
		alpha:            alpha,
	}
}

// Configure changes the threshold and EWMA weight for subsequent updates.
func (t *HealthTracker) Configure(failureThreshold int, alpha float64) {
	t.mu.Lock()
	t.failureThreshold = failureThreshold
	t.alpha = alpha
	t.mu.Unlock()
}

// Register creates the record for id.
func (t *HealthTracker) Register(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return
	}
	t.entries[id] = &healthEntry{rec: HealthRecord{Healthy: true, SuccessRate: 1, LastChecked: now}}
}

// Remove drops the record for id.
func (t *HealthTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

func (t *HealthTracker) entry(id string) (*healthEntry, int, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id], t.failureThreshold, t.alpha
}

// Get returns a snapshot of the record.
func (t *HealthTracker) Get(id string) (HealthRecord, bool) {
	e, _, _ := t.entry(id)
	if e == nil {
		return HealthRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// RecordOutcome applies one request outcome. It reports degraded=true when
// this call flipped the record to unhealthy.
func (t *HealthTracker) RecordOutcome(id string, o Outcome, now time.Time) (rec HealthRecord, degraded bool, err error) {
	e, threshold, alpha := t.entry(id)
	if e == nil {
		return HealthRecord{}, false, unknownEgress(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := &e.rec
	r.TotalRequests++
	r.LastChecked = now

	sample := 1.0
	if o.Success {
		r.ConsecutiveFailures = 0
		if o.Latency > 0 {
			r.ResponseTimeEWMA = ewma(r.ResponseTimeEWMA, o.Latency, alpha)
		}
	} else {
		sample = 0
		r.FailedRequests++
		r.ConsecutiveFailures++
		if o.Err != nil {
			r.LastError = o.Err.Error()
		} else {
			r.LastError = "request failed"
		}
		if r.Healthy && r.ConsecutiveFailures >= threshold {
			r.Healthy = false
			degraded = true
		}
	}
	// running mean over all outcomes, equal to (total-failed)/total
	r.SuccessRate += (sample - r.SuccessRate) / float64(r.TotalRequests)

	return *r, degraded, nil
}

// ObserveLatency folds a latency sample into the EWMA without counting a request.
func (t *HealthTracker) ObserveLatency(id string, latency time.Duration, now time.Time) {
	e, _, alpha := t.entry(id)
	if e == nil || latency <= 0 {
		return
	}
	e.mu.Lock()
	e.rec.ResponseTimeEWMA = ewma(e.rec.ResponseTimeEWMA, latency, alpha)
	e.rec.LastChecked = now
	e.mu.Unlock()
}

// MarkHealthy is the only path back to healthy. It reports recovered=true
// when the record was unhealthy before the call.
func (t *HealthTracker) MarkHealthy(id string, now time.Time) (recovered bool, err error) {
	e, _, _ := t.entry(id)
	if e == nil {
		return false, unknownEgress(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	recovered = !e.rec.Healthy
	e.rec.Healthy = true
	e.rec.ConsecutiveFailures = 0
	e.rec.LastError = ""
	e.rec.LastChecked = now
	return recovered, nil
}

func (t *HealthTracker) acquire(id string) {
	e, _, _ := t.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.rec.CurrentConnections++
	e.mu.Unlock()
}

// release decrements the connection count, never below zero.
func (t *HealthTracker) release(id string) {
	e, _, _ := t.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.rec.CurrentConnections > 0 {
		e.rec.CurrentConnections--
	}
	e.mu.Unlock()
}

// ewma: new = alpha*sample + (1-alpha)*old; the first sample seeds the average.
func ewma(current, sample time.Duration, alpha float64) time.Duration {
	if current == 0 {
		return sample
	}
	return time.Duration(alpha*float64(sample) + (1-alpha)*float64(current))
}
