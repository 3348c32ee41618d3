// internal/proxy/registry.go
package proxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds the configured egress points in insertion order.
type Registry struct {
	mu     sync.RWMutex
	points map[string]*EgressPoint
	order  []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{points: make(map[string]*EgressPoint)}
}

// Add validates and registers a point. An empty ID is replaced by a UUID.
func (r *Registry) Add(p EgressPoint, now time.Time) (EgressPoint, error) {
	if err := p.Validate(); err != nil {
		return EgressPoint{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.AuthType == "" {
		p.AuthType = AuthNone
		if p.Username != "" {
			p.AuthType = AuthBasic
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[p.ID]; exists {
		return EgressPoint{}, fmt.Errorf("%w: %s", ErrDuplicateEgress, p.ID)
	}
	stored := p.clone()
	r.points[p.ID] = &stored
	r.order = append(r.order, p.ID)
	return stored.clone(), nil
}

// Remove deregisters a point and returns it.
func (r *Registry) Remove(id string) (EgressPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.points[id]
	if !ok {
		return EgressPoint{}, false
	}
	delete(r.points, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p.clone(), true
}

// Get returns a copy of the point.
func (r *Registry) Get(id string) (EgressPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.points[id]
	if !ok {
		return EgressPoint{}, false
	}
	return p.clone(), true
}

// List returns copies of all points in insertion order.
func (r *Registry) List() []EgressPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EgressPoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.points[id].clone())
	}
	return out
}

// Len returns the number of registered points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetEnabled toggles whether a point takes part in selection.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.points[id]
	if !ok {
		return unknownEgress(id)
	}
	p.Enabled = enabled
	return nil
}

func (r *Registry) touch(id string, now time.Time) {
	r.mu.Lock()
	if p, ok := r.points[id]; ok {
		p.LastUsed = now
	}
	r.mu.Unlock()
}
