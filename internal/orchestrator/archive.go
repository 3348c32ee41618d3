// internal/orchestrator/archive.go
package orchestrator

import (
	"context"
	"sort"
	"sync"
)

// Archive keeps terminal tasks after they leave the in-memory table.
type Archive interface {
	Store(ctx context.Context, task Task) error
	Load(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// MemoryArchive is an Archive bounded to the most recent tasks.
type MemoryArchive struct {
	mu       sync.RWMutex
	tasks    map[string]Task
	order    []string
	capacity int
}

// NewMemoryArchive creates an archive holding at most capacity tasks; 0 means unbounded.
func NewMemoryArchive(capacity int) *MemoryArchive {
	return &MemoryArchive{tasks: make(map[string]Task), capacity: capacity}
}

// Store implements Archive
func (a *MemoryArchive) Store(ctx context.Context, task Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tasks[task.ID]; !exists {
		a.order = append(a.order, task.ID)
	}
	a.tasks[task.ID] = task.clone()

	for a.capacity > 0 && len(a.order) > a.capacity {
		delete(a.tasks, a.order[0])
		a.order = a.order[1:]
	}
	return nil
}

// Load implements Archive
func (a *MemoryArchive) Load(ctx context.Context, id string) (*Task, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	task, ok := a.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := task.clone()
	return &cp, nil
}

// List implements Archive, newest first
func (a *MemoryArchive) List(ctx context.Context, limit int) ([]Summary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Summary, 0, len(a.tasks))
	for _, task := range a.tasks {
		out = append(out, task.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Archive
func (a *MemoryArchive) Close() error { return nil }
