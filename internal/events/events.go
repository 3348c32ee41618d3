// internal/events/events.go
package events

import (
	"strings"
	"sync"
	"time"
)

// Type identifies an event. The part before the first dot is its category.
type Type string

const (
	EgressAdded     Type = "egress.added"
	EgressRemoved   Type = "egress.removed"
	HealthDegraded  Type = "health.degraded"
	HealthRecovered Type = "health.recovered"
	SelectionMade   Type = "selection.made"
	QuotaWarning    Type = "quota.warning"
	QuotaExhausted  Type = "quota.exhausted"
	QuotaReset      Type = "quota.reset"
	TaskStarted     Type = "task.started"
	TaskProgress    Type = "task.progress"
	TaskCompleted   Type = "task.completed"
	TaskFailed      Type = "task.failed"
	TaskCancelled   Type = "task.cancelled"
)

// Category returns the event family, e.g. "health" for health.degraded.
func (t Type) Category() string {
	if i := strings.IndexByte(string(t), '.'); i >= 0 {
		return string(t)[:i]
	}
	return string(t)
}

// Event is a single notification published on a Bus.
type Event struct {
	Type     Type                   `json:"type"`
	Time     time.Time              `json:"time"`
	EgressID string                 `json:"egress_id,omitempty"`
	Provider string                 `json:"provider,omitempty"`
	TaskID   string                 `json:"task_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks; each
// subscriber has its own queue drained in publish order.
// A nil *Bus is valid and discards everything.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber for the given categories ("task",
// "health", ...) or exact types. No filter means everything.
func (b *Bus) Subscribe(filters ...string) *Subscription {
	s := &Subscription{
		bus:    b,
		ch:     make(chan Event),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if len(filters) > 0 {
		s.filter = make(map[string]bool, len(filters))
		for _, f := range filters {
			s.filter[f] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		close(s.ch)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	return s
}

// SubscribeFunc calls fn for every matching event on its own goroutine
// until the returned subscription is closed.
func (b *Bus) SubscribeFunc(fn func(Event), filters ...string) *Subscription {
	s := b.Subscribe(filters...)
	go func() {
		for e := range s.C() {
			fn(e)
		}
	}()
	return s
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.matches(e.Type) {
			s.enqueue(e)
		}
	}
}

// Close detaches all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one consumer of a Bus.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter map[string]bool
	ch     chan Event

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unsubscribes. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) matches(t Type) bool {
	if s.filter == nil {
		return true
	}
	return s.filter[t.Category()] || s.filter[string(t)]
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.ch <- e:
			case <-s.done:
				return
			}
		}
	}
}
