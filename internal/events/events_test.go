// internal/events/events_test.go
package events

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-s.C():
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestType_Category(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{HealthDegraded, "health"},
		{TaskCancelled, "task"},
		{QuotaWarning, "quota"},
		{Type("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := tt.typ.Category(); got != tt.want {
			t.Errorf("%s.Category() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestBus_FilterAndOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	health := bus.Subscribe("health")
	all := bus.Subscribe()
	exact := bus.Subscribe(string(TaskCompleted))

	bus.Publish(Event{Type: TaskStarted, TaskID: "t1"})
	bus.Publish(Event{Type: HealthDegraded, EgressID: "p1"})
	bus.Publish(Event{Type: HealthRecovered, EgressID: "p1"})
	bus.Publish(Event{Type: TaskCompleted, TaskID: "t1"})

	if e := receive(t, health); e.Type != HealthDegraded {
		t.Errorf("Expected %s, got %s", HealthDegraded, e.Type)
	}
	if e := receive(t, health); e.Type != HealthRecovered {
		t.Errorf("Expected %s, got %s", HealthRecovered, e.Type)
	}

	want := []Type{TaskStarted, HealthDegraded, HealthRecovered, TaskCompleted}
	for _, w := range want {
		e := receive(t, all)
		if e.Type != w {
			t.Errorf("Expected %s, got %s", w, e.Type)
		}
		if e.Time.IsZero() {
			t.Error("Expected publish time to be stamped")
		}
	}

	if e := receive(t, exact); e.Type != TaskCompleted {
		t.Errorf("Expected %s, got %s", TaskCompleted, e.Type)
	}
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Type: SelectionMade})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an undrained subscriber")
	}

	for i := 0; i < 1000; i++ {
		receive(t, sub)
	}
}

func TestBus_SubscribeFunc(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(2)

	sub := bus.SubscribeFunc(func(e Event) {
		mu.Lock()
		got = append(got, e.TaskID)
		mu.Unlock()
		wg.Done()
	}, "task")
	defer sub.Close()

	bus.Publish(Event{Type: TaskStarted, TaskID: "a"})
	bus.Publish(Event{Type: EgressAdded, EgressID: "x"})
	bus.Publish(Event{Type: TaskFailed, TaskID: "b"})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected [a b], got %v", got)
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	if bus.Subscribers() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", bus.Subscribers())
	}

	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.Subscribers())
	}

	bus.Close()
	late := bus.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("Expected subscription on closed bus to be closed")
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	sub := bus.Subscribe("task")
	if _, ok := <-sub.C(); ok {
		t.Error("Expected subscription on closed bus to be closed")
	}
	sub.Close()
	sub.Close()

	fn := bus.SubscribeFunc(func(Event) {})
	fn.Close()

	if bus.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.Subscribers())
	}
}

func TestNilBus_Publish(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: TaskStarted})
}
