// internal/scraper/ratelimiter_test.go
package scraper

import (
	"context"
	"testing"
	"time"
)

func TestHostPacer_Disabled(t *testing.T) {
	pacer := NewHostPacer(PacingConfig{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := pacer.Wait(context.Background(), "https://example.com/a"); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Expected disabled pacer not to wait")
	}
	if pacer.Interval("https://example.com") != 0 {
		t.Error("Expected zero interval when disabled")
	}

	var nilPacer *HostPacer
	if err := nilPacer.Wait(context.Background(), "https://example.com"); err != nil {
		t.Errorf("Expected nil pacer to be a no-op, got %v", err)
	}
}

func TestHostPacer_WaitRespectsContext(t *testing.T) {
	pacer := NewHostPacer(PacingConfig{RequestsPerSecond: 0.01, Burst: 1})
	ctx := context.Background()
	if err := pacer.Wait(ctx, "https://example.com/1"); err != nil {
		t.Fatalf("First Wait() should pass on burst, got %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := pacer.Wait(shortCtx, "https://example.com/2"); err == nil {
		t.Error("Expected second Wait() on the same host to fail within the deadline")
	}

	// other hosts have their own budget
	if err := pacer.Wait(shortCtx, "https://other.example/1"); err != nil {
		t.Errorf("Expected other host to pass, got %v", err)
	}
}

func TestHostPacer_AdaptsToErrors(t *testing.T) {
	pacer := NewHostPacer(PacingConfig{RequestsPerSecond: 10, ConsecutiveErrLimit: 3})
	target := "https://example.com/list"
	base := pacer.Interval(target)
	if base != 100*time.Millisecond {
		t.Fatalf("Expected base interval 100ms, got %v", base)
	}

	for i := 0; i < 5; i++ {
		pacer.Report(target, false)
	}
	slowed := pacer.Interval(target)
	if slowed <= base {
		t.Errorf("Expected interval to grow after errors, got %v", slowed)
	}

	for i := 0; i < 100; i++ {
		pacer.Report(target, true)
	}
	if got := pacer.Interval(target); got != base {
		t.Errorf("Expected interval to recover to %v, got %v", base, got)
	}
}

func TestHostPacer_MaxInterval(t *testing.T) {
	pacer := NewHostPacer(PacingConfig{RequestsPerSecond: 10, MaxInterval: 200 * time.Millisecond})
	for i := 0; i < 20; i++ {
		pacer.Report("https://example.com", false)
	}
	if got := pacer.Interval("https://example.com"); got != 200*time.Millisecond {
		t.Errorf("Expected interval capped at 200ms, got %v", got)
	}
}
