// internal/orchestrator/archive_test.go
package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/scraper"
)

func TestMemoryArchive(t *testing.T) {
	ctx := context.Background()
	archive := NewMemoryArchive(2)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		err := archive.Store(ctx, Task{
			ID:         fmt.Sprintf("t%d", i),
			Status:     StatusCompleted,
			Records:    []scraper.Record{{"n": i}},
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Store() error: %v", err)
		}
	}

	if _, err := archive.Load(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected oldest task evicted, got %v", err)
	}

	task, err := archive.Load(ctx, "t3")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	task.Records = nil
	again, _ := archive.Load(ctx, "t3")
	if len(again.Records) != 1 {
		t.Error("Expected Load to return a copy")
	}

	list, err := archive.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "t3" || list[1].ID != "t2" {
		t.Errorf("Expected [t3 t2], got %+v", list)
	}

	limited, _ := archive.List(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}
