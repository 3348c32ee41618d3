// internal/archive/sql_test.go
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/scraper"
)

func openTestArchive(t *testing.T) *SQLArchive {
	t.Helper()
	a, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "archive", "tasks.db"),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testTask(id string, finished time.Time) orchestrator.Task {
	return orchestrator.Task{
		ID:     id,
		Status: orchestrator.StatusCompleted,
		Config: orchestrator.TaskConfig{
			Name:    "catalogue " + id,
			Targets: []string{"https://shop.test/"},
			Fields:  []scraper.FieldConfig{{Name: "title", Selector: "h2"}},
		},
		Records:    []scraper.Record{{"title": "Alpha"}, {"title": "Beta"}},
		Quality:    &scraper.QualityScore{Overall: 0.9, RecordCount: 2},
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name        string
		identifier  string
		expectError bool
	}{
		{"valid identifier", "task_archive", false},
		{"starts with underscore", "_tasks", false},
		{"empty string", "", true},
		{"starts with number", "1tasks", true},
		{"contains space", "task archive", true},
		{"injection", "tasks; DROP TABLE x", true},
		{"too long", strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.identifier)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOpen_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		options Options
	}{
		{"unknown driver", Options{Driver: "oracle", DSN: "x"}},
		{"missing dsn", Options{Driver: DriverSQLite}},
		{"bad table", Options{Driver: DriverSQLite, DSN: "x.db", Table: "bad-name"}},
		{"bad mysql dsn", Options{Driver: DriverMySQL, DSN: "not a dsn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.options); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLArchive{driver: DriverPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE id = ? AND b = ?"); got != "SELECT a FROM t WHERE id = $1 AND b = $2" {
		t.Errorf("Expected numbered placeholders, got %q", got)
	}
	lite := &SQLArchive{driver: DriverSQLite}
	if got := lite.rebind("id = ?"); got != "id = ?" {
		t.Errorf("Expected placeholders unchanged, got %q", got)
	}
}

func TestUpsertQuery(t *testing.T) {
	mysqlArchive := &SQLArchive{driver: DriverMySQL, table: "tasks"}
	if q := mysqlArchive.upsertQuery(); !strings.Contains(q, "ON DUPLICATE KEY UPDATE") || !strings.Contains(q, "`tasks`") {
		t.Errorf("Unexpected MySQL upsert: %s", q)
	}
	pg := &SQLArchive{driver: DriverPostgres, table: "tasks"}
	if q := pg.upsertQuery(); !strings.Contains(q, "ON CONFLICT (id)") || !strings.Contains(q, "$5") {
		t.Errorf("Unexpected PostgreSQL upsert: %s", q)
	}
}

func TestSQLArchive_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)
	finished := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := a.Store(ctx, testTask("t1", finished)); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	task, err := a.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if task.Status != orchestrator.StatusCompleted || len(task.Records) != 2 {
		t.Errorf("Expected completed task with 2 records, got %s with %d", task.Status, len(task.Records))
	}
	if task.Records[1]["title"] != "Beta" {
		t.Errorf("Expected record title Beta, got %v", task.Records[1]["title"])
	}
	if !task.FinishedAt.Equal(finished) {
		t.Errorf("Expected finish time %v, got %v", finished, task.FinishedAt)
	}
	if task.Quality == nil || task.Quality.Overall != 0.9 {
		t.Errorf("Expected quality to survive, got %+v", task.Quality)
	}

	// storing again replaces the row
	updated := testTask("t1", finished)
	updated.Status = orchestrator.StatusFailed
	if err := a.Store(ctx, updated); err != nil {
		t.Fatalf("Store() update error: %v", err)
	}
	task, _ = a.Load(ctx, "t1")
	if task.Status != orchestrator.StatusFailed {
		t.Errorf("Expected updated status failed, got %s", task.Status)
	}

	if _, err := a.Load(ctx, "missing"); !errors.Is(err, orchestrator.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestSQLArchive_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		if err := a.Store(ctx, testTask(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Store() error: %v", err)
		}
	}

	list, err := a.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 3 || list[0].ID != "t3" || list[2].ID != "t1" {
		t.Errorf("Expected newest first, got %+v", list)
	}
	if list[0].Name != "catalogue t3" {
		t.Errorf("Expected summary name, got %q", list[0].Name)
	}

	limited, err := a.List(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("Expected 2 summaries, got %d (%v)", len(limited), err)
	}

	n, err := a.Delete(ctx, base.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned tasks, got %d", n)
	}
	list, _ = a.List(ctx, 0)
	if len(list) != 1 || list[0].ID != "t3" {
		t.Errorf("Expected only t3 left, got %+v", list)
	}
}
