// internal/orchestrator/preview_test.go
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/valpere/scraperotor/internal/browser/browsertest"
	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
	"github.com/valpere/scraperotor/internal/utils"
)

func TestPreview_CapsRecords(t *testing.T) {
	var items []string
	for i := 1; i <= 8; i++ {
		items = append(items, fmt.Sprintf("Item%d", i))
	}
	fake := browsertest.New().
		Serve("https://shop.test/first", listPage(items...)).
		Serve("https://shop.test/second", listPage("Other"))
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake})

	result, err := o.Preview(context.Background(), itemTask("https://shop.test/first", "https://shop.test/second"))
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if len(result.Records) != 5 {
		t.Errorf("Expected 5 preview records, got %d", len(result.Records))
	}
	if result.Address != "https://shop.test/first" {
		t.Errorf("Expected only the first address previewed, got %s", result.Address)
	}
	if len(fake.Visits()) != 1 {
		t.Errorf("Expected a single navigation, got %d", len(fake.Visits()))
	}
	if len(o.List()) != 0 {
		t.Error("Expected preview not to register a task")
	}
	if fake.Live() != 0 {
		t.Errorf("Expected preview context closed, %d live", fake.Live())
	}
}

func TestPreview_RespectsSmallerRecordLimit(t *testing.T) {
	fake := browsertest.New().Serve("https://shop.test/", listPage("A", "B", "C"))
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake})

	cfg := itemTask("https://shop.test/")
	cfg.MaxRecords = 2
	result, err := o.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if len(result.Records) != 2 {
		t.Errorf("Expected 2 preview records, got %d", len(result.Records))
	}
}

func TestPreview_InfersSelectors(t *testing.T) {
	fake := browsertest.New().Serve("https://shop.test/", catalogPage)
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake, Inference: scraper.NewLocalBackend()})

	result, err := o.Preview(context.Background(), TaskConfig{
		Targets: []string{"https://shop.test/"},
		Intent:  "prices",
	})
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if result.Container != "div.product" {
		t.Errorf("Expected inferred container div.product, got %q", result.Container)
	}
	if len(result.Selectors) != 1 || result.Selectors[0].Name != "price" {
		t.Errorf("Expected a single price selector, got %+v", result.Selectors)
	}
	if len(result.Records) != 3 {
		t.Errorf("Expected 3 records, got %d", len(result.Records))
	}
}

func TestPreview_RunsWithoutEgressWhenPoolEmpty(t *testing.T) {
	pool := newTestPool(t, proxy.StrategyRoundRobin, nil, 0)
	fake := browsertest.New().Serve("https://shop.test/", listPage("Alpha"))
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake, Pool: pool})

	cfg := itemTask("https://shop.test/")
	cfg.UseProxy = true
	result, err := o.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if result.EgressID != "" {
		t.Errorf("Expected no egress point, got %s", result.EgressID)
	}
	if v := fake.Visits(); len(v) != 1 || v[0].ProxyURL != "" {
		t.Errorf("Expected one direct visit, got %+v", v)
	}
}

func TestPreview_UsesEgressPoint(t *testing.T) {
	pool := newTestPool(t, proxy.StrategyRoundRobin, nil, 1)
	fake := browsertest.New().Serve("https://shop.test/", listPage("Alpha"))
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake, Pool: pool})

	cfg := itemTask("https://shop.test/")
	cfg.UseProxy = true
	result, err := o.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if result.EgressID != "p1" {
		t.Errorf("Expected egress p1, got %q", result.EgressID)
	}
	h, _ := pool.Health("p1")
	if h.TotalRequests != 1 || h.CurrentConnections != 0 {
		t.Errorf("Expected one released request on p1, got %+v", h)
	}
}

func TestPreview_EgressRemovedWhileInUse(t *testing.T) {
	var buf bytes.Buffer
	if err := utils.SetupLogging("debug", "json", &buf); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = utils.SetupLogging("info", "console", os.Stderr) })

	pool := newTestPool(t, proxy.StrategyRoundRobin, nil, 1)
	fake := browsertest.New().Serve("https://shop.test/", listPage("Alpha"))
	fake.OnGoto = func(ctx context.Context, v browsertest.Visit) error {
		return pool.Remove("p1")
	}
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: fake, Pool: pool})

	cfg := itemTask("https://shop.test/")
	cfg.UseProxy = true
	result, err := o.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(result.Records))
	}
	if !strings.Contains(buf.String(), "recording outcome for p1") {
		t.Errorf("Expected the rejected outcome to be logged, got %q", buf.String())
	}
}

func TestPreview_Errors(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{Automation: browsertest.New()})

	if _, err := o.Preview(context.Background(), TaskConfig{}); err == nil {
		t.Error("Expected validation error")
	}

	_, err := o.Preview(context.Background(), itemTask("https://missing.test/"))
	var extractErr *errors.ExtractionError
	if !errors.As(err, &extractErr) || extractErr.Stage != "navigate" {
		t.Errorf("Expected navigate ExtractionError, got %v", err)
	}
}
