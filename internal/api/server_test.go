// internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valpere/scraperotor/internal/browser/browsertest"
	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/monitoring"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
)

const shopURL = "https://shop.test/catalog"

const shopPage = `<html><body><ul>
<li class="item"><h2 class="title">Alpha</h2><span class="price">10</span></li>
<li class="item"><h2 class="title">Beta</h2><span class="price">20</span></li>
</ul></body></html>`

const shopTask = `{
	"name": "shop",
	"targets": ["https://shop.test/catalog"],
	"container": "li.item",
	"fields": [
		{"name": "title", "selector": ".title"},
		{"name": "price", "selector": ".price"}
	]
}`

type testEnv struct {
	server  *Server
	pool    *proxy.Pool
	orch    *orchestrator.Orchestrator
	bus     *events.Bus
	metrics *monitoring.Metrics
	handler http.Handler
}

func newTestEnv(t *testing.T, config Config, withMonitor bool) *testEnv {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	pool, err := proxy.NewPool(proxy.DefaultPoolConfig(), bus)
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}

	fake := browsertest.New().Serve(shopURL, shopPage)
	orch, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Dependencies{
		Automation: fake,
		Pool:       pool,
		Bus:        bus,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	metrics := monitoring.NewMetrics(monitoring.MetricsConfig{})
	deps := Dependencies{Pool: pool, Orchestrator: orch, Bus: bus, Metrics: metrics}
	if withMonitor {
		prober := proxy.ProberFunc(func(ctx context.Context, p proxy.EgressPoint) (time.Duration, error) {
			if p.Host == "10.0.0.99" {
				return 0, fmt.Errorf("connection refused")
			}
			return 20 * time.Millisecond, nil
		})
		deps.Monitor = proxy.NewHealthMonitor(pool, prober, proxy.MonitorConfig{})
	}

	server, err := NewServer(config, deps)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return &testEnv{server: server, pool: pool, orch: orch, bus: bus, metrics: metrics, handler: server.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func noLimit() Config {
	c := DefaultConfig()
	c.RequestsPerSecond = 0
	return c
}

func TestNewServer_Requirements(t *testing.T) {
	if _, err := NewServer(DefaultConfig(), Dependencies{}); err == nil {
		t.Error("Expected error without pool and orchestrator")
	}
	bad := DefaultConfig()
	bad.APIKey = "short"
	env := newTestEnv(t, noLimit(), false)
	if _, err := NewServer(bad, env.server.deps); err == nil {
		t.Error("Expected error for short API key")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	hm := monitoring.NewHealthManager(monitoring.HealthConfig{Version: "test"})
	hm.RegisterCheck(monitoring.PoolHealthCheck(env.pool))
	env.server.deps.Health = hm
	env.pool.Add(proxy.EgressPoint{ID: "p1", Host: "10.0.0.1", Port: 8080, Type: proxy.ProxyTypeHTTP, Enabled: true})

	rec = env.do(t, http.MethodGet, "/health", "")
	var health monitoring.SystemHealth
	decode(t, rec, &health)
	if health.Version != "test" || health.Status != monitoring.HealthStatusHealthy {
		t.Errorf("Expected healthy report from manager, got %+v", health)
	}
}

func TestProxyLifecycle(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)

	rec := env.do(t, http.MethodPost, "/api/v1/proxies",
		`{"id":"p1","host":"10.0.0.1","port":8080,"username":"u","password":"hunter2","provider":"acme","country":"US"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Error("Expected password to be omitted from response")
	}
	stored, _ := env.pool.Get("p1")
	if stored.Password != "hunter2" || stored.AuthType != proxy.AuthBasic || !stored.Enabled {
		t.Errorf("Expected enabled basic-auth point with password, got %+v", stored)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/proxies", `{"id":"p1","host":"10.0.0.2","port":8080}`); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/proxies", `{"host":"","port":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid point, got %d", rec.Code)
	}
	var errBody errorResponse
	decode(t, rec, &errBody)
	if len(errBody.Fields) < 2 {
		t.Errorf("Expected field errors for host and port, got %+v", errBody)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/proxies", `{"host":"h","port":1,"colour":"red"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown field, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/proxies", "")
	var list struct {
		Proxies []proxy.EgressStatus `json:"proxies"`
		Total   int                  `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || list.Proxies[0].ID != "p1" || !list.Proxies[0].Health.Healthy {
		t.Errorf("Expected one healthy proxy, got %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/proxies/p1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for existing proxy, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/proxies/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown proxy, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/proxies/p1/disable", "")
	var point proxy.EgressPoint
	decode(t, rec, &point)
	if point.Enabled {
		t.Error("Expected proxy to be disabled")
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/proxies/p1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/proxies/p1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after removal, got %d", rec.Code)
	}
}

func TestMarkHealthy(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)
	env.pool.Add(proxy.EgressPoint{ID: "p1", Host: "10.0.0.1", Port: 8080, Type: proxy.ProxyTypeHTTP, Enabled: true})
	for i := 0; i < 3; i++ {
		env.pool.RecordOutcome("p1", proxy.Outcome{Success: false, Err: fmt.Errorf("timeout")})
	}
	if h, _ := env.pool.Health("p1"); h.Healthy {
		t.Fatal("Expected p1 to be degraded")
	}

	rec := env.do(t, http.MethodPost, "/api/v1/proxies/p1/healthy", "")
	var health proxy.HealthRecord
	decode(t, rec, &health)
	if !health.Healthy || health.ConsecutiveFailures != 0 {
		t.Errorf("Expected p1 restored, got %+v", health)
	}
}

func TestCheckProxies(t *testing.T) {
	env := newTestEnv(t, noLimit(), true)
	env.pool.Add(proxy.EgressPoint{ID: "good", Host: "10.0.0.1", Port: 8080, Type: proxy.ProxyTypeHTTP, Enabled: true})
	env.pool.Add(proxy.EgressPoint{ID: "bad", Host: "10.0.0.99", Port: 8080, Type: proxy.ProxyTypeHTTP, Enabled: true})

	rec := env.do(t, http.MethodPost, "/api/v1/proxies/check", "")
	var summary proxy.CheckSummary
	decode(t, rec, &summary)
	if summary.Probed != 2 || summary.Healthy != 1 || summary.Failed != 1 {
		t.Errorf("Expected 2 probed, 1 healthy, 1 failed, got %+v", summary)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/proxies/check?id=good", "")
	var one struct {
		Healthy bool `json:"healthy"`
	}
	decode(t, rec, &one)
	if !one.Healthy {
		t.Error("Expected good proxy to pass")
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/proxies/check?id=ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown proxy, got %d", rec.Code)
	}

	noMonitor := newTestEnv(t, noLimit(), false)
	if rec := noMonitor.do(t, http.MethodPost, "/api/v1/proxies/check", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without monitor, got %d", rec.Code)
	}
}

func TestPoolConfig(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)

	rec := env.do(t, http.MethodPut, "/api/v1/pool/config", `{"strategy":"least_used","failure_threshold":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cfg := env.pool.Config()
	if cfg.Strategy != proxy.StrategyLeastUsed || cfg.FailureThreshold != 5 {
		t.Errorf("Expected updated policy, got %+v", cfg)
	}

	if rec := env.do(t, http.MethodPut, "/api/v1/pool/config", `{"strategy":"sideways"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid strategy, got %d", rec.Code)
	}
	if env.pool.Config().Strategy != proxy.StrategyLeastUsed {
		t.Error("Expected rejected update to leave policy unchanged")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pool/config", "")
	var got proxy.PoolConfig
	decode(t, rec, &got)
	if got.Strategy != proxy.StrategyLeastUsed {
		t.Errorf("Expected least_used, got %s", got.Strategy)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/pool/reset", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from reset, got %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", shopTask)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		ID string `json:"id"`
	}
	decode(t, rec, &submitted)
	if rec.Header().Get("Location") != "/api/v1/tasks/"+submitted.ID {
		t.Errorf("Expected Location header, got %q", rec.Header().Get("Location"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := env.orch.Wait(ctx, submitted.ID); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+submitted.ID, "")
	var task orchestrator.Task
	decode(t, rec, &task)
	if task.Status != orchestrator.StatusCompleted || len(task.Records) != 2 {
		t.Errorf("Expected completed task with 2 records, got %s with %d", task.Status, len(task.Records))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tasks?status=completed", "")
	var list struct {
		Tasks []orchestrator.Summary `json:"tasks"`
		Total int                    `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || list.Tasks[0].Name != "shop" {
		t.Errorf("Expected one completed task, got %+v", list)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+submitted.ID+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 cancelling a finished task, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/tasks/ghost/cancel", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 cancelling unknown task, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/tasks/ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/stats", "")
	var stats orchestrator.Stats
	decode(t, rec, &stats)
	if stats.Completed != 1 {
		t.Errorf("Expected 1 completed task in stats, got %+v", stats)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/tasks?history=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad history limit, got %d", rec.Code)
	}
}

func TestSubmitTask_Invalid(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", `{"targets":["ftp://nowhere"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	var errBody errorResponse
	decode(t, rec, &errBody)
	if errBody.Error != "validation failed" || len(errBody.Fields) == 0 {
		t.Errorf("Expected validation fields, got %+v", errBody)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/tasks", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestPreviewTask(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/preview", shopTask)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var preview orchestrator.PreviewResult
	decode(t, rec, &preview)
	if preview.Address != shopURL || len(preview.Records) != 2 {
		t.Errorf("Expected 2 preview records from %s, got %+v", shopURL, preview)
	}
	if len(env.orch.List()) != 0 {
		t.Error("Expected preview not to register a task")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/preview",
		`{"targets":["https://shop.test/missing"],"fields":[{"name":"t","selector":"h1"}]}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for unreachable address, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	config := noLimit()
	config.APIKey = "valid_api_key_123"
	env := newTestEnv(t, config, false)

	tests := []struct {
		name     string
		header   []string
		expected int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"wrong key", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid key", []string{"Authorization", "Bearer valid_api_key_123"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/proxies", "", tt.header...)
			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}

	if rec := env.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected health to stay public, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	config := DefaultConfig()
	config.RequestsPerSecond = 1
	config.Burst = 2
	env := newTestEnv(t, config, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/v1/proxies/stats", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected burst of 2 to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be limited, got %d", codes[2])
	}
}

func TestClientLimiter_PerClient(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Now()
	if !l.allow("a", now) || l.allow("a", now) {
		t.Error("Expected client a to get exactly one token")
	}
	if !l.allow("b", now) {
		t.Error("Expected client b to have its own bucket")
	}
	l.allow("c", now.Add(2*idleClientTTL))
	if _, ok := l.clients["a"]; ok {
		t.Error("Expected idle client bucket to be dropped")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)
	env.do(t, http.MethodGet, "/api/v1/proxies", "")
	env.do(t, http.MethodGet, "/api/v1/proxies/ghost", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, line := range []string{
		`scraperotor_http_requests_total{code="200",method="GET",route="/api/v1/proxies"} 1`,
		`scraperotor_http_requests_total{code="404",method="GET",route="/api/v1/proxies/{id}"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("Expected metrics to contain %q", line)
		}
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, noLimit(), false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	defer env.server.hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?filter=egress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.bus.Publish(events.Event{Type: events.TaskStarted, TaskID: "filtered-out"})
	env.pool.Add(proxy.EgressPoint{ID: "p9", Host: "10.0.0.9", Port: 8080, Type: proxy.ProxyTypeHTTP, Enabled: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if e.Type != events.EgressAdded || e.EgressID != "p9" {
		t.Errorf("Expected egress.added for p9, got %+v", e)
	}
}
