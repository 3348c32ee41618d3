// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/proxy"
)

const serviceYAML = `
logging:
  level: debug
  format: json
server:
  address: ":9090"
  api_key: "${SCRAPEROTOR_TEST_KEY}"
pool:
  strategy: least_used
  sticky_ttl: 5m
monitor:
  interval: 1m
proxies:
  - id: dc-1
    host: 10.0.0.1
    port: 8080
    provider: acme
    country: US
  - id: res-1
    host: 10.0.0.2
    port: 1080
    type: socks5
    username: user
    password: "${SCRAPEROTOR_TEST_PASSWORD}"
    enabled: false
quotas:
  - provider: acme
    requests_limit: 1000
    reset_interval: 24h
browser:
  backend: http
  max_contexts: 4
orchestrator:
  max_concurrent_tasks: 2
  retention: 30m
inference:
  backend: none
archive:
  driver: sqlite3
  dsn: /var/lib/scraperotor/archive.db
  max_age: 168h
`

func TestLoadFromBytes(t *testing.T) {
	t.Setenv("SCRAPEROTOR_TEST_KEY", "k3y-0123456789")
	t.Setenv("SCRAPEROTOR_TEST_PASSWORD", "s3cret")

	config, err := LoadFromBytes([]byte(serviceYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if config.Logging.Level != "debug" || config.Logging.Format != "json" {
		t.Errorf("Expected debug/json logging, got %+v", config.Logging)
	}
	if config.Server.Address != ":9090" || config.Server.APIKey != "k3y-0123456789" {
		t.Errorf("Expected server address and expanded key, got %+v", config.Server)
	}
	if config.Pool.Strategy != proxy.StrategyLeastUsed || config.Pool.StickyTTL != 5*time.Minute {
		t.Errorf("Expected least_used with 5m TTL, got %+v", config.Pool)
	}
	if config.Pool.FailureThreshold != 3 {
		t.Errorf("Expected default failure threshold 3, got %d", config.Pool.FailureThreshold)
	}
	if config.Monitor.Interval != time.Minute || !config.Monitor.Enabled {
		t.Errorf("Expected enabled monitor every minute, got %+v", config.Monitor)
	}
	if config.Browser.Backend != BackendHTTP || config.Browser.MaxContexts != 4 || !config.Browser.Headless {
		t.Errorf("Expected http backend with defaults kept, got %+v", config.Browser)
	}
	if config.Orchestrator.MaxConcurrentTasks != 2 || config.Orchestrator.PageTimeout != 30*time.Second {
		t.Errorf("Unexpected orchestrator config: %+v", config.Orchestrator)
	}
	if !config.Archive.IsSQL() || config.Archive.MaxAge != 168*time.Hour {
		t.Errorf("Expected SQL archive with max age, got %+v", config.Archive)
	}
	if len(config.Quotas) != 1 || config.Quotas[0].ResetInterval != 24*time.Hour {
		t.Errorf("Expected one daily quota, got %+v", config.Quotas)
	}
}

func TestLoadFromBytes_Proxies(t *testing.T) {
	t.Setenv("SCRAPEROTOR_TEST_PASSWORD", "s3cret")

	config, err := LoadFromBytes([]byte(serviceYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if len(config.Proxies) != 2 {
		t.Fatalf("Expected 2 proxies, got %d", len(config.Proxies))
	}

	dc, res := config.Proxies[0], config.Proxies[1]
	if !dc.Enabled {
		t.Error("Expected proxy without enabled key to be enabled")
	}
	if dc.Type != proxy.ProxyTypeHTTP || dc.AuthType != proxy.AuthNone {
		t.Errorf("Expected http without auth, got %s/%s", dc.Type, dc.AuthType)
	}
	if res.Enabled {
		t.Error("Expected explicitly disabled proxy to stay disabled")
	}
	if res.AuthType != proxy.AuthBasic || res.Password != "s3cret" {
		t.Errorf("Expected basic auth with expanded password, got %s/%q", res.AuthType, res.Password)
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	config, err := LoadFromBytes([]byte("logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if config.Browser.Backend != BackendChrome {
		t.Errorf("Expected chrome backend, got %s", config.Browser.Backend)
	}
	if config.Inference.Backend != InferenceLocal {
		t.Errorf("Expected local inference, got %s", config.Inference.Backend)
	}
	if config.Archive.Driver != ArchiveMemory || config.Archive.IsSQL() {
		t.Errorf("Expected memory archive, got %q", config.Archive.Driver)
	}
	if config.Metrics.Namespace != "scraperotor" {
		t.Errorf("Expected default namespace, got %q", config.Metrics.Namespace)
	}
	if config.Monitor.ProbeURL != proxy.DefaultProbeURL {
		t.Errorf("Expected default probe URL, got %q", config.Monitor.ProbeURL)
	}
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		fields []string
	}{
		{
			name:   "empty document",
			yaml:   "",
			fields: nil,
		},
		{
			name:   "malformed yaml",
			yaml:   "pool: [",
			fields: nil,
		},
		{
			name:   "bad strategy and level",
			yaml:   "logging:\n  level: loud\npool:\n  strategy: sideways\n",
			fields: []string{"logging.level", "pool.strategy"},
		},
		{
			name: "duplicate proxy ids",
			yaml: `
proxies:
  - {id: a, host: h1, port: 80}
  - {id: a, host: h2, port: 80}
  - {id: b, host: "", port: 70000}
`,
			fields: []string{"proxies[1].id", "proxies[2].host", "proxies[2].port"},
		},
		{
			name:   "sql archive without dsn",
			yaml:   "archive:\n  driver: postgres\n  table: \"bad-name\"\n",
			fields: []string{"archive.dsn", "archive.table"},
		},
		{
			name:   "remote inference without endpoint",
			yaml:   "inference:\n  backend: remote\n",
			fields: []string{"inference.remote.endpoint"},
		},
		{
			name:   "unknown backends",
			yaml:   "browser:\n  backend: firefox\narchive:\n  driver: oracle\n",
			fields: []string{"browser.backend", "archive.driver"},
		},
		{
			name:   "duplicate quota",
			yaml:   "quotas:\n  - provider: acme\n  - provider: acme\n",
			fields: []string{"quotas[1].provider"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error, got none")
			}
			if tt.fields == nil {
				return
			}

			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %T: %v", err, err)
			}
			got := make(map[string]bool)
			for _, f := range verr.Fields {
				got[f.Field] = true
			}
			for _, field := range tt.fields {
				if !got[field] {
					t.Errorf("Expected error on %s, got %v", field, verr.Fields)
				}
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraperotor.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  strategy: fastest\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Pool.Strategy != proxy.StrategyFastest {
		t.Errorf("Expected fastest strategy, got %s", config.Pool.Strategy)
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not found error, got %v", err)
	}
	if _, err := LoadFromFile(""); err == nil {
		t.Error("Expected error for empty filename")
	}
}

func TestSaveToFile(t *testing.T) {
	config := Default()
	config.Pool.Strategy = proxy.StrategyRandom
	config.Proxies = []proxy.EgressPoint{{ID: "p1", Host: "10.0.0.1", Port: 3128, Type: proxy.ProxyTypeHTTP, Enabled: true}}

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	if err := SaveToFile(config, path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Pool.Strategy != proxy.StrategyRandom {
		t.Errorf("Expected random strategy after round trip, got %s", loaded.Pool.Strategy)
	}
	if len(loaded.Proxies) != 1 || loaded.Proxies[0].Port != 3128 {
		t.Errorf("Expected proxy to survive round trip, got %+v", loaded.Proxies)
	}
	if loaded.Orchestrator.Retention != config.Orchestrator.Retention {
		t.Errorf("Expected retention %v, got %v", config.Orchestrator.Retention, loaded.Orchestrator.Retention)
	}

	bad := Default()
	bad.Browser.Backend = "netscape"
	if err := SaveToFile(bad, filepath.Join(t.TempDir(), "bad.yaml")); err == nil {
		t.Error("Expected invalid configuration to be rejected")
	}
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scraperotor.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  strategy: round_robin\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	watcher, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher failed: %v", err)
	}
	defer watcher.Close()

	changes := make(chan *Config, 4)
	watcher.OnChange(func(c *Config) { changes <- c })

	// invalid revisions are skipped
	if err := os.WriteFile(path, []byte("pool:\n  strategy: sideways\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	time.Sleep(3 * reloadDebounce)
	if err := os.WriteFile(path, []byte("pool:\n  strategy: least_used\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	select {
	case c := <-changes:
		if c.Pool.Strategy != proxy.StrategyLeastUsed {
			t.Errorf("Expected least_used after reload, got %s", c.Pool.Strategy)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected reload callback")
	}
}
