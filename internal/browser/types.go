// internal/browser/types.go
package browser

import (
	"context"
	"time"
)

// BrowserConfig defines browser automation configuration
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ExecPath       string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserDataDir    string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitForElement string        `yaml:"wait_for_element,omitempty" json:"wait_for_element,omitempty"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`
	// MaxContexts caps simultaneously open contexts; 0 means unlimited.
	MaxContexts int `yaml:"max_contexts" json:"max_contexts"`
}

// DefaultBrowserConfig returns default browser configuration
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		WaitDelay:      500 * time.Millisecond,
		DisableImages:  true,
		MaxContexts:    8,
	}
}

// ExtractFunc turns the rendered page HTML into records.
type ExtractFunc func(html string) ([]map[string]interface{}, error)

// ContextOptions configure one isolated browsing context.
type ContextOptions struct {
	// ProxyURL routes all traffic of the context; credentials are answered on auth challenges.
	ProxyURL  string
	UserAgent string
	// Timeout bounds the whole lifetime of the context; 0 means no bound.
	Timeout time.Duration
}

// Automation creates isolated browsing contexts.
type Automation interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
}

// Context is an isolated browser session owned by one task.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// Close releases every page and the session. It is safe to call more than once.
	Close() error
}

// Page is one tab inside a Context.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, fn ExtractFunc) ([]map[string]interface{}, error)
}

// BrowserStats contains browser automation statistics
type BrowserStats struct {
	ContextsOpened int64 `json:"contexts_opened"`
	ContextsClosed int64 `json:"contexts_closed"`
	LiveContexts   int   `json:"live_contexts"`
	MaxContexts    int   `json:"max_contexts"`
}
