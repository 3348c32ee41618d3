// internal/browser/http.go
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const maxDocumentBytes = 10 << 20

// HTTPAutomation implements Automation with plain HTTP fetches. Pages are not
// rendered, so it only suits documents that do not need scripts.
type HTTPAutomation struct {
	config     *BrowserConfig
	userAgents []string

	mu        sync.Mutex
	currentUA int
}

// NewHTTPAutomation creates a static-fetch automation layer
func NewHTTPAutomation(config *BrowserConfig) *HTTPAutomation {
	if config == nil {
		config = DefaultBrowserConfig()
	}
	agents := defaultUserAgents()
	if config.UserAgent != "" {
		agents = []string{config.UserAgent}
	}
	return &HTTPAutomation{config: config, userAgents: agents}
}

// nextUserAgent returns the next user agent in rotation
func (a *HTTPAutomation) nextUserAgent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ua := a.userAgents[a.currentUA]
	a.currentUA = (a.currentUA + 1) % len(a.userAgents)
	return ua
}

// NewContext builds an isolated client; each context has its own connection pool.
func (a *HTTPAutomation) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = a.nextUserAgent()
	}

	c := &httpContext{
		client:    &http.Client{Transport: transport},
		transport: transport,
		userAgent: userAgent,
		timeout:   a.config.Timeout,
	}
	if opts.Timeout > 0 {
		c.deadline = time.Now().Add(opts.Timeout)
	}
	return c, nil
}

type httpContext struct {
	client    *http.Client
	transport *http.Transport
	userAgent string
	timeout   time.Duration
	deadline  time.Time

	mu     sync.Mutex
	closed bool
}

func (c *httpContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("browser context is closed")
	}
	return &httpPage{owner: c}, nil
}

func (c *httpContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.transport.CloseIdleConnections()
	}
	return nil
}

type httpPage struct {
	owner *httpContext
	html  string
}

// Goto fetches target and keeps the body as the page document.
func (p *httpPage) Goto(ctx context.Context, target string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.owner.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if !p.owner.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, p.owner.deadline)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.owner.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := p.owner.client.Do(req)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("navigation to %s failed: HTTP %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", target, err)
	}
	p.html = string(body)
	return nil
}

func (p *httpPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *httpPage) Evaluate(ctx context.Context, fn ExtractFunc) ([]map[string]interface{}, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return fn(html)
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	}
}
