// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"

	"github.com/valpere/scraperotor/internal/utils"
)

var chromeLogger = utils.NewComponentLogger("browser")

// ChromeAutomation implements Automation with one Chrome process per context,
// so each context can use its own proxy.
type ChromeAutomation struct {
	config *BrowserConfig
}

// NewChromeAutomation creates a chromedp-backed automation layer
func NewChromeAutomation(config *BrowserConfig) *ChromeAutomation {
	if config == nil {
		config = DefaultBrowserConfig()
	}
	return &ChromeAutomation{config: config}
}

func (a *ChromeAutomation) allocatorOptions(opts ContextOptions) ([]chromedp.ExecAllocatorOption, *url.Userinfo, error) {
	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
	}
	if a.config.Headless {
		execOpts = append(execOpts, chromedp.Headless)
	}
	if a.config.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(a.config.ExecPath))
	}
	if a.config.UserDataDir != "" {
		execOpts = append(execOpts, chromedp.UserDataDir(a.config.UserDataDir))
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = a.config.UserAgent
	}
	if userAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(userAgent))
	}
	if a.config.DisableImages {
		execOpts = append(execOpts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	var creds *url.Userinfo
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		creds = u.User
		// Chrome takes credentials through auth challenges, not the flag
		server := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
		execOpts = append(execOpts, chromedp.ProxyServer(server))
	}
	return execOpts, creds, nil
}

// NewContext starts a browser for one task.
func (a *ChromeAutomation) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	execOpts, creds, err := a.allocatorOptions(opts)
	if err != nil {
		return nil, err
	}

	base := context.Background()
	var baseCancel context.CancelFunc = func() {}
	if opts.Timeout > 0 {
		base, baseCancel = context.WithTimeout(base, opts.Timeout)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c := &chromeContext{
		config:  a.config,
		creds:   creds,
		ctx:     browserCtx,
		cancels: []context.CancelFunc{browserCancel, allocCancel, baseCancel},
	}

	// start the browser now so a missing binary fails here, not on first navigation
	stop := context.AfterFunc(ctx, browserCancel)
	err = chromedp.Run(browserCtx)
	stop()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	chromeLogger.WithField("proxy", redact(opts.ProxyURL)).Debug("browser context started")
	return c, nil
}

type chromeContext struct {
	config *BrowserConfig
	creds  *url.Userinfo
	ctx    context.Context

	mu      sync.Mutex
	pages   int
	cancels []context.CancelFunc
	closed  bool
}

// NewPage opens a tab. The first page reuses the initial tab.
func (c *chromeContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("browser context is closed")
	}
	tabCtx := c.ctx
	if c.pages > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = chromedp.NewContext(c.ctx)
		c.cancels = append([]context.CancelFunc{cancel}, c.cancels...)
	}
	c.pages++
	c.mu.Unlock()

	var actions []chromedp.Action
	switch {
	case c.config.ViewportWidth > 0 && c.config.ViewportWidth < 768:
		actions = append(actions, chromedp.Emulate(device.IPhone8))
	case c.config.ViewportWidth > 0 && c.config.ViewportHeight > 0:
		actions = append(actions, chromedp.EmulateViewport(int64(c.config.ViewportWidth), int64(c.config.ViewportHeight)))
	}
	if c.creds != nil {
		c.listenForAuth(tabCtx)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	stop := context.AfterFunc(ctx, c.cancelAll)
	defer stop()
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("failed to initialize page: %w", err)
	}
	return &chromePage{ctx: tabCtx, config: c.config}, nil
}

// listenForAuth answers proxy auth challenges with the context credentials
// and resumes every request paused by the fetch domain.
func (c *chromeContext) listenForAuth(tabCtx context.Context) {
	username := c.creds.Username()
	password, _ := c.creds.Password()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					chromeLogger.Debugf("proxy auth response failed: %v", err)
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
			}()
		}
	})
}

func (c *chromeContext) cancelAll() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.closed = true
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Close shuts the browser down.
func (c *chromeContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := chromedp.Cancel(c.ctx)
	c.cancelAll()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	config *BrowserConfig
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Goto navigates and waits for the document body.
func (p *chromePage) Goto(ctx context.Context, target string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.config.Timeout
	}
	actions := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if p.config.WaitForElement != "" {
		actions = append(actions, chromedp.WaitVisible(p.config.WaitForElement, chromedp.ByQuery))
	}
	if p.config.WaitDelay > 0 {
		actions = append(actions, chromedp.Sleep(p.config.WaitDelay))
	}

	if err := p.run(ctx, timeout, actions...); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}
	return nil
}

// HTML returns the rendered document.
func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.config.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

// Evaluate runs fn over the rendered document.
func (p *chromePage) Evaluate(ctx context.Context, fn ExtractFunc) ([]map[string]interface{}, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return fn(html)
}

func redact(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
