// internal/browser/browsertest/fake.go

// Package browsertest provides an in-memory browser.Automation for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valpere/scraperotor/internal/browser"
)

// Response is what the fake serves for one address.
type Response struct {
	HTML  string
	Err   error
	Delay time.Duration
}

// Visit records one navigation.
type Visit struct {
	URL      string
	ProxyURL string
}

// Fake serves canned documents. The zero value is not usable; call New.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	options   []browser.ContextOptions
	visits    []Visit
	live      int
	opened    int

	// NewContextErr, when set, fails every NewContext call.
	NewContextErr error
	// OnGoto runs before each navigation; a non-nil error fails it.
	OnGoto func(ctx context.Context, v Visit) error
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{responses: make(map[string]Response)}
}

// Serve registers the document for url.
func (f *Fake) Serve(url, html string) *Fake {
	return f.Respond(url, Response{HTML: html})
}

// Respond registers an arbitrary response for url.
func (f *Fake) Respond(url string, r Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = r
	return f
}

// NewContext implements browser.Automation.
func (f *Fake) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewContextErr != nil {
		return nil, f.NewContextErr
	}
	f.options = append(f.options, opts)
	f.live++
	f.opened++
	return &fakeContext{fake: f, opts: opts}, nil
}

// Live returns the number of contexts not yet closed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Opened returns the number of contexts ever created.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Options returns the options of every context created, in order.
func (f *Fake) Options() []browser.ContextOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.ContextOptions(nil), f.options...)
}

// Visits returns every navigation, in order.
func (f *Fake) Visits() []Visit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Visit(nil), f.visits...)
}

func (f *Fake) lookup(url string) (Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.responses[url]
	return r, ok
}

type fakeContext struct {
	fake   *Fake
	opts   browser.ContextOptions
	mu     sync.Mutex
	closed bool
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("context closed")
	}
	return &fakePage{ctx: c}, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.fake.mu.Lock()
	c.fake.live--
	c.fake.mu.Unlock()
	return nil
}

type fakePage struct {
	ctx     *fakeContext
	current string
}

func (p *fakePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	visit := Visit{URL: url, ProxyURL: p.ctx.opts.ProxyURL}
	f := p.ctx.fake
	f.mu.Lock()
	f.visits = append(f.visits, visit)
	hook := f.OnGoto
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, visit); err != nil {
			return err
		}
	}

	r, ok := f.lookup(url)
	if !ok {
		return fmt.Errorf("navigation to %s failed: net::ERR_NAME_NOT_RESOLVED", url)
	}
	if r.Delay > 0 {
		if timeout > 0 && r.Delay > timeout {
			select {
			case <-time.After(timeout):
				return fmt.Errorf("navigation to %s failed: %w", url, context.DeadlineExceeded)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.Err != nil {
		return r.Err
	}
	p.current = url
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.current == "" {
		return "<html><head></head><body></body></html>", nil
	}
	r, _ := p.ctx.fake.lookup(p.current)
	return r.HTML, nil
}

func (p *fakePage) Evaluate(ctx context.Context, fn browser.ExtractFunc) ([]map[string]interface{}, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return fn(html)
}
