// internal/proxy/prober.go
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Prober validates that an egress point can reach a known-good target.
type Prober interface {
	Probe(ctx context.Context, point EgressPoint) (time.Duration, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, point EgressPoint) (time.Duration, error)

func (f ProberFunc) Probe(ctx context.Context, point EgressPoint) (time.Duration, error) {
	return f(ctx, point)
}

// HTTPProber issues a GET to a probe URL through the egress point.
// HTTP(S) points are used as forward proxies; SOCKS5 points as the dialer.
type HTTPProber struct {
	probeURL  string
	tlsConfig *tls.Config
}

// NewHTTPProber creates a prober for probeURL.
func NewHTTPProber(probeURL string, tlsCfg *TLSConfig) (*HTTPProber, error) {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	tlsConfig, err := BuildTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}
	return &HTTPProber{probeURL: probeURL, tlsConfig: tlsConfig}, nil
}

// Probe returns the round-trip time of a 2xx/3xx response.
func (hp *HTTPProber) Probe(ctx context.Context, point EgressPoint) (time.Duration, error) {
	transport, err := hp.transport(point)
	if err != nil {
		return 0, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.probeURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe via %s: %w", point.Address(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return elapsed, fmt.Errorf("probe via %s returned status %d", point.Address(), resp.StatusCode)
	}
	return elapsed, nil
}

func (hp *HTTPProber) transport(point EgressPoint) (*http.Transport, error) {
	transport := &http.Transport{
		TLSClientConfig:   hp.tlsConfig.Clone(),
		DisableKeepAlives: true,
	}

	switch point.Type {
	case ProxyTypeSOCKS5:
		var auth *xproxy.Auth
		if point.Username != "" {
			auth = &xproxy.Auth{User: point.Username, Password: point.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", point.Address(), auth, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", point.Address(), err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", point.Address())
		}
		transport.DialContext = contextDialer.DialContext
	default:
		transport.Proxy = http.ProxyURL(point.URL())
	}
	return transport, nil
}
