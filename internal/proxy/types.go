// internal/proxy/types.go
package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/scraperotor/internal/errors"
)

// ErrNoEgressAvailable is returned by Select when nothing is selectable.
var ErrNoEgressAvailable = errors.ErrNoEgressAvailable

// ErrUnknownEgress is returned for operations on an id that is not registered.
var ErrUnknownEgress = errors.New("unknown egress point")

// ErrDuplicateEgress is returned when registering an id twice.
var ErrDuplicateEgress = errors.New("egress point already registered")

// ProxyType represents the protocol spoken by an egress point
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeHTTPS  ProxyType = "https"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// AuthType represents how the egress point authenticates clients
type AuthType string

const (
	AuthNone  AuthType = "none"
	AuthBasic AuthType = "basic"
)

// Strategy defines how an egress point is picked from the candidate set
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyFastest    Strategy = "fastest"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyFastest:
		return true
	}
	return false
}

// EgressPoint is the static identity of a proxy. Only Enabled and LastUsed
// change after registration.
type EgressPoint struct {
	ID        string    `yaml:"id" json:"id"`
	Host      string    `yaml:"host" json:"host"`
	Port      int       `yaml:"port" json:"port"`
	Type      ProxyType `yaml:"type" json:"type"`
	AuthType  AuthType  `yaml:"auth_type,omitempty" json:"auth_type,omitempty"`
	Username  string    `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string    `yaml:"password,omitempty" json:"-"`
	Country   string    `yaml:"country,omitempty" json:"country,omitempty"`
	Region    string    `yaml:"region,omitempty" json:"region,omitempty"`
	City      string    `yaml:"city,omitempty" json:"city,omitempty"`
	Tags      []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	Provider  string    `yaml:"provider,omitempty" json:"provider,omitempty"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	LastUsed  time.Time `yaml:"-" json:"last_used,omitempty"`
}

// UnmarshalYAML treats a point without an enabled key as enabled.
func (p *EgressPoint) UnmarshalYAML(node *yaml.Node) error {
	type plain EgressPoint
	out := plain{Enabled: true}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*p = EgressPoint(out)
	return nil
}

// Address returns host:port.
func (p EgressPoint) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL renders the proxy URL including credentials for basic auth.
func (p EgressPoint) URL() *url.URL {
	u := &url.URL{Scheme: string(p.Type), Host: p.Address()}
	if p.AuthType == AuthBasic || (p.AuthType == "" && p.Username != "") {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Redacted returns the proxy URL without the password, for logs.
func (p EgressPoint) Redacted() string {
	return p.URL().Redacted()
}

// MatchesGeo reports whether every non-empty field of g equals the point's tag.
func (p EgressPoint) MatchesGeo(g GeoConstraint) bool {
	if g.Country != "" && !strings.EqualFold(g.Country, p.Country) {
		return false
	}
	if g.Region != "" && !strings.EqualFold(g.Region, p.Region) {
		return false
	}
	if g.City != "" && !strings.EqualFold(g.City, p.City) {
		return false
	}
	return true
}

func (p EgressPoint) clone() EgressPoint {
	c := p
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	return c
}

// Validate checks the static configuration of an egress point
func (p EgressPoint) Validate() error {
	v := &errors.ValidationError{}
	if p.Host == "" {
		v.Add("host", "", "cannot be empty")
	}
	if p.Port <= 0 || p.Port > 65535 {
		v.Add("port", strconv.Itoa(p.Port), "must be between 1 and 65535")
	}
	switch p.Type {
	case ProxyTypeHTTP, ProxyTypeHTTPS, ProxyTypeSOCKS5:
	default:
		v.Add("type", string(p.Type), "unsupported proxy type")
	}
	switch p.AuthType {
	case "", AuthNone:
	case AuthBasic:
		if p.Username == "" {
			v.Add("username", "", "required for basic auth")
		}
	default:
		v.Add("auth_type", string(p.AuthType), "unsupported auth type")
	}
	return v.OrNil()
}

// GeoConstraint narrows selection to points carrying matching geo tags.
type GeoConstraint struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// IsZero reports whether no constraint is set.
func (g GeoConstraint) IsZero() bool {
	return g.Country == "" && g.Region == "" && g.City == ""
}

// SelectRequest describes one selection.
type SelectRequest struct {
	// GroupID identifies a sticky session group.
	GroupID string
	// Sticky requests affinity to the group's bound point.
	Sticky bool
	Geo    GeoConstraint
	// TargetID asks for a specific point if it is selectable.
	TargetID string
}

// Outcome is the result of one request through an egress point.
type Outcome struct {
	Success bool
	Latency time.Duration
	Bytes   int64
	Err     error
}

// HealthRecord is a snapshot of the mutable health state of one egress point.
type HealthRecord struct {
	Healthy             bool          `json:"healthy"`
	LastChecked         time.Time     `json:"last_checked"`
	ResponseTimeEWMA    time.Duration `json:"response_time_ewma"`
	SuccessRate         float64       `json:"success_rate"`
	TotalRequests       int64         `json:"total_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CurrentConnections  int           `json:"current_connections"`
	LastError           string        `json:"last_error,omitempty"`
}

// EgressStatus pairs a point with its health snapshot.
type EgressStatus struct {
	EgressPoint
	Health HealthRecord `json:"health"`
}

// ProviderStats aggregates the points of one provider.
type ProviderStats struct {
	TotalProxies   int         `json:"total_proxies"`
	HealthyProxies int         `json:"healthy_proxies"`
	TotalRequests  int64       `json:"total_requests"`
	FailedRequests int64       `json:"failed_requests"`
	SuccessRate    float64     `json:"success_rate"`
	Exhausted      bool        `json:"exhausted"`
	Quota          *UsageQuota `json:"quota,omitempty"`
}

// PoolStats represents pool-wide statistics
type PoolStats struct {
	Strategy        Strategy                 `json:"strategy"`
	TotalProxies    int                      `json:"total_proxies"`
	HealthyProxies  int                      `json:"healthy_proxies"`
	TotalRequests   int64                    `json:"total_requests"`
	SuccessRate     float64                  `json:"success_rate"`
	AvgResponseTime time.Duration            `json:"avg_response_time"`
	ActiveSessions  int                      `json:"active_sessions"`
	Providers       map[string]ProviderStats `json:"providers"`
}

// TLSConfig defines TLS/SSL configuration for probe connections
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Only honoured in debug builds.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// ServerName is used to verify the hostname on the returned certificates.
	ServerName string `yaml:"server_name,omitempty" json:"server_name,omitempty"`
	// RootCAs lists PEM files; empty means the host's root CA set.
	RootCAs    []string `yaml:"root_cas,omitempty" json:"root_cas,omitempty"`
	ClientCert string   `yaml:"client_cert,omitempty" json:"client_cert,omitempty"`
	ClientKey  string   `yaml:"client_key,omitempty" json:"client_key,omitempty"`
}

func unknownEgress(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownEgress, id)
}
