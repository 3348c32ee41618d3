// internal/scraper/inference.go
package scraper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/valpere/scraperotor/internal/utils"
)

var inferenceLogger = utils.NewComponentLogger("inference")

// InferenceBackend suggests selectors for a page.
type InferenceBackend interface {
	GenerateSelectors(ctx context.Context, html string) ([]string, error)
	AnalyzeWebPage(ctx context.Context, html, intent string) (*PageAnalysis, error)
}

// LocalBackend infers selectors from document structure alone.
type LocalBackend struct {
	// MinRepeat is how often a tag.class pair must occur to count as a record container.
	MinRepeat int
	// MaxSelectors caps GenerateSelectors output.
	MaxSelectors int
}

// NewLocalBackend creates a heuristic backend with default thresholds
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{MinRepeat: 3, MaxSelectors: 10}
}

// GenerateSelectors returns repeated tag.class selectors, most frequent first.
func (b *LocalBackend) GenerateSelectors(ctx context.Context, html string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	selectors := b.repeatedSelectors(doc)
	if len(selectors) == 0 {
		return nil, fmt.Errorf("no repeated elements found")
	}
	return selectors, nil
}

func (b *LocalBackend) repeatedSelectors(doc *goquery.Document) []string {
	counts := make(map[string]int)
	doc.Find("body *[class]").Each(func(_ int, s *goquery.Selection) {
		class := strings.Fields(s.AttrOr("class", ""))
		if len(class) == 0 {
			return
		}
		counts[goquery.NodeName(s)+"."+class[0]]++
	})

	minRepeat := b.MinRepeat
	if minRepeat <= 0 {
		minRepeat = 3
	}
	var selectors []string
	for sel, n := range counts {
		if n >= minRepeat {
			selectors = append(selectors, sel)
		}
	}
	sort.Slice(selectors, func(i, j int) bool {
		if counts[selectors[i]] != counts[selectors[j]] {
			return counts[selectors[i]] > counts[selectors[j]]
		}
		return selectors[i] < selectors[j]
	})
	if b.MaxSelectors > 0 && len(selectors) > b.MaxSelectors {
		selectors = selectors[:b.MaxSelectors]
	}
	return selectors
}

// fieldHints maps intent keywords to candidate selectors, tried in order.
var fieldHints = []struct {
	name      string
	keywords  []string
	selectors []string
	attribute string
}{
	{"title", []string{"title", "name", "heading", "headline", "product"}, []string{"h1", "h2", "h3", "h4", "[class*=title]", "[class*=name]"}, ""},
	{"price", []string{"price", "cost", "amount"}, []string{"[class*=price]", "[itemprop=price]"}, ""},
	{"link", []string{"link", "url", "href"}, []string{"a[href]"}, "href"},
	{"image", []string{"image", "img", "photo", "picture"}, []string{"img[src]"}, "src"},
	{"description", []string{"description", "summary", "text", "content"}, []string{"[class*=desc]", "p"}, ""},
	{"date", []string{"date", "time", "published"}, []string{"time", "[class*=date]"}, ""},
	{"author", []string{"author", "by", "writer"}, []string{"[rel=author]", "[class*=author]"}, ""},
}

var nextSelectors = []string{
	"a[rel=next]",
	"a.next",
	"[class*=next] a[href]",
	"a[aria-label*=Next]",
	"a:contains('Next')",
	"a:contains('»')",
}

var antiBotMarkers = map[string]string{
	"g-recaptcha":        "recaptcha",
	"h-captcha":          "hcaptcha",
	"cf-challenge":       "cloudflare_challenge",
	"challenge-platform": "cloudflare_challenge",
	"datadome":           "datadome",
	"px-captcha":         "perimeterx",
}

// AnalyzeWebPage picks a record container, fields matching the intent keywords,
// a next-page selector and visible anti-bot markers.
func (b *LocalBackend) AnalyzeWebPage(ctx context.Context, html, intent string) (*PageAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	analysis := &PageAnalysis{}
	scope := doc.Selection
	if containers := b.repeatedSelectors(doc); len(containers) > 0 {
		analysis.Container = containers[0]
		scope = doc.Find(analysis.Container).First()
	}

	words := strings.Fields(strings.ToLower(intent))
	for _, hint := range fieldHints {
		if len(words) > 0 && !mentions(words, hint.keywords) {
			continue
		}
		for _, sel := range hint.selectors {
			if scope.Find(sel).Length() == 0 {
				continue
			}
			f := FieldConfig{Name: hint.name, Selector: sel, Type: FieldTypeText}
			if hint.attribute != "" {
				f.Type = FieldTypeAttr
				f.Attribute = hint.attribute
			}
			analysis.RecommendedSelectors = append(analysis.RecommendedSelectors, f)
			break
		}
	}

	for _, sel := range nextSelectors {
		if doc.Find(sel).Length() > 0 {
			analysis.Pagination = PaginationInfo{HasNext: true, NextSelector: sel}
			break
		}
	}

	lower := strings.ToLower(html)
	seen := make(map[string]bool)
	for marker, name := range antiBotMarkers {
		if strings.Contains(lower, marker) && !seen[name] {
			seen[name] = true
			analysis.AntiBotMeasures = append(analysis.AntiBotMeasures, name)
		}
	}
	sort.Strings(analysis.AntiBotMeasures)

	if len(analysis.RecommendedSelectors) == 0 {
		return analysis, fmt.Errorf("no selectors matched intent %q", intent)
	}
	return analysis, nil
}

func mentions(words, keywords []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'")
		for _, k := range keywords {
			if w == k || w == k+"s" || w == k+"es" {
				return true
			}
		}
	}
	return false
}

// RemoteConfig configures RemoteBackend
type RemoteConfig struct {
	Endpoint     string        `yaml:"endpoint" json:"endpoint"`
	APIKey       string        `yaml:"api_key,omitempty" json:"-"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxHTMLBytes int           `yaml:"max_html_bytes" json:"max_html_bytes"`
	RetryCount   int           `yaml:"retry_count" json:"retry_count"`
}

// RemoteBackend delegates inference to an HTTP JSON service exposing
// POST /selectors and POST /analyze.
type RemoteBackend struct {
	client   *resty.Client
	maxBytes int
}

type selectorsRequest struct {
	HTML string `json:"html"`
}

type selectorsResponse struct {
	Selectors []string `json:"selectors"`
}

type analyzeRequest struct {
	HTML   string `json:"html"`
	Intent string `json:"intent"`
}

// NewRemoteBackend creates a client for the inference service
func NewRemoteBackend(cfg RemoteConfig) (*RemoteBackend, error) {
	if err := utils.ValidateHTTPURL(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid inference endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxHTMLBytes <= 0 {
		cfg.MaxHTMLBytes = 100 << 10
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &RemoteBackend{client: client, maxBytes: cfg.MaxHTMLBytes}, nil
}

func (b *RemoteBackend) snippet(html string) string {
	if len(html) <= b.maxBytes {
		return html
	}
	return html[:b.maxBytes]
}

func (b *RemoteBackend) post(ctx context.Context, path string, body, result interface{}) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(path)
	if err != nil {
		return fmt.Errorf("inference request %s failed: %w", path, err)
	}
	if resp.IsError() {
		inferenceLogger.WithFields(map[string]interface{}{
			"path":   path,
			"status": resp.StatusCode(),
		}).Warn("inference backend returned an error")
		return fmt.Errorf("inference backend returned HTTP %d", resp.StatusCode())
	}
	return nil
}

// GenerateSelectors implements InferenceBackend
func (b *RemoteBackend) GenerateSelectors(ctx context.Context, html string) ([]string, error) {
	var out selectorsResponse
	if err := b.post(ctx, "/selectors", selectorsRequest{HTML: b.snippet(html)}, &out); err != nil {
		return nil, err
	}
	if len(out.Selectors) == 0 {
		return nil, fmt.Errorf("inference backend returned no selectors")
	}
	return out.Selectors, nil
}

// AnalyzeWebPage implements InferenceBackend
func (b *RemoteBackend) AnalyzeWebPage(ctx context.Context, html, intent string) (*PageAnalysis, error) {
	var out PageAnalysis
	if err := b.post(ctx, "/analyze", analyzeRequest{HTML: b.snippet(html), Intent: intent}, &out); err != nil {
		return nil, err
	}
	for _, f := range out.RecommendedSelectors {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("inference backend returned invalid field: %w", err)
		}
	}
	return &out, nil
}
