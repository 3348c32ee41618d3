// internal/scraper/extractor.go
package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/scraperotor/internal/utils"
)

// Extractor turns an HTML document into records. With a container selector it
// yields one record per matching element, fields resolved inside it; without
// one the whole document is a single record.
type Extractor struct {
	container string
	fields    []FieldConfig
	limit     int
}

// NewExtractor validates the field set and builds an extractor
func NewExtractor(container string, fields []FieldConfig) (*Extractor, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	cleaned := make([]FieldConfig, len(fields))
	for i, f := range fields {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		f.Selector = utils.SanitizeSelector(f.Selector)
		cleaned[i] = f
	}
	return &Extractor{container: utils.SanitizeSelector(container), fields: cleaned}, nil
}

// WithLimit caps the number of records per document; 0 means no cap.
func (e *Extractor) WithLimit(n int) *Extractor {
	cp := *e
	cp.limit = n
	return &cp
}

// Fields returns the field definitions
func (e *Extractor) Fields() []FieldConfig {
	return append([]FieldConfig(nil), e.fields...)
}

// FieldNames returns the configured field names in order
func (e *Extractor) FieldNames() []string {
	names := make([]string, len(e.fields))
	for i, f := range e.fields {
		names[i] = f.Name
	}
	return names
}

// Extract parses html and returns the records found. Records missing a
// required field, or with every field empty, are dropped.
func (e *Extractor) Extract(html string) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return e.fromDocument(doc), nil
}

func (e *Extractor) fromDocument(doc *goquery.Document) []Record {
	var scopes []*goquery.Selection
	if e.container == "" {
		scopes = []*goquery.Selection{doc.Selection}
	} else {
		doc.Find(e.container).Each(func(_ int, s *goquery.Selection) {
			scopes = append(scopes, s)
		})
	}

	records := make([]Record, 0, len(scopes))
	for _, scope := range scopes {
		if e.limit > 0 && len(records) >= e.limit {
			break
		}
		if record, ok := e.extractRecord(scope); ok {
			records = append(records, record)
		}
	}
	return records
}

func (e *Extractor) extractRecord(scope *goquery.Selection) (Record, bool) {
	record := make(Record, len(e.fields))
	found := 0
	for _, f := range e.fields {
		value, ok := extractValue(scope, f)
		if !ok {
			if f.Required {
				return nil, false
			}
			record[f.Name] = defaultValue(f)
			continue
		}
		record[f.Name] = value
		found++
	}
	return record, found > 0
}

// extractValue extracts the raw value based on field type
func extractValue(scope *goquery.Selection, f FieldConfig) (interface{}, bool) {
	selection := scope.Find(f.Selector)
	if selection.Length() == 0 {
		return nil, false
	}

	switch f.Type {
	case FieldTypeHTML:
		html, err := selection.First().Html()
		if err != nil || strings.TrimSpace(html) == "" {
			return nil, false
		}
		return strings.TrimSpace(html), true
	case FieldTypeAttr:
		attr, exists := selection.First().Attr(f.Attribute)
		if !exists || strings.TrimSpace(attr) == "" {
			return nil, false
		}
		return strings.TrimSpace(attr), true
	case FieldTypeList:
		var items []string
		selection.Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				items = append(items, text)
			}
		})
		return items, len(items) > 0
	default:
		text := strings.TrimSpace(selection.First().Text())
		return text, text != ""
	}
}

// defaultValue returns the default value for the field
func defaultValue(f FieldConfig) interface{} {
	if f.Default != nil {
		return f.Default
	}
	if f.Type == FieldTypeList {
		return []string{}
	}
	return ""
}

// NextPageURL finds the link matched by selector and resolves it against base.
func NextPageURL(html, selector, base string) (string, bool) {
	if selector == "" {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	return nextFromDocument(doc, selector, base)
}

func nextFromDocument(doc *goquery.Document, selector, base string) (string, bool) {
	link := doc.Find(selector).First()
	if link.Length() == 0 {
		return "", false
	}
	href, ok := link.Attr("href")
	if !ok {
		// selector may point at a wrapper around the anchor
		href, ok = link.Find("a[href]").First().Attr("href")
	}
	if !ok || strings.HasPrefix(strings.TrimSpace(href), "javascript:") {
		return "", false
	}
	next, err := utils.ResolveURL(base, href)
	if err != nil || next == "" || next == base {
		return "", false
	}
	return next, true
}

// PageResult is the outcome of one extraction pass over a document.
type PageResult struct {
	Records []Record
	NextURL string
}

// ExtractPage extracts records and, when nextSelector is set, the next page
// address in a single parse.
func (e *Extractor) ExtractPage(html, nextSelector, base string) (*PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	result := &PageResult{Records: e.fromDocument(doc)}
	if nextSelector != "" {
		result.NextURL, _ = nextFromDocument(doc, nextSelector, base)
	}
	return result, nil
}
