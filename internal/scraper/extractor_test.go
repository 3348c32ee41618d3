// internal/scraper/extractor_test.go
package scraper

import (
	"reflect"
	"testing"
)

const productPage = `<html><body>
<div class="product"><h2>Widget</h2><span class="price">$10</span><a href="/w">more</a></div>
<div class="product"><h2>Gadget</h2><span class="price">$20</span><a href="/g">more</a></div>
<div class="product"><h2>Orphan</h2></div>
<div class="product"></div>
<ul class="pager"><li><a class="next" href="/page/2">Next</a></li></ul>
</body></html>`

func productFields() []FieldConfig {
	return []FieldConfig{
		{Name: "title", Selector: "h2", Type: FieldTypeText},
		{Name: "price", Selector: ".price"},
		{Name: "link", Selector: "a", Type: FieldTypeAttr, Attribute: "href"},
	}
}

func TestExtractor_ContainerRecords(t *testing.T) {
	extractor, err := NewExtractor("div.product", productFields())
	if err != nil {
		t.Fatalf("NewExtractor() error: %v", err)
	}

	records, err := extractor.Extract(productPage)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	// the empty container is dropped, the orphan keeps defaults
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d: %v", len(records), records)
	}
	if records[0]["title"] != "Widget" || records[0]["price"] != "$10" || records[0]["link"] != "/w" {
		t.Errorf("Unexpected first record: %v", records[0])
	}
	if records[2]["title"] != "Orphan" || records[2]["price"] != "" {
		t.Errorf("Expected orphan with default price, got %v", records[2])
	}
}

func TestExtractor_RequiredField(t *testing.T) {
	fields := productFields()
	fields[1].Required = true
	extractor, err := NewExtractor("div.product", fields)
	if err != nil {
		t.Fatal(err)
	}
	records, _ := extractor.Extract(productPage)
	if len(records) != 2 {
		t.Errorf("Expected records without price to be dropped, got %d", len(records))
	}
}

func TestExtractor_DocumentScopeAndList(t *testing.T) {
	extractor, err := NewExtractor("", []FieldConfig{
		{Name: "titles", Selector: "div.product h2", Type: FieldTypeList},
		{Name: "missing", Selector: ".nothing", Default: "n/a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	records, err := extractor.Extract(productPage)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected one document record, got %d", len(records))
	}
	expected := []string{"Widget", "Gadget", "Orphan"}
	if !reflect.DeepEqual(records[0]["titles"], expected) {
		t.Errorf("Expected titles %v, got %v", expected, records[0]["titles"])
	}
	if records[0]["missing"] != "n/a" {
		t.Errorf("Expected default value, got %v", records[0]["missing"])
	}
}

func TestExtractor_NoMatches(t *testing.T) {
	extractor, _ := NewExtractor("div.product", []FieldConfig{{Name: "sku", Selector: ".sku"}})
	records, err := extractor.Extract(productPage)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %v", records)
	}
}

func TestExtractor_Limit(t *testing.T) {
	extractor, _ := NewExtractor("div.product", productFields())
	records, _ := extractor.WithLimit(1).Extract(productPage)
	if len(records) != 1 {
		t.Errorf("Expected limit of 1 record, got %d", len(records))
	}
	all, _ := extractor.Extract(productPage)
	if len(all) != 3 {
		t.Errorf("Expected WithLimit to leave the original untouched, got %d", len(all))
	}
}

func TestNewExtractor_Validation(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldConfig
	}{
		{"no fields", nil},
		{"no name", []FieldConfig{{Selector: "h1"}}},
		{"no selector", []FieldConfig{{Name: "title"}}},
		{"attr without attribute", []FieldConfig{{Name: "link", Selector: "a", Type: FieldTypeAttr}}},
		{"bad type", []FieldConfig{{Name: "x", Selector: "a", Type: "json"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExtractor("", tt.fields); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestNextPageURL(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		selector string
		expected string
		ok       bool
	}{
		{"anchor", productPage, "a.next", "https://shop.example/page/2", true},
		{"wrapper", productPage, "ul.pager li", "https://shop.example/page/2", true},
		{"missing", productPage, "a.prev", "", false},
		{"empty selector", productPage, "", "", false},
		{"self link", `<a class="next" href="/page/1">Next</a>`, "a.next", "", false},
		{"javascript", `<a class="next" href="javascript:void(0)">Next</a>`, "a.next", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextPageURL(tt.html, tt.selector, "https://shop.example/page/1")
			if ok != tt.ok || got != tt.expected {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.expected, tt.ok, got, ok)
			}
		})
	}
}

func TestExtractPage(t *testing.T) {
	extractor, _ := NewExtractor("div.product", productFields())
	result, err := extractor.ExtractPage(productPage, "a.next", "https://shop.example/page/1")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 3 {
		t.Errorf("Expected 3 records, got %d", len(result.Records))
	}
	if result.NextURL != "https://shop.example/page/2" {
		t.Errorf("Expected next page URL, got %q", result.NextURL)
	}
}
