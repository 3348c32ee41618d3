// internal/scraper/types.go
package scraper

import (
	"fmt"
)

// Common errors
var (
	ErrEmptySelector = fmt.Errorf("selector cannot be empty")
	ErrNoFields      = fmt.Errorf("at least one field is required")
)

// Record is one extracted item keyed by field name.
type Record = map[string]interface{}

// Field types
const (
	FieldTypeText = "text"
	FieldTypeHTML = "html"
	FieldTypeAttr = "attr"
	FieldTypeList = "list"
)

// FieldConfig defines extraction configuration for a single field
type FieldConfig struct {
	Name      string      `yaml:"name" json:"name"`
	Selector  string      `yaml:"selector" json:"selector"`
	Type      string      `yaml:"type,omitempty" json:"type,omitempty"`
	Attribute string      `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Required  bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Default   interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// Validate checks the field definition
func (f FieldConfig) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if f.Selector == "" {
		return fmt.Errorf("field %q: %w", f.Name, ErrEmptySelector)
	}
	switch f.Type {
	case "", FieldTypeText, FieldTypeHTML, FieldTypeList:
	case FieldTypeAttr:
		if f.Attribute == "" {
			return fmt.Errorf("field %q: attribute name required for attr type", f.Name)
		}
	default:
		return fmt.Errorf("field %q: invalid field type: %s", f.Name, f.Type)
	}
	return nil
}

// PaginationInfo describes how a page links to the next one.
type PaginationInfo struct {
	HasNext      bool   `json:"has_next"`
	NextSelector string `json:"next_selector,omitempty"`
}

// PageAnalysis is what an inference backend recommends for a page.
type PageAnalysis struct {
	Container            string         `json:"container,omitempty"`
	RecommendedSelectors []FieldConfig  `json:"recommended_selectors"`
	Pagination           PaginationInfo `json:"pagination"`
	AntiBotMeasures      []string       `json:"anti_bot_measures,omitempty"`
}

// QualityScore is advisory output computed over the extracted records.
type QualityScore struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	ErrorPenalty float64 `json:"error_penalty"`
	Overall      float64 `json:"overall"`
	RecordCount  int     `json:"record_count"`
	ErrorCount   int     `json:"error_count"`
}
