// internal/scraper/quality.go
package scraper

import (
	"reflect"
	"sort"
	"strings"
)

// Quality weights
const (
	CompletenessWeight = 0.6
	ConsistencyWeight  = 0.4
	ErrorPenaltyStep   = 0.05
)

// ScoreQuality computes completeness, consistency and an overall score.
// expectedFields defaults to the union of keys seen across records.
func ScoreQuality(records []Record, expectedFields []string, errorCount int) QualityScore {
	score := QualityScore{
		RecordCount: len(records),
		ErrorCount:  errorCount,
	}
	if errorCount > 0 {
		score.ErrorPenalty = float64(errorCount) * ErrorPenaltyStep
	}

	fields := expectedFields
	if len(fields) == 0 {
		fields = fieldUnion(records)
	}
	if len(records) > 0 && len(fields) > 0 {
		score.Completeness = completeness(records, fields)
		score.Consistency = consistency(records, fields)
	}

	overall := CompletenessWeight*score.Completeness + ConsistencyWeight*score.Consistency - score.ErrorPenalty
	score.Overall = clamp(overall, 0, 1)
	return score
}

func completeness(records []Record, fields []string) float64 {
	filled := 0
	for _, r := range records {
		for _, f := range fields {
			if !isEmpty(r[f]) {
				filled++
			}
		}
	}
	return float64(filled) / float64(len(records)*len(fields))
}

// consistency is the share of observed fields whose non-empty values all have one kind.
func consistency(records []Record, fields []string) float64 {
	observed, consistent := 0, 0
	for _, f := range fields {
		kinds := make(map[string]struct{})
		for _, r := range records {
			if v := r[f]; !isEmpty(v) {
				kinds[valueKind(v)] = struct{}{}
			}
		}
		if len(kinds) == 0 {
			continue
		}
		observed++
		if len(kinds) == 1 {
			consistent++
		}
	}
	if observed == 0 {
		return 0
	}
	return float64(consistent) / float64(observed)
}

func fieldUnion(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func valueKind(v interface{}) string {
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "object"
	default:
		return "other"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
