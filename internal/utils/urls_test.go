package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP://Example.COM:80/path/", "http://example.com/path"},
		{"https://example.com:443", "https://example.com/"},
		{"https://example.com/a?b=2&a=1#frag", "https://example.com/a?a=1&b=2"},
		{"https://example.com:8443/x", "https://example.com:8443/x"},
	}

	for _, tt := range tests {
		got, err := NormalizeURL(tt.input)
		if err != nil {
			t.Errorf("NormalizeURL(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("NormalizeURL(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"https://example.com", true},
		{"http://example.com/page?x=1", true},
		{"", false},
		{"ftp://example.com", false},
		{"/relative/path", false},
		{"https://", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		err := ValidateHTTPURL(tt.input)
		if tt.valid && err != nil {
			t.Errorf("ValidateHTTPURL(%q) unexpected error: %v", tt.input, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ValidateHTTPURL(%q) expected error", tt.input)
		}
	}
}

func TestResolveURL(t *testing.T) {
	got, err := ResolveURL("https://example.com/list/page1", "page2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/list/page2" {
		t.Errorf("Expected relative resolution, got %q", got)
	}

	got, _ = ResolveURL("https://example.com/list", "https://other.com/x")
	if got != "https://other.com/x" {
		t.Errorf("Expected absolute ref to win, got %q", got)
	}

	got, _ = ResolveURL("https://example.com/list", "  ")
	if got != "" {
		t.Errorf("Expected empty result for empty ref, got %q", got)
	}
}

func TestTruncateAndSanitize(t *testing.T) {
	if got := TruncateString("abcdefgh", 6); got != "abc..." {
		t.Errorf("Expected 'abc...', got %q", got)
	}
	if got := TruncateString("abc", 6); got != "abc" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := SanitizeSelector("  div   .item \n a "); got != "div .item a" {
		t.Errorf("Expected collapsed whitespace, got %q", got)
	}
}
