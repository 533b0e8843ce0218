package batcher

import (
	"regexp"
	"strings"
)

// Keywords that collide with the search syntax's OR operator
var reservedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\$?OR$`),
}

// Filter drops keywords that must never reach a query
type Filter struct {
	reserved map[string]bool
}

// NewFilter creates a filter for the configured reserved keywords.
// The built-in operator patterns always apply.
func NewFilter(reserved []string) *Filter {
	f := &Filter{reserved: make(map[string]bool)}
	for _, kw := range reserved {
		f.reserved[strings.ToUpper(strings.TrimSpace(kw))] = true
	}
	return f
}

// IsReserved checks if a keyword is reserved
func (f *Filter) IsReserved(keyword string) bool {
	upper := strings.ToUpper(keyword)
	if f.reserved[upper] {
		return true
	}
	for _, pattern := range reservedPatterns {
		if pattern.MatchString(upper) {
			return true
		}
	}
	return false
}

// Apply trims, deduplicates and removes reserved keywords, keeping the first
// occurrence order
func (f *Filter) Apply(keywords []string) []string {
	seen := make(map[string]bool)
	var filtered []string

	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if f.IsReserved(kw) {
			continue
		}
		if seen[kw] {
			continue
		}

		seen[kw] = true
		filtered = append(filtered, kw)
	}

	return filtered
}
