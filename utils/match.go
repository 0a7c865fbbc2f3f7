// Package utils holds small helpers shared by the engine and its tools.
package utils

import "strings"

// MatchResource reports whether a resource type matches a pattern. Patterns
// are literal except for '*', which matches any run of characters (including
// none). Used by audit filters and the lint CLI to select resources like
// "job*" or "*".
func MatchResource(value, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return pattern == "*" || value == ""
	}
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}
	parts := strings.Split(pattern, "*")

	// Anchor the first and last literal chunks, then greedily place the
	// middle chunks left to right.
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := parts[len(parts)-1]
	if !strings.HasSuffix(value, last) {
		return false
	}
	value = value[:len(value)-len(last)]
	for _, chunk := range parts[1 : len(parts)-1] {
		if chunk == "" {
			continue
		}
		idx := strings.Index(value, chunk)
		if idx < 0 {
			return false
		}
		value = value[idx+len(chunk):]
	}
	return true
}
