package stores

import (
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime parses the many timestamp renderings SQL drivers hand
// back (RFC3339, sqlite's space-separated form, unix-ish strings).
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime normalizes a scanned timestamp column.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

// likePattern converts a '*' wildcard pattern into a SQL LIKE pattern.
func likePattern(pattern string) string {
	replaced := strings.ReplaceAll(pattern, "%", `\%`)
	replaced = strings.ReplaceAll(replaced, "_", `\_`)
	return strings.ReplaceAll(replaced, "*", "%")
}
