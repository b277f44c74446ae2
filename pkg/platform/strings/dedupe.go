// Package strings provides string slice utilities shared across the service.
package strings

import (
	"strings"
)

// DedupeAndTrimLower lowercases and trims every element, dropping empties and
// duplicates. Order of first occurrence is preserved. Used to canonicalize
// identity lock keys, never stored contact values.
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		canon := strings.ToLower(strings.TrimSpace(v))
		if canon == "" {
			continue
		}
		if _, ok := seen[canon]; !ok {
			seen[canon] = struct{}{}
			result = append(result, canon)
		}
	}

	return result
}
