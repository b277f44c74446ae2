package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "lowercases and trims",
			input:    []string{"  A@X.COM ", "p:111"},
			expected: []string{"a@x.com", "p:111"},
		},
		{
			name:     "case-insensitive dedupe preserving first occurrence",
			input:    []string{"Foo", "foo", "FOO", "bar"},
			expected: []string{"foo", "bar"},
		},
		{
			name:     "drops empties and whitespace-only",
			input:    []string{"foo", "", "  ", "bar"},
			expected: []string{"foo", "bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
