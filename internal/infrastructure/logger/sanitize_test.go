package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "locator unchanged",
			input:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			expected: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "forged log line",
			input:    "title\nINFO: fake entry",
			expected: "title\\nINFO: fake entry",
		},
		{
			name:     "CRLF escaped",
			input:    "a\r\nb",
			expected: "a\\r\\nb",
		},
		{
			name:     "tab escaped",
			input:    "a\tb",
			expected: "a\\tb",
		},
		{
			name:     "null byte escaped",
			input:    "a\x00b",
			expected: "a\\x00b",
		},
		{
			name:     "ANSI escape",
			input:    "\x1b[31mred\x1b[0m",
			expected: "\\x1b[31mred\\x1b[0m",
		},
		{
			name:     "DEL escaped",
			input:    "a\x7fb",
			expected: "a\\x7fb",
		},
		{
			name:     "unicode preserved",
			input:    "Café 日本語 🎬",
			expected: "Café 日本語 🎬",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "short", input: "abc", n: 10, expected: "abc"},
		{name: "exact", input: "abcde", n: 5, expected: "abcde"},
		{name: "cut", input: "abcdefghij", n: 6, expected: "abc..."},
		{name: "tiny limit", input: "abcdef", n: 2, expected: "ab"},
		{name: "zero", input: "abc", n: 0, expected: ""},
		{name: "runes", input: "日本語日本語", n: 5, expected: "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.n))
		})
	}
}
