package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lower-cases", input: "Error Message", expected: "error message"},
		{name: "collapses whitespace", input: "error \t\n message", expected: "error message"},
		{name: "trims", input: "  login  ", expected: "login"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeQuery(tt.input))
		})
	}
}

func TestFingerprint_StableAcrossFormatting(t *testing.T) {
	assert.Equal(t, Fingerprint("Error Message"), Fingerprint("  error   message "))
	assert.NotEqual(t, Fingerprint("error message"), Fingerprint("error messages"))
	assert.Len(t, Fingerprint("x"), 64)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abcdef", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 3))
	assert.Equal(t, "héé", TruncateRunes("héééé", 3))
	assert.Equal(t, "", TruncateRunes("abc", 0))

	long := strings.Repeat("a", 9000)
	assert.Len(t, TruncateRunes(long, 8000), 8000)
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "ab", TruncateBytes("abc", 2))
	// "é" is two bytes; cutting in the middle must back off to the rune start.
	assert.Equal(t, "a", TruncateBytes("aé", 2))
	assert.Equal(t, "aé", TruncateBytes("aé", 3))
}

func TestHighlight(t *testing.T) {
	t.Run("match near start", func(t *testing.T) {
		got, ok := Highlight("An Error Message appeared", "error message", 50, 100)
		assert.True(t, ok)
		assert.Equal(t, "...An Error Message appeared...", got)
	})

	t.Run("window bounded on both sides", func(t *testing.T) {
		text := strings.Repeat("x", 60) + "needle" + strings.Repeat("y", 200)
		got, ok := Highlight(text, "needle", 50, 100)
		assert.True(t, ok)
		want := "..." + strings.Repeat("x", 50) + "needle" + strings.Repeat("y", 100) + "..."
		assert.Equal(t, want, got)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := Highlight("nothing here", "needle", 50, 100)
		assert.False(t, ok)
	})

	t.Run("empty inputs", func(t *testing.T) {
		_, ok := Highlight("", "q", 50, 100)
		assert.False(t, ok)
		_, ok = Highlight("text", "", 50, 100)
		assert.False(t, ok)
	})

	t.Run("multibyte text", func(t *testing.T) {
		got, ok := Highlight("Ünïcode ERROR here", "error", 2, 0)
		assert.True(t, ok)
		assert.Equal(t, "...e ERROR...", got)
	})
}

func TestSuggestionWords(t *testing.T) {
	got := SuggestionWords("The Dashboard shows Revenue and quarterly Metrics plus Errors again Twice", 4, 5)
	assert.Equal(t, []string{"dashboard", "shows", "revenue", "quarterly", "metrics"}, got)

	assert.Empty(t, SuggestionWords("tiny bits only", 4, 5))
	assert.Empty(t, SuggestionWords("", 4, 5))
}
