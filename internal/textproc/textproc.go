// Package textproc holds the pure text helpers shared by the pipeline and search:
// normalization, safe truncation, highlight excerpts and suggestion words.
package textproc

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var reWhitespace = regexp.MustCompile(`\s+`)

// NormalizeQuery lower-cases q and collapses runs of whitespace.
func NormalizeQuery(q string) string {
	q = reWhitespace.ReplaceAllString(q, " ")
	return strings.ToLower(strings.TrimSpace(q))
}

// Fingerprint computes a stable SHA-256 fingerprint of a normalized query.
func Fingerprint(q string) string {
	hash := sha256.Sum256([]byte(NormalizeQuery(q)))
	return fmt.Sprintf("%x", hash)
}

// TruncateRunes truncates s to at most n characters.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateBytes truncates s to maxBytes without splitting UTF-8 runes.
func TruncateBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// Highlight returns an excerpt of text around the first case-insensitive
// occurrence of query: up to before characters ahead of the match and
// len(query)+after characters from its start, wrapped in ellipses.
// ok is false when query does not occur in text.
func Highlight(text, query string, before, after int) (excerpt string, ok bool) {
	if text == "" || query == "" {
		return "", false
	}
	runes := []rune(text)
	needle := []rune(query)
	idx := indexFold(runes, needle)
	if idx < 0 {
		return "", false
	}
	start := max(0, idx-before)
	end := min(len(runes), idx+len(needle)+after)
	return "..." + string(runes[start:end]) + "...", true
}

func indexFold(haystack, needle []rune) int {
	if len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i
	}
	return -1
}

// SuggestionWords returns up to limit lower-cased words of text longer than
// minLen characters, in order of appearance.
func SuggestionWords(text string, minLen, limit int) []string {
	words := make([]string, 0, limit)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(words) == limit {
			break
		}
		if utf8.RuneCountInString(w) > minLen {
			words = append(words, w)
		}
	}
	return words
}
