// Package tokenutil counts and truncates text in cl100k_base tokens. The
// encoding loads lazily; when it is unavailable a rune heuristic is used.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func enc() *tiktoken.Tiktoken {
	once.Do(func() {
		if e, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = e
		}
	})
	return encoding
}

// CountTokens returns the token count of text.
func CountTokens(text string) int {
	if e := enc(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast is max(runes/4, words).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens cuts text to at most maxTokens tokens. A cut is marked
// with a trailing ellipsis. maxTokens <= 0 disables truncation.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || CountTokens(text) <= maxTokens {
		return text
	}
	if e := enc(); e != nil {
		tokens := e.Encode(text, nil, nil)
		if maxTokens > 1 {
			return strings.TrimSpace(e.Decode(tokens[:maxTokens-1])) + "…"
		}
		return "…"
	}
	// Shrink by words until the estimate fits.
	words := strings.Fields(text)
	for len(words) > 0 && EstimateFast(strings.Join(words, " ")+" …") > maxTokens {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return "…"
	}
	return strings.Join(words, " ") + " …"
}
