package fusion

import (
	"strings"
	"unicode"

	"cookclip/internal/ocr"
)

// QualityScore estimates 0-100 how much text reads like real cooking
// instructions rather than merely being non-empty.
func QualityScore(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	score := 0.0

	// length, up to 25
	score += minf(float64(len([]rune(text)))/600, 1) * 25

	// word count, up to 20
	score += minf(float64(len(words))/100, 1) * 20

	// quantities and units, up to 25
	quantities := float64(ocr.CountMeasurements(text))*5 + float64(ocr.CountNumbers(text))*2 + float64(ocr.CountUnitWords(text))
	score += minf(quantities, 25)

	// sentence-like structure, up to 15
	sentences := countSentences(text)
	score += minf(float64(sentences)/6, 1) * 15

	// punctuation density, up to 15
	punct := 0
	for _, r := range text {
		if strings.ContainsRune(".,;:!?", r) {
			punct++
		}
	}
	density := float64(punct) / float64(len(words))
	switch {
	case density >= 0.05 && density <= 0.35:
		score += 15
	case density > 0 && density <= 0.6:
		score += 7
	}

	if score > 100 {
		return 100
	}
	return score
}

// countSentences counts spans of at least three words ending in a terminator
// or a line break.
func countSentences(text string) int {
	count := 0
	wordsInSpan := 0
	inWord := false
	flush := func() {
		if wordsInSpan >= 3 {
			count++
		}
		wordsInSpan = 0
	}
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?' || r == '\n':
			if inWord {
				wordsInSpan++
				inWord = false
			}
			flush()
		case unicode.IsSpace(r):
			if inWord {
				wordsInSpan++
				inWord = false
			}
		default:
			inWord = true
		}
	}
	if inWord {
		wordsInSpan++
	}
	flush()
	return count
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
