package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	numberPattern      = regexp.MustCompile(`\d+(?:[.,/]\d+)?`)
	measurementPattern = regexp.MustCompile(`(?i)\b\d+(?:[.,/]\d+)?\s*(?:g|kg|mg|ml|l|oz|lb|lbs|cups?|tbsp|tsp|tablespoons?|teaspoons?|pinch|cloves?|min|mins|minutes?|hours?|sec|°c|°f|c|f|degrees?)\b`)
	unitWordPattern    = regexp.MustCompile(`(?i)\b(?:grams?|cups?|tbsp|tsp|tablespoons?|teaspoons?|ounces?|pounds?|ml|liters?|litres?|pinch|cloves?|minutes?|degrees?|oven|bake|boil|fry|stir|mix|chop|slice|whisk)\b`)
	tokenPattern       = regexp.MustCompile(`[\p{L}\p{N}]+`)
	whitespacePattern  = regexp.MustCompile(`[ \t]+`)
)

// CountNumbers counts numeric tokens.
func CountNumbers(text string) int {
	return len(numberPattern.FindAllString(text, -1))
}

// CountMeasurements counts quantity+unit pairs such as "200 g" or "2 tbsp".
func CountMeasurements(text string) int {
	return len(measurementPattern.FindAllString(text, -1))
}

// CountUnitWords counts cooking units and verbs.
func CountUnitWords(text string) int {
	return len(unitWordPattern.FindAllString(text, -1))
}

// Tokens lower-cases text and splits it into letter/digit runs.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Jaccard is the token-set similarity of a and b in [0, 1].
func Jaccard(a, b string) float64 {
	return jaccardSets(tokenSet(a), tokenSet(b))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// CleanText trims OCR output: collapses runs of blanks and drops lines that
// carry fewer than two letters or digits.
func CleanText(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
		alnum := 0
		for _, r := range line {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				alnum++
			}
		}
		if alnum < 2 {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Confidence scores single-frame OCR output 0-100. It rewards text that looks
// like real words and quantities and penalises symbol noise.
func Confidence(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	score := 0.0

	length := len([]rune(text))
	score += minFloat(float64(length)/80, 1) * 20

	words := strings.Fields(text)
	realWords := 0
	letters := 0
	for _, w := range words {
		n := 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				n++
			}
		}
		if n >= 2 {
			realWords++
			letters += n
		}
	}
	score += minFloat(float64(realWords)/8, 1) * 20
	if realWords > 0 {
		avg := float64(letters) / float64(realWords)
		if avg >= 3 && avg <= 9 {
			score += 15
		} else if avg >= 2 && avg <= 12 {
			score += 7
		}
	}

	if CountMeasurements(text) > 0 {
		score += 20
	} else if CountNumbers(text) > 0 {
		score += 10
	}
	if CountUnitWords(text) > 0 {
		score += 10
	}
	if strings.ContainsAny(text, ".,:;!?") {
		score += 10
	}
	if len(words) > 0 && unicode.IsUpper([]rune(words[0])[0]) {
		score += 5
	}

	noise := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".,:;!?()%/-°'\"", r) {
			noise++
		}
	}
	if ratio := float64(noise) / float64(length); ratio > 0.15 {
		score -= ratio * 100
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
