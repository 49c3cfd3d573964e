package tokenutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateFast(t *testing.T) {
	assert.Equal(t, 0, EstimateFast("   "))
	assert.Equal(t, 1, EstimateFast("a"))
	assert.Equal(t, 3, EstimateFast("a b c"))
	assert.Equal(t, 5, EstimateFast(strings.Repeat("x", 20)))
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("whisk the eggs until fluffy. ", 200)
	out := TruncateToTokens(text, 50)
	assert.LessOrEqual(t, CountTokens(out), 52)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.True(t, strings.HasPrefix(out, "whisk the eggs"))

	short := "two eggs"
	assert.Equal(t, short, TruncateToTokens(short, 50))
	assert.Equal(t, text, TruncateToTokens(text, 0))
}
