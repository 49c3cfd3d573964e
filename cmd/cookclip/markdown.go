package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"cookclip/internal/bot"
)

// markdownRenderer renders recipe text for the terminal.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
}

// newMarkdownRenderer uses the colored style on a terminal and the notty
// style otherwise.
func newMarkdownRenderer(plain bool) (*markdownRenderer, error) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = min(w-4, 120)
	}
	style := glamour.WithStandardStyle("dark")
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width), glamour.WithEmoji())
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &markdownRenderer{renderer: r}, nil
}

func (m *markdownRenderer) Render(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n") + "\n", nil
}

// extractionMarkdown lays out the collected text, one section per source.
func extractionMarkdown(ex bot.Extraction) string {
	var b strings.Builder
	title := strings.TrimSpace(ex.Metadata.Title)
	if title == "" {
		title = ex.URL
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if ex.Metadata.Uploader != "" {
		fmt.Fprintf(&b, "_by %s_\n\n", ex.Metadata.Uploader)
	}
	if ex.Cached {
		b.WriteString("> served from cache\n\n")
	}
	if t := strings.TrimSpace(ex.Bundle.Transcript); t != "" {
		fmt.Fprintf(&b, "## Transcript\n\n%s\n\n", t)
	}
	if d := strings.TrimSpace(ex.Bundle.Description); d != "" {
		fmt.Fprintf(&b, "## Description\n\n%s\n\n", d)
	}
	if len(ex.Bundle.VisualText) > 0 {
		b.WriteString("## On-screen text\n\n")
		for _, line := range ex.Bundle.VisualText {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}
	if ex.Bundle.IsEmpty() {
		b.WriteString("_No text was found in this video._\n")
	}
	return b.String()
}
