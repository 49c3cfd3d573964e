package fusion

import (
	"strings"

	"cookclip/internal/fetch"
	"cookclip/internal/tokenutil"
)

// Section headers of the bundle text.
const (
	headerDescription = "## Description"
	headerTranscript  = "## Transcript"
	headerVisual      = "## On-screen text"
)

// Bundle is the fused text handed to the recipe parser. Every field may be
// empty; an all-empty bundle means no recipe content was found.
type Bundle struct {
	Transcript  string   `json:"transcript,omitempty"`
	Description string   `json:"description,omitempty"`
	VisualText  []string `json:"visual_text,omitempty"`
}

// IsEmpty reports whether no source produced text.
func (b Bundle) IsEmpty() bool {
	return strings.TrimSpace(b.Transcript) == "" &&
		strings.TrimSpace(b.Description) == "" &&
		len(b.VisualText) == 0
}

type section struct {
	header string
	body   string
}

func (b Bundle) sections() []section {
	var out []section
	if s := strings.TrimSpace(b.Description); s != "" {
		out = append(out, section{headerDescription, s})
	}
	if s := strings.TrimSpace(b.Transcript); s != "" {
		out = append(out, section{headerTranscript, s})
	}
	if len(b.VisualText) > 0 {
		lines := make([]string, 0, len(b.VisualText))
		for _, t := range b.VisualText {
			lines = append(lines, "- "+strings.ReplaceAll(strings.TrimSpace(t), "\n", " / "))
		}
		out = append(out, section{headerVisual, strings.Join(lines, "\n")})
	}
	return out
}

// Text concatenates the sources under their headers.
func (b Bundle) Text() string {
	return render(b.sections())
}

func render(sections []section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.header+"\n"+s.body)
	}
	return strings.Join(parts, "\n\n")
}

// TruncatedText renders the bundle within maxTokens. Each section keeps its
// header and gets an equal share of the budget; shares unused by short
// sections go to the longer ones.
func (b Bundle) TruncatedText(maxTokens int) string {
	sections := b.sections()
	full := render(sections)
	if maxTokens <= 0 || len(sections) == 0 || tokenutil.CountTokens(full) <= maxTokens {
		return full
	}

	overhead := 0
	for _, s := range sections {
		overhead += tokenutil.CountTokens(s.header) + 2
	}
	budget := maxTokens - overhead
	if budget < len(sections) {
		budget = len(sections)
	}

	sizes := make([]int, len(sections))
	for i, s := range sections {
		sizes[i] = tokenutil.CountTokens(s.body)
	}
	alloc := make([]int, len(sections))
	remaining := budget
	open := len(sections)
	done := make([]bool, len(sections))
	for open > 0 {
		share := remaining / open
		progressed := false
		for i := range sections {
			if !done[i] && sizes[i] <= share {
				alloc[i] = sizes[i]
				remaining -= sizes[i]
				done[i] = true
				open--
				progressed = true
			}
		}
		if !progressed {
			for i := range sections {
				if !done[i] {
					alloc[i] = share
				}
			}
			break
		}
	}

	out := make([]section, len(sections))
	for i, s := range sections {
		out[i] = section{s.header, tokenutil.TruncateToTokens(s.body, alloc[i])}
	}
	return render(out)
}

// Description builds the description source from probed metadata: title
// followed by the author text. Placeholder metadata yields nothing.
func Description(md fetch.Metadata) string {
	if md.Placeholder {
		return ""
	}
	title := strings.TrimSpace(md.Title)
	desc := strings.TrimSpace(md.Description)
	switch {
	case title == "":
		return desc
	case desc == "":
		return title
	case strings.HasPrefix(desc, title):
		return desc
	default:
		return title + "\n" + desc
	}
}
