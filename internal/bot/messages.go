package bot

import (
	"fmt"
	"strings"
	"time"

	"cookclip/internal/fetch"
	"cookclip/internal/messaging"
)

const (
	helpText           = "👋 Send me a link to a cooking video from TikTok, Instagram, YouTube, Facebook, Pinterest or VK and I'll pull the recipe out of it."
	probingText        = "🔍 Looking at the link…"
	supersededText     = "⏭ Replaced by your newer link."
	expiredText        = "⌛ No answer, so this request timed out. Send the link again if you still want it."
	cancelledText      = "✖️ Cancelled."
	nothingPendingText = "Nothing is waiting for your answer. Send me a link to a cooking video."
	closedText         = "🚧 The bot is restarting. Send the link again in a minute."
	cachedText         = "♻️ I've seen this video before."
	writingText        = "👩‍🍳 Writing up the recipe…"
	noRecipeText       = "🤷 I couldn't find a recipe in this video."
	parserFailedText   = "⚠️ Couldn't write up the recipe right now. Try again later."

	maxDescriptionRunes = 300
)

var promptButtons = []messaging.Button{
	{Text: "✅ Download", Data: "download"},
	{Text: "ℹ️ Info only", Data: "info"},
	{Text: "✖️ Cancel", Data: "cancel"},
}

func queuedText(position int) string {
	return fmt.Sprintf("⏳ Another video is downloading. You're #%d in line.", position)
}

func summary(meta fetch.Metadata) string {
	var b strings.Builder
	if meta.Placeholder {
		b.WriteString("🎬 Couldn't read the details of this video.\n")
	} else {
		fmt.Fprintf(&b, "🎬 %s\n", meta.Title)
		if meta.Uploader != "" {
			fmt.Fprintf(&b, "👤 %s\n", meta.Uploader)
		}
	}
	if meta.Duration > 0 {
		fmt.Fprintf(&b, "⏱ %s · ", clock(meta.Duration))
	}
	b.WriteString(meta.Platform.DisplayName())
	return b.String()
}

func promptText(meta fetch.Metadata) string {
	return summary(meta) + "\n\nDownload the video and extract the recipe?"
}

func infoText(meta fetch.Metadata) string {
	text := summary(meta)
	if desc := strings.TrimSpace(meta.Description); desc != "" {
		text += "\n\n" + truncateRunes(desc, maxDescriptionRunes)
	}
	return text + "\n\nℹ️ Nothing was downloaded."
}

func clock(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
