package acquisition

import (
	"fmt"
	"strings"

	"cookclip/internal/fetch"
	"cookclip/internal/media"
)

// NotDeliveredNotice is sent when the video cannot be delivered but the
// request continues.
const NotDeliveredNotice = "⚠️ The video is too large to send here; recipe extraction continues."

const deliveryFailedNotice = "⚠️ Couldn't send the video; recipe extraction continues."

func downloadingText(platform fetch.Platform, attempt, maxAttempts int) string {
	if attempt <= 1 {
		return fmt.Sprintf("⬇️ Downloading from %s…", platform.DisplayName())
	}
	return fmt.Sprintf("⬇️ Downloading from %s (attempt %d/%d)…", platform.DisplayName(), attempt, maxAttempts)
}

func compressingText(art media.Artifact) string {
	return fmt.Sprintf("🗜 The video is %.0f MB, compressing…", art.SizeMB())
}

// FailureMessage is the single user-facing text for a terminal download failure.
func FailureMessage(platform fetch.Platform, kind fetch.FailureKind, attempts int) string {
	name := platform.DisplayName()
	var b strings.Builder
	switch kind {
	case fetch.FailurePrivate:
		fmt.Fprintf(&b, "🔒 %s is private or needs a login. Try a different video.", videoOf(platform))
	case fetch.FailureRegion:
		b.WriteString("🌍 This video isn't available in our region. Try a different video.")
	case fetch.FailureNotFound:
		b.WriteString("❓ This video was removed or the link is broken. Check the link or try a different video.")
	case fetch.FailureUnknown:
		fmt.Fprintf(&b, "❌ Couldn't download this video from %s. Try a different video or try again later.", name)
	default:
		fmt.Fprintf(&b, "⏳ Couldn't download this video from %s after %d %s. ", name, attempts, plural(attempts, "attempt"))
		switch platform {
		case fetch.PlatformInstagram, fetch.PlatformTikTok, fetch.PlatformFacebook:
			fmt.Fprintf(&b, "%s is limiting downloads right now; try again in 10–15 minutes.", name)
		default:
			b.WriteString("The site may be blocking downloads; try again in 10–15 minutes.")
		}
	}
	return b.String()
}

func videoOf(platform fetch.Platform) string {
	if platform == fetch.PlatformGeneric || platform == "" {
		return "This video"
	}
	return "This " + platform.DisplayName() + " video"
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
