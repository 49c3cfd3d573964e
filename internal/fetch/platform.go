// Package fetch adapts yt-dlp: platform detection, named option profiles,
// metadata probing and download with failures classified once at this
// boundary.
package fetch

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform identifies the hosting site of a video link.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformPinterest Platform = "pinterest"
	PlatformVK        Platform = "vk"
	PlatformGeneric   Platform = "generic"
)

// DisplayName is the human-facing platform name.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformTikTok:
		return "TikTok"
	case PlatformInstagram:
		return "Instagram"
	case PlatformYouTube:
		return "YouTube"
	case PlatformFacebook:
		return "Facebook"
	case PlatformPinterest:
		return "Pinterest"
	case PlatformVK:
		return "VK"
	default:
		return "this site"
	}
}

var hostPlatforms = []struct {
	suffix   string
	platform Platform
}{
	{"tiktok.com", PlatformTikTok},
	{"instagram.com", PlatformInstagram},
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"facebook.com", PlatformFacebook},
	{"fb.watch", PlatformFacebook},
	{"pinterest.com", PlatformPinterest},
	{"pin.it", PlatformPinterest},
	{"vk.com", PlatformVK},
	{"vkvideo.ru", PlatformVK},
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURL returns the first supported video link in text.
func ExtractURL(text string) (string, bool) {
	for _, candidate := range urlPattern.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;:!?)]}")
		if DetectPlatform(candidate) != PlatformGeneric {
			return candidate, true
		}
	}
	return "", false
}

// DetectPlatform maps a URL to its platform by host.
func DetectPlatform(raw string) Platform {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return PlatformGeneric
	}
	host := strings.ToLower(u.Hostname())
	for _, hp := range hostPlatforms {
		if host == hp.suffix || strings.HasSuffix(host, "."+hp.suffix) {
			return hp.platform
		}
	}
	return PlatformGeneric
}

// IsShortForm reports whether the link points at a vertical short-form clip.
func IsShortForm(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	switch DetectPlatform(raw) {
	case PlatformTikTok:
		return true
	case PlatformInstagram:
		return strings.HasPrefix(path, "/reel") || strings.HasPrefix(path, "/p/")
	case PlatformYouTube:
		return strings.HasPrefix(path, "/shorts/")
	case PlatformFacebook:
		return strings.HasPrefix(path, "/reel")
	case PlatformVK:
		return strings.HasPrefix(path, "/clip")
	default:
		return false
	}
}

var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true, "utm_term": true,
	"utm_content": true, "igshid": true, "igsh": true, "si": true, "feature": true,
	"is_from_webapp": true, "sender_device": true, "_r": true, "_t": true,
}

// NormalizeURL produces a stable cache key: lower-case host without "www."
// or "m.", no fragment, no tracking parameters, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	q := u.Query()
	for key := range q {
		if trackingParams[strings.ToLower(key)] {
			q.Del(key)
		}
	}
	u.Scheme = "https"
	u.Host = host
	u.Fragment = ""
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
