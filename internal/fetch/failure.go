package fetch

import (
	"fmt"
	"strings"
)

// FailureKind is the closed set of acquisition failure classifications.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureFormatUnavailable
	FailureExtractionBlocked
	FailureNoFormats
	FailureCorruptOutput
	FailureMissingOutput
	FailureTimeout
	FailurePrivate
	FailureRegion
	FailureNotFound
)

var failureNames = map[FailureKind]string{
	FailureUnknown:           "unknown",
	FailureFormatUnavailable: "format_unavailable",
	FailureExtractionBlocked: "extraction_blocked",
	FailureNoFormats:         "no_formats",
	FailureCorruptOutput:     "corrupt_output",
	FailureMissingOutput:     "missing_output",
	FailureTimeout:           "timeout",
	FailurePrivate:           "private",
	FailureRegion:            "region",
	FailureNotFound:          "not_found",
}

func (k FailureKind) String() string {
	if name, ok := failureNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether another attempt with an escalated profile may help.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureFormatUnavailable, FailureExtractionBlocked, FailureNoFormats,
		FailureCorruptOutput, FailureMissingOutput, FailureTimeout:
		return true
	default:
		return false
	}
}

// Error is the only error type the acquisition adapter returns for a failed
// attempt.
type Error struct {
	Kind     FailureKind
	Platform Platform
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s download failed (%s): %s", e.Platform, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s download failed (%s)", e.Platform, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure kind is retryable.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Ordered: restriction signatures win over transient ones because yt-dlp
// often prints both ("Video unavailable. This video is private").
var signatures = []struct {
	kind     FailureKind
	patterns []string
}{
	{FailurePrivate, []string{
		"private video", "this video is private", "account is private", "private account",
		"login required", "log in to", "requires authentication", "members-only",
		"sign in to confirm your age", "age-restricted", "inappropriate for some users",
	}},
	{FailureRegion, []string{
		"not available in your country", "geo restriction", "geo-restricted", "georestricted",
		"not available from your location", "blocked it in your country",
	}},
	{FailureNotFound, []string{
		"http error 404", "has been removed", "video unavailable", "does not exist",
		"this post is no longer available", "unsupported url",
	}},
	{FailureFormatUnavailable, []string{
		"requested format is not available", "format is not available",
	}},
	{FailureNoFormats, []string{
		"no video formats found", "no formats found",
	}},
	{FailureExtractionBlocked, []string{
		"unable to extract", "http error 403", "http error 429", "too many requests",
		"ip address is blocked", "confirm you're not a bot", "confirm you’re not a bot",
		"rate-limit", "rate limit", "unable to download webpage", "connection reset",
		"read timed out", "http error 5",
	}},
}

// Classify maps yt-dlp stderr to a failure kind.
func Classify(stderr string) FailureKind {
	lower := strings.ToLower(stderr)
	for _, sig := range signatures {
		for _, pattern := range sig.patterns {
			if strings.Contains(lower, pattern) {
				return sig.kind
			}
		}
	}
	return FailureUnknown
}

// lastErrorLine picks the most informative stderr line for diagnostics.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
