// Package store caches fused content bundles by normalized video URL so a
// repeated link skips acquisition entirely.
package store

import (
	"context"
	"time"

	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
)

// Entry is one cached extraction.
type Entry struct {
	URL       string        `json:"url"`
	Title     string        `json:"title,omitempty"`
	Result    fusion.Result `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
}

// Cache stores extraction results. A miss is (Entry{}, false, nil).
type Cache interface {
	Get(ctx context.Context, rawURL string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Close() error
}

// Key is the cache key for a URL.
func Key(rawURL string) string {
	return fetch.NormalizeURL(rawURL)
}
