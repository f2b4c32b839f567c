// Package cache provides in-memory caching for video metadata.
package cache

import (
	"net/url"
	"strings"
	"time"

	"github.com/emanuelef/yt-downloader/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

// InfoCache caches extracted video info so repeated lookups of the same URL
// skip a yt-dlp run.
type InfoCache struct {
	cache *gocache.Cache
}

// NewInfoCache creates an InfoCache. Expired entries are purged every
// cleanupInterval.
func NewInfoCache(ttl, cleanupInterval time.Duration) *InfoCache {
	return &InfoCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// Get retrieves video info for a URL.
func (c *InfoCache) Get(rawURL string) (*domain.VideoInfo, bool) {
	if item, found := c.cache.Get(Key(rawURL)); found {
		if info, ok := item.(*domain.VideoInfo); ok {
			return info, true
		}
	}
	return nil, false
}

// Set stores video info for a URL with the default TTL.
func (c *InfoCache) Set(rawURL string, info *domain.VideoInfo) {
	c.cache.Set(Key(rawURL), info, gocache.DefaultExpiration)
}

// Delete removes the entry for a URL.
func (c *InfoCache) Delete(rawURL string) {
	c.cache.Delete(Key(rawURL))
}

// ItemCount returns the number of cached entries, expired ones included
// until the next purge.
func (c *InfoCache) ItemCount() int {
	return c.cache.ItemCount()
}

// Key normalizes a URL into a cache key: scheme and host are lowercased and
// the fragment is dropped. Unparseable input is used as-is after trimming.
func Key(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
