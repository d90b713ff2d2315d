// internal/dedup/dedup.go
package dedup

import (
	"sort"
	"strings"
	"sync"

	"github.com/user/forwardmon/internal/types"
)

// DefaultCapacity bounds the recency set when no override is given.
const DefaultCapacity = 512

// Cache is a bounded recency set of payload signatures used to drop re-sent
// duplicates. Insertion order is tracked; once the cache exceeds its capacity
// the oldest signature is evicted.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	known    map[string]bool
}

// NewCache creates a cache holding up to capacity signatures. Capacities
// below one are clamped to one.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		known:    make(map[string]bool),
	}
}

// IsDuplicate reports whether signature was seen recently, recording new
// ones. An empty signature is never a duplicate and is not recorded.
func (c *Cache) IsDuplicate(signature string) bool {
	if signature == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[signature] {
		return true
	}
	c.known[signature] = true
	c.order = append(c.order, signature)
	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.known, oldest)
	}
	return false
}

// Signature builds a normalized content fingerprint for a message: trimmed
// text plus sorted attachment and embed tokens. Returns "" when there is
// nothing to fingerprint.
func Signature(msg types.Message) string {
	content := strings.TrimSpace(msg.Content)

	var attachments []string
	for _, a := range msg.Attachments {
		url := strings.TrimSpace(a.URL)
		if url == "" {
			url = strings.TrimSpace(a.ProxyURL)
		}
		filename := strings.TrimSpace(a.Filename)
		if url == "" && filename == "" {
			continue
		}
		attachments = append(attachments, filename+"|"+url)
	}
	sort.Strings(attachments)

	var embeds []string
	for _, e := range msg.Embeds {
		title := strings.TrimSpace(e.Title)
		description := strings.TrimSpace(e.Description)
		var parts []string
		if title != "" {
			parts = append(parts, title)
		}
		if description != "" {
			parts = append(parts, description)
		}
		if combined := strings.Join(parts, "\n"); combined != "" {
			embeds = append(embeds, combined)
		}
	}
	sort.Strings(embeds)

	if content == "" && len(attachments) == 0 && len(embeds) == 0 {
		return ""
	}

	var parts []string
	if content != "" {
		parts = append(parts, content)
	}
	if len(attachments) > 0 {
		parts = append(parts, "attachments:"+strings.Join(attachments, "|"))
	}
	if len(embeds) > 0 {
		parts = append(parts, "embeds:"+strings.Join(embeds, "|"))
	}
	return strings.Join(parts, "\n")
}
