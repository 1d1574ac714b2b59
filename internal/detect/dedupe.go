package detect

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Dedupe bounds.
const (
	dedupeMaxEntries = 1000
	dedupeTTL        = 10 * time.Minute
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Deduper suppresses repeats of the same claim within a run. Keys are
// normalized claim texts; entries expire after ten minutes and the map is
// bounded at 1 000 entries with oldest-first eviction.
//
// Safe for concurrent use.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// DedupeKey normalizes text for duplicate comparison: lowercased,
// non-alphanumerics collapsed to single spaces, trimmed.
func DedupeKey(text string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(text), " "))
}

// Seen records text and reports whether its normalized key was already
// present within the TTL.
func (d *Deduper) Seen(text string) bool {
	key := DedupeKey(text)
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if at, ok := d.entries[key]; ok && now.Sub(at) < dedupeTTL {
		return true
	}
	d.entries[key] = now

	if len(d.entries) > dedupeMaxEntries {
		d.evictLocked(now)
	}
	return false
}

// Reset drops all recorded entries. Called when a new run starts.
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]time.Time)
}

// evictLocked removes expired entries first, then the oldest entries until
// the map fits the bound again.
func (d *Deduper) evictLocked(now time.Time) {
	for k, at := range d.entries {
		if now.Sub(at) >= dedupeTTL {
			delete(d.entries, k)
		}
	}
	for len(d.entries) > dedupeMaxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range d.entries {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(d.entries, oldestKey)
	}
}
