package collector

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultKnownBlobsCapacity is the cap spec.md §3 names for KnownBlobsEntry.
const DefaultKnownBlobsCapacity = 1_000_000

// knownBlobsSweepInterval is how many net inserts trigger a full expired-entry sweep.
const knownBlobsSweepInterval = 10_000

const knownBlobsSaveLayout = "2006-01-02T15:04:05.000Z"

var expirationLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseExpiration(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable expiration %q", s)
}

// KnownBlobsCache is a bounded LRU set of blob_id -> expiration, shared
// between the Collector (insert on every result) and BlobDiscoverer
// (contains to skip duplicates). Access is serialized by a single mutex,
// matching the source's single read/write lock per cache.
type KnownBlobsCache struct {
	mu                sync.Mutex
	cache             *lru.Cache[string, time.Time]
	insertsSinceSweep int
}

// NewKnownBlobsCache builds an empty cache with the given capacity. A
// non-positive capacity falls back to DefaultKnownBlobsCapacity.
func NewKnownBlobsCache(capacity int) (*KnownBlobsCache, error) {
	if capacity <= 0 {
		capacity = DefaultKnownBlobsCapacity
	}
	c, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating known blobs cache: %w", err)
	}
	return &KnownBlobsCache{cache: c}, nil
}

// LoadKnownBlobsCache reads path (one "id,expiration_iso" entry per line),
// discarding malformed lines and already-expired entries. A missing file
// is not an error. Any other read error is surfaced, but the returned
// cache is always usable: empty if the file cannot be opened, holding the
// entries read so far if reading fails part-way (spec.md §4.1).
func LoadKnownBlobsCache(path string, capacity int) (*KnownBlobsCache, error) {
	c, err := NewKnownBlobsCache(capacity)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("opening known blobs file %s: %w", path, err)
	}
	defer f.Close()

	now := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, expStr, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		exp, perr := parseExpiration(expStr)
		if perr != nil {
			continue
		}
		if now.Before(exp) {
			c.cache.Add(strings.TrimSpace(id), exp)
		}
	}
	if serr := scanner.Err(); serr != nil {
		return c, fmt.Errorf("reading known blobs file %s: %w", path, serr)
	}
	return c, nil
}

// Contains reports whether id is present and unexpired. A read that finds
// an expired entry removes it and returns false, so this requires the
// write-holding lock even though it looks like a read.
func (c *KnownBlobsCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.cache.Get(id)
	if !ok {
		return false
	}
	if !time.Now().Before(exp) {
		c.cache.Remove(id)
		return false
	}
	return true
}

// Insert records id with the given expiration string, accepting several
// ISO-8601 variants. A parse failure or an already-past expiration makes
// this a no-op. Every knownBlobsSweepInterval net inserts, expired entries
// across the whole cache are swept.
func (c *KnownBlobsCache) Insert(id, expirationStr string) {
	exp, err := parseExpiration(expirationStr)
	if err != nil {
		return
	}
	if !time.Now().Before(exp) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(id, exp)
	c.insertsSinceSweep++
	if c.insertsSinceSweep >= knownBlobsSweepInterval {
		c.sweepLocked()
		c.insertsSinceSweep = 0
	}
}

func (c *KnownBlobsCache) sweepLocked() {
	now := time.Now()
	for _, key := range c.cache.Keys() {
		if exp, ok := c.cache.Peek(key); ok && !now.Before(exp) {
			c.cache.Remove(key)
		}
	}
}

// Len reports the current entry count, including entries not yet swept.
func (c *KnownBlobsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Save sweeps expired entries, then writes every surviving entry as
// "id,expiration_iso", truncating any prior file.
func (c *KnownBlobsCache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating known blobs file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, key := range c.cache.Keys() {
		exp, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s,%s\n", key, exp.Format(knownBlobsSaveLayout)); err != nil {
			return fmt.Errorf("writing known blobs file %s: %w", path, err)
		}
	}
	return w.Flush()
}
