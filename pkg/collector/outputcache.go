package collector

// OutputCache is a capped per-content-type buffer of filtered log records.
// It is owned solely by the Collector and never shared across goroutines
// (spec.md §5), so it needs no internal locking.
type OutputCache struct {
	capacity int
	buckets  map[ContentType][]LogRecord
	total    int
}

// NewOutputCache builds an empty cache capped at capacity total records
// across all content types.
func NewOutputCache(capacity int) *OutputCache {
	return &OutputCache{
		capacity: capacity,
		buckets:  make(map[ContentType][]LogRecord),
	}
}

// Insert appends record to contentType's bucket.
func (c *OutputCache) Insert(record LogRecord, contentType ContentType) {
	c.buckets[contentType] = append(c.buckets[contentType], record)
	c.total++
}

// Full reports whether the total record count has reached capacity.
func (c *OutputCache) Full() bool {
	return c.total >= c.capacity
}

// Size reports the total record count across all buckets.
func (c *OutputCache) Size() int {
	return c.total
}

// DrainAll destructively returns every bucket and resets the cache to
// empty.
func (c *OutputCache) DrainAll() map[ContentType][]LogRecord {
	drained := c.buckets
	c.buckets = make(map[ContentType][]LogRecord)
	c.total = 0
	return drained
}

// DrainByType destructively returns and clears a single content type's
// bucket.
func (c *OutputCache) DrainByType(contentType ContentType) []LogRecord {
	records := c.buckets[contentType]
	delete(c.buckets, contentType)
	c.total -= len(records)
	return records
}

// CloneBuckets produces a deep copy of the drained buckets, used when more than
// one sink is configured so each receives an independent copy (spec.md
// §4.8 "Emission").
func CloneBuckets(buckets map[ContentType][]LogRecord) map[ContentType][]LogRecord {
	var deepCopy func(v any) any
	deepCopy = func(v any) any {
		switch t := v.(type) {
		case map[string]any:
			m := make(map[string]any, len(t))
			for k, e := range t {
				m[k] = deepCopy(e)
			}
			return m
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				s[i] = deepCopy(e)
			}
			return s
		}
		return v
	}
	clone := make(map[ContentType][]LogRecord, len(buckets))
	for ct, records := range buckets {
		cp := make([]LogRecord, len(records))
		for i, r := range records {
			rc := make(LogRecord, len(r))
			for k, v := range r {
				rc[k] = deepCopy(v)
			}
			cp[i] = rc
		}
		clone[ct] = cp
	}
	return clone
}
