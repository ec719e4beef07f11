package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wisbric/feedrelay/pkg/throttle"
)

// Sink is the single capability every downstream destination shares: take
// one run's drained, filtered records and deliver them. Four concrete
// sinks (file, Graylog, Fluentd, Azure Log Analytics) implement this in
// pkg/sink.
type Sink interface {
	Send(ctx context.Context, buckets map[ContentType][]LogRecord) error
}

// Defaults from spec.md §4.8.
const (
	DefaultCacheSize      = 500_000
	DefaultMaxThreads     = 50
	DefaultRetries        = 3
	DefaultDuplicate      = 1
	DefaultGlobalTimeout  = 30 * time.Minute
	DefaultHoursToCollect = 24
	MaxHoursToCollect     = 168
	killGracePeriod       = 2 * time.Second
	monitorYield          = 10 * time.Millisecond
)

// CollectorConfig is everything one tenant run needs.
type CollectorConfig struct {
	TenantID         string
	Subscriptions    []ContentType
	Filters          map[ContentType]map[string]string
	WorkingDir       string
	CacheSize        int
	MaxThreads       int
	Retries          int
	Duplicate        int
	GlobalTimeout    time.Duration
	HoursToCollect   int
	OnlyFutureEvents bool

	// RetryMapCapacity, BackoffDuration, ReenqueuePause and GracePeriod tune
	// the MessageLoop; zero values fall back to its own defaults.
	RetryMapCapacity int
	BackoffDuration  time.Duration
	ReenqueuePause   time.Duration
	GracePeriod      time.Duration

	// ThrottleSignal and ThrottleKey, if set, share rate-limit backoff
	// across processes via pkg/throttle. Nil means in-process-only.
	ThrottleSignal throttle.Signal
	ThrottleKey    string
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.Duplicate <= 0 {
		c.Duplicate = DefaultDuplicate
	}
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = DefaultGlobalTimeout
	}
	if c.HoursToCollect <= 0 {
		c.HoursToCollect = DefaultHoursToCollect
	}
	return c
}

// Collector owns one tenant's end-to-end run: wiring the pipeline,
// consuming results, filtering and deduping, driving the output cache,
// enforcing a global timeout, and persisting bookmarks.
type Collector struct {
	cfg     CollectorConfig
	api     ApiClient
	sinks   []Sink
	logger  *slog.Logger
	metrics *Metrics

	bookmarks *BookmarkStore
}

// NewCollector builds a Collector for one tenant.
func NewCollector(cfg CollectorConfig, api ApiClient, sinks []Sink, logger *slog.Logger, metrics *Metrics) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		cfg:       cfg,
		api:       api,
		sinks:     sinks,
		logger:    logger,
		metrics:   metrics,
		bookmarks: NewBookmarkStore(cfg.WorkingDir),
	}
}

func (c *Collector) knownBlobsPath() string {
	return filepath.Join(c.cfg.WorkingDir, "known_blobs")
}

// Run executes one complete collection pass and returns its final stats.
// Errors returned here are tenant-transient (e.g. a Subscribe call failed;
// the first failing subscription ends the run) — the Orchestrator skips this tenant for this
// run and continues with the rest (spec.md §7).
func (c *Collector) Run(ctx context.Context) (RunStats, error) {
	for _, ct := range c.cfg.Subscriptions {
		if err := c.api.Subscribe(ctx, ct); err != nil {
			c.logger.Warn("subscribe failed, skipping tenant this run", "tenant", c.cfg.TenantID, "content_type", ct, "error", err)
			return RunStats{}, fmt.Errorf("subscribing tenant %s to %s: %w", c.cfg.TenantID, ct, err)
		}
	}

	knownBlobs, err := LoadKnownBlobsCache(c.knownBlobsPath(), c.cfg.CacheSize)
	if err != nil {
		c.logger.Warn("loading known blobs cache, starting empty", "tenant", c.cfg.TenantID, "error", err)
	}
	c.metrics.cacheSize(c.cfg.TenantID, knownBlobs.Len())

	jobs := c.seedJobs()

	blobsChan := make(chan discoverJob, 10_000)
	contentChan := make(chan ContentBlob, 10_000)
	blobErrors := make(chan blobErrorEvent, 10_000)
	contentErrors := make(chan contentErrorEvent, 10_000)
	status := make(chan statusEvent, 10_000)
	results := make(chan FetchResult, 10_000)
	statsCh := make(chan RunStats, 10_000)
	killCh := make(chan struct{}, 1_000)

	ml, err := NewMessageLoop(
		MessageLoopConfig{
			Retries:          c.cfg.Retries,
			RetryMapCapacity: c.cfg.RetryMapCapacity,
			BackoffDuration:  c.cfg.BackoffDuration,
			ReenqueuePause:   c.cfg.ReenqueuePause,
			GracePeriod:      c.cfg.GracePeriod,
			ThrottleSignal:   c.cfg.ThrottleSignal,
			ThrottleKey:      c.cfg.ThrottleKey,
		},
		c.cfg.TenantID,
		c.logger,
		c.metrics,
		blobsChan, contentChan, blobErrors, contentErrors, status, killCh, statsCh,
	)
	if err != nil {
		return RunStats{}, fmt.Errorf("building message loop: %w", err)
	}

	discoverer := NewDiscoverer(c.api, knownBlobs, c.cfg.MaxThreads, c.cfg.Duplicate, c.cfg.TenantID, c.logger,
		blobsChan, contentChan, blobErrors, status, ml.Done())
	fetcher := NewFetcher(c.api, c.cfg.MaxThreads, c.cfg.TenantID, c.logger,
		contentChan, results, contentErrors, status, ml.Done())

	bg := context.Background()
	discoverer.Start(bg)
	// The fetcher's context carries the caller's span (so each blob's fetch
	// span nests under the tenant-run span) but not its cancellation.
	fetcher.Start(trace.ContextWithSpan(bg, trace.SpanFromContext(ctx)))
	go ml.Run(bg)
	go ml.Seed(jobs)

	outputCache := NewOutputCache(c.cfg.CacheSize)
	stats := c.monitor(ctx, ml, results, statsCh, killCh, outputCache, knownBlobs)

	if err := knownBlobs.Save(c.knownBlobsPath()); err != nil {
		c.logger.Warn("saving known blobs cache", "tenant", c.cfg.TenantID, "error", err)
	}

	if c.cfg.OnlyFutureEvents {
		now := time.Now().UTC()
		for _, ct := range c.cfg.Subscriptions {
			bm := Bookmark{LastLogTime: now, LastRun: now, FirstRun: false}
			if err := c.bookmarks.Save(c.cfg.TenantID, ct, bm); err != nil {
				c.logger.Warn("saving bookmark", "tenant", c.cfg.TenantID, "content_type", ct, "error", err)
			}
			c.metrics.bookmarkAge(c.cfg.TenantID, ct, 0)
		}
	}

	return stats, nil
}

// seedJobs computes each subscription's time windows (using its bookmark
// when only_future_events is active) and returns one discovery job per
// (content type, window).
func (c *Collector) seedJobs() []discoverJob {
	now := time.Now().UTC()
	hoursCap := now.Add(-time.Duration(c.cfg.HoursToCollect) * time.Hour)

	var jobs []discoverJob

	for _, ct := range c.cfg.Subscriptions {
		start := hoursCap

		if c.cfg.OnlyFutureEvents {
			bm := c.bookmarks.Load(c.cfg.TenantID, ct)
			if bm == nil {
				initial := Bookmark{LastLogTime: now.Add(-time.Second), LastRun: now, FirstRun: true}
				if err := c.bookmarks.Save(c.cfg.TenantID, ct, initial); err != nil {
					c.logger.Warn("saving initial bookmark", "tenant", c.cfg.TenantID, "content_type", ct, "error", err)
				}
				bm = &initial
			}
			// start = the later of (bookmark, now-hours_to_collect): a
			// bookmark older than the floor is clamped up to the
			// floor (no unbounded lookback off a stale bookmark); a
			// bookmark newer than the floor is honored as-is.
			if bm.LastLogTime.Before(hoursCap) {
				start = hoursCap
			} else {
				start = bm.LastLogTime
			}
		}

		for _, window := range SplitWindows(start, now) {
			jobs = append(jobs, discoverJob{contentType: ct, url: c.api.SeedURL(ct, window)})
		}
	}

	return jobs
}

// monitor is the Collector's main loop: it consumes results (filter,
// dedup, buffer), watches for MessageLoop's final stats, and enforces the
// global timeout.
func (c *Collector) monitor(ctx context.Context, ml *MessageLoop, results chan FetchResult, statsCh chan RunStats, killCh chan struct{}, cache *OutputCache, knownBlobs *KnownBlobsCache) RunStats {
	timeout := time.NewTimer(c.cfg.GlobalTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(monitorYield)
	defer ticker.Stop()

	var killTimerC <-chan time.Time

	for {
		select {
		case stats := <-statsCh:
			c.drainPending(ctx, results, cache, knownBlobs)
			c.flush(ctx, cache)
			return stats

		case res := <-results:
			c.handleResult(ctx, res, cache, knownBlobs)

		case <-timeout.C:
			c.logger.Warn("global timeout exceeded, signalling message loop", "tenant", c.cfg.TenantID)
			select {
			case killCh <- struct{}{}:
			default:
			}
			t := time.NewTimer(killGracePeriod)
			defer t.Stop()
			killTimerC = t.C

		case <-killTimerC:
			c.drainPending(ctx, results, cache, knownBlobs)
			c.flush(ctx, cache)
			select {
			case stats := <-statsCh:
				return stats
			default:
			}
			// MessageLoop's own report() is still inside its grace-period
			// sleep; RunState already reflects the abandoned in-flight work
			// (finish folds it into blobs_error), so read it directly
			// instead of waiting out that sleep too.
			_, _, stats, _ := ml.State().Snapshot()
			return stats

		case <-ticker.C:
			// cooperative yield point.

		case <-ctx.Done():
			c.drainPending(ctx, results, cache, knownBlobs)
			c.flush(ctx, cache)
			select {
			case killCh <- struct{}{}:
			default:
			}
			_, _, stats, _ := ml.State().Snapshot()
			return stats
		}
	}
}

func (c *Collector) drainPending(ctx context.Context, results chan FetchResult, cache *OutputCache, knownBlobs *KnownBlobsCache) {
	for {
		select {
		case res := <-results:
			c.handleResult(ctx, res, cache, knownBlobs)
		default:
			return
		}
	}
}

func (c *Collector) handleResult(ctx context.Context, res FetchResult, cache *OutputCache, knownBlobs *KnownBlobsCache) {
	// Recorded even on parse failure so a blob that fails to parse isn't
	// fetched again next run (spec.md §4.8 step 1).
	knownBlobs.Insert(res.Blob.ContentID, res.Blob.Expiration)

	filter := c.cfg.Filters[res.Blob.ContentType]

	var records []LogRecord
	if err := json.Unmarshal([]byte(res.Body), &records); err != nil {
		c.logger.Debug("skipping unparseable blob body", "tenant", c.cfg.TenantID, "blob", res.Blob.ContentID, "error", err)
		return
	}

	for _, record := range records {
		if filterDrops(record, filter) {
			continue
		}
		record["OriginFeed"] = string(res.Blob.ContentType)
		cache.Insert(record, res.Blob.ContentType)
	}

	if cache.Full() {
		c.flush(ctx, cache)
	}
}

func filterDrops(record LogRecord, filter map[string]string) bool {
	for key, expected := range filter {
		if actual, present := record[key]; present {
			if fmt.Sprintf("%v", actual) != expected {
				return true
			}
		}
	}
	return false
}

// flush drains the output cache and forwards it to every configured sink.
// A single sink receives the cache directly; multiple sinks each receive
// an independent deep copy (spec.md §4.8 "Emission").
func (c *Collector) flush(ctx context.Context, cache *OutputCache) {
	if cache.Size() == 0 {
		return
	}
	drained := cache.DrainAll()

	if len(c.sinks) == 0 {
		return
	}
	if len(c.sinks) == 1 {
		if err := c.sinks[0].Send(ctx, drained); err != nil {
			c.logger.Error("sink write failed", "tenant", c.cfg.TenantID, "error", err)
		}
		return
	}
	for _, sink := range c.sinks {
		if err := sink.Send(ctx, CloneBuckets(drained)); err != nil {
			c.logger.Error("sink write failed", "tenant", c.cfg.TenantID, "error", err)
		}
	}
}
