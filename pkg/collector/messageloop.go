package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wisbric/feedrelay/pkg/throttle"
)

// throttlePollInterval is how often MessageLoop checks an optional
// cluster-shared throttle.Signal for a BeingThrottled condition raised by
// another process.
const throttlePollInterval = 250 * time.Millisecond

// DefaultRetryMapCapacity bounds the MessageLoop's URL -> retries_left map
// (spec.md §3 KnownBlobsEntry/§9 "Bounded retry map").
const DefaultRetryMapCapacity = 50_000

// DefaultBackoffDuration is how long a BeingThrottled signal holds
// rate_limited true (spec.md §4.7).
const DefaultBackoffDuration = 30 * time.Second

// DefaultReenqueuePause is the small per-URL pause MessageLoop adds before
// re-sending a retry while rate-limited, per the open question in
// spec.md §9 ("implementers may add a small per-URL pause").
const DefaultReenqueuePause = 50 * time.Millisecond

// DefaultGracePeriod is how long MessageLoop waits after its loop exits
// before publishing final stats, to let in-flight writes drain.
const DefaultGracePeriod = 3 * time.Second

// MessageLoopConfig tunes one run's coordination hub.
type MessageLoopConfig struct {
	Retries          int
	RetryMapCapacity int
	BackoffDuration  time.Duration
	ReenqueuePause   time.Duration
	GracePeriod      time.Duration

	// ThrottleSignal, if set, shares rate-limit backoff across processes
	// (pkg/throttle). ThrottleKey namespaces the shared signal, typically
	// the provider host every tenant on this process talks to. Nil means
	// in-process-only backoff, the spec-tested default.
	ThrottleSignal throttle.Signal
	ThrottleKey    string
}

func (c MessageLoopConfig) withDefaults() MessageLoopConfig {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryMapCapacity <= 0 {
		c.RetryMapCapacity = DefaultRetryMapCapacity
	}
	if c.BackoffDuration <= 0 {
		c.BackoffDuration = DefaultBackoffDuration
	}
	if c.ReenqueuePause <= 0 {
		c.ReenqueuePause = DefaultReenqueuePause
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// MessageLoop is the single authority over RunState: it seeds discovery,
// accounts outstanding items, drives retry with bounded bookkeeping,
// enforces rate-limit backoff, and decides when a run is complete.
type MessageLoop struct {
	cfg      MessageLoopConfig
	tenantID string
	logger   *slog.Logger
	metrics  *Metrics

	state    *RunState
	retryMap *lru.Cache[string, int]

	blobsChan   chan discoverJob
	contentChan chan ContentBlob

	blobErrors    chan blobErrorEvent
	contentErrors chan contentErrorEvent
	status        chan statusEvent
	kill          chan struct{}
	stats         chan RunStats

	done     chan struct{}
	doneOnce sync.Once
}

// discoverJob is a (content type, list-URL) pair travelling through the
// discovery input channel.
type discoverJob struct {
	contentType ContentType
	url         string
}

// NewMessageLoop wires a MessageLoop over the given channels. blobsChan and
// contentChan are bidirectional: BlobDiscoverer and BlobFetcher both read
// and write them (pagination / direct forwarding), and MessageLoop writes
// retries into them too.
func NewMessageLoop(
	cfg MessageLoopConfig,
	tenantID string,
	logger *slog.Logger,
	metrics *Metrics,
	blobsChan chan discoverJob,
	contentChan chan ContentBlob,
	blobErrors chan blobErrorEvent,
	contentErrors chan contentErrorEvent,
	status chan statusEvent,
	kill chan struct{},
	stats chan RunStats,
) (*MessageLoop, error) {
	cfg = cfg.withDefaults()
	retryMap, err := lru.New[string, int](cfg.RetryMapCapacity)
	if err != nil {
		return nil, err
	}
	return &MessageLoop{
		cfg:           cfg,
		tenantID:      tenantID,
		logger:        logger,
		metrics:       metrics,
		state:         &RunState{},
		retryMap:      retryMap,
		blobsChan:     blobsChan,
		contentChan:   contentChan,
		blobErrors:    blobErrors,
		contentErrors: contentErrors,
		status:        status,
		kill:          kill,
		stats:         stats,
		done:          make(chan struct{}),
	}, nil
}

// Done is closed exactly once, when the run is complete or killed.
// BlobDiscoverer and BlobFetcher select on it alongside channel sends so
// that a closed run never blocks a writer.
func (ml *MessageLoop) Done() <-chan struct{} { return ml.done }

// State exposes the shared RunState for status reporting (Collector reads
// it under lock).
func (ml *MessageLoop) State() *RunState { return ml.state }

// Seed sets the initial awaiting_content_types count and pushes one
// discovery job per (content type, window) pair.
func (ml *MessageLoop) Seed(jobs []discoverJob) {
	ml.state.seedTypes(int64(len(jobs)))
	if len(jobs) == 0 {
		ml.finish()
		return
	}
	for _, job := range jobs {
		select {
		case ml.blobsChan <- job:
		case <-ml.done:
			return
		}
	}
}

// Run drives the coordination loop until the run completes or kill fires,
// then waits a grace period and publishes final stats.
func (ml *MessageLoop) Run(ctx context.Context) {
	if ml.cfg.ThrottleSignal != nil {
		go ml.pollThrottleSignal()
	}
	for {
		select {
		case <-ctx.Done():
			ml.finish()
		case <-ml.kill:
			ml.finish()
		case ev := <-ml.blobErrors:
			ml.handleBlobError(ev)
		case ev := <-ml.contentErrors:
			ml.handleContentError(ev)
		case ev := <-ml.status:
			ml.handleStatus(ev)
		}

		select {
		case <-ml.done:
			ml.report()
			return
		default:
		}
	}
}

func (ml *MessageLoop) handleStatus(ev statusEvent) {
	switch ev.kind {
	case statusFoundNewContentBlob:
		ml.state.onFoundNewContentBlob()
		ml.metrics.found(ml.tenantID, ev.contentType)
	case statusFinishedContentBlobs:
		if ml.state.onFinishedContentBlobs() {
			ml.finish()
		}
	case statusRetrievedContentBlob:
		if ev.url != "" {
			ml.retryMap.Remove(ev.url)
		}
		ml.metrics.successful(ml.tenantID, ev.contentType)
		if ml.state.onRetrievedContentBlob() {
			ml.finish()
		}
	case statusListURLSucceeded:
		ml.retryMap.Remove(ev.url)
	case statusErrorContentBlob:
		ml.metrics.errored(ml.tenantID, ev.contentType)
		if ml.state.onErrorContentBlob() {
			ml.finish()
		}
	case statusBeingThrottled:
		if ml.state.beginThrottle() {
			ml.logger.Warn("being rate limited", "tenant", ml.tenantID)
			ml.metrics.rateLimited(ml.tenantID)
			if ml.cfg.ThrottleSignal != nil {
				if err := ml.cfg.ThrottleSignal.Publish(context.Background(), ml.throttleKey(), ml.cfg.BackoffDuration); err != nil {
					ml.logger.Warn("publishing cluster-shared throttle signal", "tenant", ml.tenantID, "error", err)
				}
			}
			go ml.clearThrottleAfter(ml.cfg.BackoffDuration)
		}
	}
}

func (ml *MessageLoop) throttleKey() string {
	if ml.cfg.ThrottleKey != "" {
		return ml.cfg.ThrottleKey
	}
	return "default"
}

// pollThrottleSignal makes a remote BeingThrottled observed by another
// process contagious into this run's local RunState, so every
// MessageLoop sharing the same ThrottleSignal backs off together.
func (ml *MessageLoop) pollThrottleSignal() {
	ticker := time.NewTicker(throttlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ml.done:
			return
		case <-ticker.C:
			throttled, err := ml.cfg.ThrottleSignal.Throttled(context.Background(), ml.throttleKey())
			if err != nil {
				ml.logger.Warn("checking cluster-shared throttle signal", "tenant", ml.tenantID, "error", err)
				continue
			}
			if throttled && ml.state.beginThrottle() {
				ml.logger.Warn("rate limited by cluster-shared signal", "tenant", ml.tenantID)
				ml.metrics.rateLimited(ml.tenantID)
				go ml.clearThrottleAfter(ml.cfg.BackoffDuration)
			}
		}
	}
}

func (ml *MessageLoop) clearThrottleAfter(d time.Duration) {
	select {
	case <-time.After(d):
		ml.state.clearThrottle()
	case <-ml.done:
	}
}

func (ml *MessageLoop) handleBlobError(ev blobErrorEvent) {
	if ev.permanent {
		ml.logger.Warn("list content permanently failed", "tenant", ml.tenantID, "url", ev.url)
		if ml.state.onFinishedContentBlobs() {
			ml.finish()
		}
		return
	}

	retriesLeft, ok := ml.retryMap.Get(ev.url)
	switch {
	case !ok:
		ml.retryMap.Add(ev.url, ml.cfg.Retries-1)
		ml.state.onRetried()
		ml.metrics.retried(ml.tenantID)
		ml.resendBlobJob(discoverJob{contentType: ev.contentType, url: ev.url})
	case retriesLeft <= 0:
		ml.retryMap.Remove(ev.url)
		ml.logger.Warn("gave up on list url", "tenant", ml.tenantID, "url", ev.url)
		if ml.state.onFinishedContentBlobs() {
			ml.finish()
		}
	default:
		if !ml.state.isRateLimited() {
			ml.retryMap.Add(ev.url, retriesLeft-1)
		}
		ml.state.onRetried()
		ml.metrics.retried(ml.tenantID)
		ml.resendBlobJob(discoverJob{contentType: ev.contentType, url: ev.url})
	}
}

func (ml *MessageLoop) handleContentError(ev contentErrorEvent) {
	if ev.permanent {
		ml.logger.Warn("blob fetch permanently failed", "tenant", ml.tenantID, "blob", ev.blob.ContentID)
		ml.metrics.errored(ml.tenantID, ev.blob.ContentType)
		if ml.state.onErrorContentBlob() {
			ml.finish()
		}
		return
	}

	url := ev.blob.URL
	retriesLeft, ok := ml.retryMap.Get(url)
	switch {
	case !ok:
		ml.retryMap.Add(url, ml.cfg.Retries-1)
		ml.state.onRetried()
		ml.metrics.retried(ml.tenantID)
		ml.resendContentBlob(ev.blob)
	case retriesLeft <= 0:
		ml.retryMap.Remove(url)
		ml.logger.Warn("gave up on blob", "tenant", ml.tenantID, "blob", ev.blob.ContentID)
		ml.metrics.errored(ml.tenantID, ev.blob.ContentType)
		if ml.state.onErrorContentBlob() {
			ml.finish()
		}
	default:
		if !ml.state.isRateLimited() {
			ml.retryMap.Add(url, retriesLeft-1)
		}
		ml.state.onRetried()
		ml.metrics.retried(ml.tenantID)
		ml.resendContentBlob(ev.blob)
	}
}

func (ml *MessageLoop) resendBlobJob(job discoverJob) {
	if ml.state.isRateLimited() {
		time.Sleep(ml.cfg.ReenqueuePause)
	}
	select {
	case ml.blobsChan <- job:
	case <-ml.done:
	}
}

func (ml *MessageLoop) resendContentBlob(blob ContentBlob) {
	if ml.state.isRateLimited() {
		time.Sleep(ml.cfg.ReenqueuePause)
	}
	select {
	case ml.contentChan <- blob:
	case <-ml.done:
	}
}

// finish closes done exactly once, the single signal every writer on
// blobsChan/contentChan selects against once a run is over. Any work still
// in flight at this point is folded into blobs_error (abandonRemaining is
// a no-op on a normal completion, where nothing is outstanding).
func (ml *MessageLoop) finish() {
	ml.doneOnce.Do(func() {
		ml.state.abandonRemaining()
		close(ml.done)
	})
}

// report waits the configured grace period then publishes final stats.
func (ml *MessageLoop) report() {
	time.Sleep(ml.cfg.GracePeriod)
	_, _, stats, _ := ml.state.Snapshot()
	select {
	case ml.stats <- stats:
	default:
		// stats channel is generously buffered; a full channel here means
		// the Collector already gave up waiting (e.g. test teardown).
	}
}
