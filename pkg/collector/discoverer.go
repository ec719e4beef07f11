package collector

import (
	"context"
	"log/slog"
)

// DefaultDiscovererWorkers is the worker-pool size spec.md §4.5 defaults to.
const DefaultDiscovererWorkers = 50

// Discoverer walks paginated "list content" responses for each seeded
// (content type, time window) and forwards undiscovered blobs to the
// fetch queue.
type Discoverer struct {
	api       ApiClient
	cache     *KnownBlobsCache
	workers   int
	duplicate int
	tenantID  string
	logger    *slog.Logger

	blobsChan     chan discoverJob
	contentChan   chan ContentBlob
	blobErrors    chan<- blobErrorEvent
	status        chan<- statusEvent
	done          <-chan struct{}
}

// NewDiscoverer builds a Discoverer. duplicate, if > 1, causes every
// newly-found blob to be forwarded that many times (spec.md §4.5, used for
// stress testing).
func NewDiscoverer(
	api ApiClient,
	cache *KnownBlobsCache,
	workers int,
	duplicate int,
	tenantID string,
	logger *slog.Logger,
	blobsChan chan discoverJob,
	contentChan chan ContentBlob,
	blobErrors chan<- blobErrorEvent,
	status chan<- statusEvent,
	done <-chan struct{},
) *Discoverer {
	if workers <= 0 {
		workers = DefaultDiscovererWorkers
	}
	if duplicate <= 0 {
		duplicate = 1
	}
	return &Discoverer{
		api:         api,
		cache:       cache,
		workers:     workers,
		duplicate:   duplicate,
		tenantID:    tenantID,
		logger:      logger,
		blobsChan:   blobsChan,
		contentChan: contentChan,
		blobErrors:  blobErrors,
		status:      status,
		done:        done,
	}
}

// Start launches the worker pool. It returns immediately; workers run
// until ctx is cancelled or done closes.
func (d *Discoverer) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
}

func (d *Discoverer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case job, ok := <-d.blobsChan:
			if !ok {
				return
			}
			d.handle(ctx, job)
		}
	}
}

func (d *Discoverer) handle(ctx context.Context, job discoverJob) {
	blobs, nextURL, status, err := d.api.ListContent(ctx, job.url)
	switch status {
	case StatusOK:
		for i := 0; i < d.duplicate; i++ {
			for _, blob := range blobs {
				if d.cache.Contains(blob.ContentID) {
					continue
				}
				select {
				case d.contentChan <- blob:
				case <-d.done:
					return
				}
				d.emitStatus(statusFoundNewContentBlob, blob.ContentType)
			}
		}
		// job.url just succeeded; clear any retry-map entry it accrued
		// from an earlier transient failure, regardless of whether
		// discovery for this content type continues onto another page.
		d.emitURLSuccess(job.url)
		if nextURL != "" {
			select {
			case d.blobsChan <- discoverJob{contentType: job.contentType, url: nextURL}:
			case <-d.done:
			}
			return
		}
		d.emitStatus(statusFinishedContentBlobs, job.contentType)

	case StatusRateLimited:
		d.emitStatus(statusBeingThrottled, job.contentType)
		select {
		case d.blobsChan <- job:
		case <-d.done:
		}

	case StatusTransientError:
		d.logger.Debug("transient error listing content", "tenant", d.tenantID, "url", job.url, "error", err)
		d.emitBlobError(job, false)

	case StatusPermanentError:
		d.logger.Warn("permanent error listing content", "tenant", d.tenantID, "url", job.url, "error", err)
		d.emitBlobError(job, true)
	}
}

func (d *Discoverer) emitStatus(kind statusKind, contentType ContentType) {
	select {
	case d.status <- statusEvent{kind: kind, contentType: contentType}:
	case <-d.done:
	}
}

func (d *Discoverer) emitURLSuccess(url string) {
	select {
	case d.status <- statusEvent{kind: statusListURLSucceeded, url: url}:
	case <-d.done:
	}
}

func (d *Discoverer) emitBlobError(job discoverJob, permanent bool) {
	select {
	case d.blobErrors <- blobErrorEvent{contentType: job.contentType, url: job.url, permanent: permanent}:
	case <-d.done:
	}
}
