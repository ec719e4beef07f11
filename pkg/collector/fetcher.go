package collector

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wisbric/feedrelay/internal/telemetry"
)

var fetcherTracer = telemetry.Tracer("feedrelay/collector/fetcher")

// DefaultFetcherWorkers is the worker-pool size spec.md §4.6 defaults to.
const DefaultFetcherWorkers = 50

// Fetcher downloads each seeded ContentBlob and forwards the body to the
// results channel for the Collector to consume.
type Fetcher struct {
	api      ApiClient
	workers  int
	tenantID string
	logger   *slog.Logger

	contentChan   chan ContentBlob
	results       chan<- FetchResult
	contentErrors chan<- contentErrorEvent
	status        chan<- statusEvent
	done          <-chan struct{}
}

// NewFetcher builds a Fetcher.
func NewFetcher(
	api ApiClient,
	workers int,
	tenantID string,
	logger *slog.Logger,
	contentChan chan ContentBlob,
	results chan<- FetchResult,
	contentErrors chan<- contentErrorEvent,
	status chan<- statusEvent,
	done <-chan struct{},
) *Fetcher {
	if workers <= 0 {
		workers = DefaultFetcherWorkers
	}
	return &Fetcher{
		api:           api,
		workers:       workers,
		tenantID:      tenantID,
		logger:        logger,
		contentChan:   contentChan,
		results:       results,
		contentErrors: contentErrors,
		status:        status,
		done:          done,
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled, the
// owning MessageLoop closes done, or contentChan is closed.
func (f *Fetcher) Start(ctx context.Context) {
	for i := 0; i < f.workers; i++ {
		go f.worker(ctx)
	}
}

func (f *Fetcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case blob, ok := <-f.contentChan:
			if !ok {
				return
			}
			f.handle(ctx, blob)
		}
	}
}

func (f *Fetcher) handle(ctx context.Context, blob ContentBlob) {
	ctx, span := fetcherTracer.Start(ctx, "fetcher.fetch_content",
		trace.WithAttributes(
			attribute.String("tenant_id", f.tenantID),
			attribute.String("content_id", blob.ContentID),
			attribute.String("content_type", string(blob.ContentType)),
		),
	)
	defer span.End()

	body, status, err := f.api.FetchContent(ctx, blob)
	if err != nil {
		span.RecordError(err)
	}
	switch status {
	case StatusOK:
		select {
		case f.results <- FetchResult{Body: body, Blob: blob}:
		case <-f.done:
			return
		}
		select {
		case f.status <- statusEvent{kind: statusRetrievedContentBlob, contentType: blob.ContentType, url: blob.URL}:
		case <-f.done:
		}

	case StatusRateLimited:
		select {
		case f.status <- statusEvent{kind: statusBeingThrottled, contentType: blob.ContentType}:
		case <-f.done:
		}
		select {
		case f.contentChan <- blob:
		case <-f.done:
		}

	case StatusTransientError:
		f.logger.Debug("transient error fetching blob", "tenant", f.tenantID, "blob", blob.ContentID, "error", err)
		select {
		case f.contentErrors <- contentErrorEvent{blob: blob, permanent: false}:
		case <-f.done:
		}

	case StatusPermanentError:
		f.logger.Warn("permanent error fetching blob", "tenant", f.tenantID, "blob", blob.ContentID, "error", err)
		span.SetStatus(codes.Error, "permanent error fetching blob")
		select {
		case f.contentErrors <- contentErrorEvent{blob: blob, permanent: true}:
		case <-f.done:
		}
	}
}
