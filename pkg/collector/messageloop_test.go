package collector

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestMessageLoop(t *testing.T, cfg MessageLoopConfig) *MessageLoop {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ml, err := NewMessageLoop(
		cfg,
		"tenant-x",
		logger,
		nil,
		make(chan discoverJob, 100),
		make(chan ContentBlob, 100),
		make(chan blobErrorEvent, 100),
		make(chan contentErrorEvent, 100),
		make(chan statusEvent, 100),
		make(chan struct{}, 10),
		make(chan RunStats, 10),
	)
	if err != nil {
		t.Fatalf("NewMessageLoop: %v", err)
	}
	return ml
}

// TestMessageLoop_RetryMapClearsOnExhaustion covers invariant 1's "given
// up" half: a URL that exhausts its retry budget leaves no trace in the
// bounded retry map.
func TestMessageLoop_RetryMapClearsOnExhaustion(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{Retries: 2})
	blob := ContentBlob{ContentID: "id-1", ContentType: ContentTypeExchange, URL: "blob://id-1"}

	ml.handleContentError(contentErrorEvent{blob: blob})
	if ml.retryMap.Len() != 1 {
		t.Fatalf("expected one retry-map entry after first failure, got %d", ml.retryMap.Len())
	}
	ml.handleContentError(contentErrorEvent{blob: blob})
	ml.handleContentError(contentErrorEvent{blob: blob})

	if ml.retryMap.Len() != 0 {
		t.Fatalf("expected retry map empty after exhaustion, got %d entries", ml.retryMap.Len())
	}
	_, _, stats, _ := ml.state.Snapshot()
	if stats.BlobsRetried != 2 || stats.BlobsError != 1 {
		t.Fatalf("unexpected stats after exhaustion: %+v", stats)
	}
}

// TestMessageLoop_RetryMapClearsOnContentSuccess covers invariant 1's
// "succeeded" half for a fetched blob: a URL that failed once and then
// succeeded must not linger in the retry map.
func TestMessageLoop_RetryMapClearsOnContentSuccess(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{Retries: 3})
	blob := ContentBlob{ContentID: "id-2", ContentType: ContentTypeExchange, URL: "blob://id-2"}

	ml.handleContentError(contentErrorEvent{blob: blob})
	if ml.retryMap.Len() != 1 {
		t.Fatalf("expected one retry-map entry after failure, got %d", ml.retryMap.Len())
	}

	ml.state.onFoundNewContentBlob()
	ml.handleStatus(statusEvent{kind: statusRetrievedContentBlob, contentType: blob.ContentType, url: blob.URL})

	if ml.retryMap.Len() != 0 {
		t.Fatalf("expected retry map cleared on eventual success, got %d entries", ml.retryMap.Len())
	}
}

// TestMessageLoop_RetryMapClearsOnListURLSuccess is the discovery-side
// analogue: a list-content URL that failed once and later succeeds clears
// its retry-map entry via statusListURLSucceeded.
func TestMessageLoop_RetryMapClearsOnListURLSuccess(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{Retries: 3})
	const url = "list://page-1"

	ml.handleBlobError(blobErrorEvent{contentType: ContentTypeGeneral, url: url})
	if ml.retryMap.Len() != 1 {
		t.Fatalf("expected one retry-map entry after failure, got %d", ml.retryMap.Len())
	}

	ml.handleStatus(statusEvent{kind: statusListURLSucceeded, url: url})

	if ml.retryMap.Len() != 0 {
		t.Fatalf("expected retry map cleared after list url success, got %d entries", ml.retryMap.Len())
	}
}

// TestMessageLoop_FoundSuccessfulErrorAccounting covers invariant 2:
// blobs_successful + blobs_error = blobs_found, and blobs_retried never
// exceeds retries * blobs_found.
func TestMessageLoop_FoundSuccessfulErrorAccounting(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{Retries: 2})

	blobs := []ContentBlob{
		{ContentID: "a", ContentType: ContentTypeExchange, URL: "blob://a"},
		{ContentID: "b", ContentType: ContentTypeExchange, URL: "blob://b"},
		{ContentID: "c", ContentType: ContentTypeExchange, URL: "blob://c"},
	}
	for range blobs {
		ml.state.onFoundNewContentBlob()
	}

	// a succeeds outright.
	ml.handleStatus(statusEvent{kind: statusRetrievedContentBlob, contentType: ContentTypeExchange, url: blobs[0].URL})
	// b fails once then succeeds.
	ml.handleContentError(contentErrorEvent{blob: blobs[1]})
	ml.handleStatus(statusEvent{kind: statusRetrievedContentBlob, contentType: ContentTypeExchange, url: blobs[1].URL})
	// c exhausts its retries.
	ml.handleContentError(contentErrorEvent{blob: blobs[2]})
	ml.handleContentError(contentErrorEvent{blob: blobs[2]})
	ml.handleContentError(contentErrorEvent{blob: blobs[2]})

	_, _, stats, _ := ml.state.Snapshot()
	if stats.BlobsFound != 3 {
		t.Fatalf("expected blobs_found=3, got %d", stats.BlobsFound)
	}
	if stats.BlobsSuccessful+stats.BlobsError != stats.BlobsFound {
		t.Fatalf("invariant violated: successful(%d)+error(%d) != found(%d)", stats.BlobsSuccessful, stats.BlobsError, stats.BlobsFound)
	}
	maxRetries := uint64(2) * stats.BlobsFound
	if stats.BlobsRetried > maxRetries {
		t.Fatalf("invariant violated: blobs_retried(%d) > retries*blobs_found(%d)", stats.BlobsRetried, maxRetries)
	}
	if ml.retryMap.Len() != 0 {
		t.Fatalf("expected retry map empty once every blob resolved, got %d entries", ml.retryMap.Len())
	}
}

// TestMessageLoop_BeingThrottled_ActivatesOnceAndClears covers S5: the
// first BeingThrottled observation activates rate_limited and schedules
// its own clearing; later observations while already throttled are no-ops
// until the backoff window elapses.
func TestMessageLoop_BeingThrottled_ActivatesOnceAndClears(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{BackoffDuration: 30 * time.Millisecond})

	ml.handleStatus(statusEvent{kind: statusBeingThrottled, contentType: ContentTypeExchange})
	if !ml.state.isRateLimited() {
		t.Fatalf("expected rate_limited true immediately after first BeingThrottled")
	}

	// A second observation while already throttled must not restart the
	// backoff window or double-log activation (beginThrottle returns false).
	ml.handleStatus(statusEvent{kind: statusBeingThrottled, contentType: ContentTypeExchange})
	if !ml.state.isRateLimited() {
		t.Fatalf("expected rate_limited to remain true")
	}

	deadline := time.After(2 * time.Second)
	for ml.state.isRateLimited() {
		select {
		case <-deadline:
			t.Fatalf("rate_limited did not clear within the backoff window")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestMessageLoop_ResendSkipsRetryBudgetWhileThrottled covers the open
// question in spec.md §9: while rate_limited is true, a retried URL is
// re-enqueued without consuming another unit of retry budget.
func TestMessageLoop_ResendSkipsRetryBudgetWhileThrottled(t *testing.T) {
	ml := newTestMessageLoop(t, MessageLoopConfig{Retries: 2, ReenqueuePause: time.Millisecond})
	blob := ContentBlob{ContentID: "id-throttled", ContentType: ContentTypeExchange, URL: "blob://id-throttled"}

	ml.handleContentError(contentErrorEvent{blob: blob})
	retriesLeft, _ := ml.retryMap.Get(blob.URL)

	ml.state.beginThrottle()
	ml.handleContentError(contentErrorEvent{blob: blob})

	retriesLeftAfter, ok := ml.retryMap.Get(blob.URL)
	if !ok {
		t.Fatalf("expected retry-map entry to remain while throttled")
	}
	if retriesLeftAfter != retriesLeft {
		t.Fatalf("expected retry budget untouched while throttled: before=%d after=%d", retriesLeft, retriesLeftAfter)
	}
}
