// Package collector implements the per-tenant audit-log collection engine:
// blob discovery, blob fetch, the message loop that coordinates them, and
// the collector driver that wires them into one run.
package collector

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ContentType is one of the fixed set of management-activity subscriptions.
type ContentType string

const (
	ContentTypeGeneral              ContentType = "Audit.General"
	ContentTypeAzureActiveDirectory ContentType = "Audit.AzureActiveDirectory"
	ContentTypeExchange             ContentType = "Audit.Exchange"
	ContentTypeSharePoint           ContentType = "Audit.SharePoint"
	ContentTypeDLPAll               ContentType = "DLP.All"
)

// AllContentTypes lists every recognized subscription name.
var AllContentTypes = []ContentType{
	ContentTypeGeneral,
	ContentTypeAzureActiveDirectory,
	ContentTypeExchange,
	ContentTypeSharePoint,
	ContentTypeDLPAll,
}

// ParseContentType validates s against AllContentTypes.
func ParseContentType(s string) (ContentType, error) {
	for _, ct := range AllContentTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unrecognized content type %q", s)
}

// TimeWindow is a (start, end) pair of RFC3339 UTC timestamps, already
// formatted the way the provider API expects them.
type TimeWindow struct {
	StartISO string
	EndISO   string
}

// ContentBlob is a pointer to one batch of log records the provider holds.
type ContentBlob struct {
	ContentID   string
	ContentType ContentType
	URL         string
	Expiration  string
}

// LogRecord is a free-form JSON object. The engine only ever adds the
// synthetic OriginFeed key to it.
type LogRecord map[string]any

// RunStats accumulates counters for one tenant run.
type RunStats struct {
	BlobsFound      uint64
	BlobsSuccessful uint64
	BlobsError      uint64
	BlobsRetried    uint64
}

// RunState is MessageLoop's owned state for one run. Collector reads it
// under lock for status reporting; MessageLoop mutates it under the same
// lock.
type RunState struct {
	mu                    sync.RWMutex
	awaitingContentTypes  int64
	awaitingContentBlobs  int64
	stats                 RunStats
	rateLimited           bool
}

// Snapshot returns a copy of the current counters and stats.
func (s *RunState) Snapshot() (awaitingTypes, awaitingBlobs int64, stats RunStats, rateLimited bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awaitingContentTypes, s.awaitingContentBlobs, s.stats, s.rateLimited
}

func (s *RunState) seedTypes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaitingContentTypes = n
}

func (s *RunState) onFoundNewContentBlob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaitingContentBlobs++
	s.stats.BlobsFound++
}

// onFinishedContentBlobs decrements awaitingContentTypes and reports
// whether the run is now complete (both counters at zero).
func (s *RunState) onFinishedContentBlobs() (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaitingContentTypes > 0 {
		s.awaitingContentTypes--
	}
	return s.awaitingContentTypes == 0 && s.awaitingContentBlobs == 0
}

func (s *RunState) onRetrievedContentBlob() (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaitingContentBlobs > 0 {
		s.awaitingContentBlobs--
	}
	s.stats.BlobsSuccessful++
	return s.awaitingContentTypes == 0 && s.awaitingContentBlobs == 0
}

func (s *RunState) onErrorContentBlob() (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaitingContentBlobs > 0 {
		s.awaitingContentBlobs--
	}
	s.stats.BlobsError++
	return s.awaitingContentTypes == 0 && s.awaitingContentBlobs == 0
}

func (s *RunState) onRetried() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.BlobsRetried++
}

// beginThrottle marks rate_limited true and reports whether this call was
// the one that activated it (i.e. backoff should start now).
func (s *RunState) beginThrottle() (activated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rateLimited {
		return false
	}
	s.rateLimited = true
	return true
}

// abandonRemaining folds any still-outstanding blobs into blobs_error and
// zeroes both counters. Called when a run ends early (kill or context
// cancellation) so the reported stats account for in-flight work that
// will never complete. On a normal completion both counters are already
// zero, so this is a no-op.
func (s *RunState) abandonRemaining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaitingContentBlobs > 0 {
		s.stats.BlobsError += uint64(s.awaitingContentBlobs)
	}
	s.awaitingContentBlobs = 0
	s.awaitingContentTypes = 0
}

func (s *RunState) clearThrottle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimited = false
}

func (s *RunState) isRateLimited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimited
}

// Bookmark is the persisted per-(tenant, subscription) resumption point.
type Bookmark struct {
	LastLogTime time.Time `json:"last_log_time"`
	LastRun     time.Time `json:"last_run"`
	FirstRun    bool      `json:"first_run"`
}

// SanitizeForFilename replaces path- and shell-hostile characters the same
// way the source's bookmark and known-blobs filenames do.
func SanitizeForFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, s)
}

// FetchResult is what BlobFetcher hands to the Collector for a
// successfully retrieved blob.
type FetchResult struct {
	Body string
	Blob ContentBlob
}

// statusKind enumerates the MessageLoop's status channel event kinds.
type statusKind int

const (
	statusFoundNewContentBlob statusKind = iota
	statusFinishedContentBlobs
	statusRetrievedContentBlob
	statusErrorContentBlob
	statusBeingThrottled
	statusListURLSucceeded
)

type statusEvent struct {
	kind        statusKind
	contentType ContentType
	// url is the retry-map key a successful operation clears, set only by
	// statusListURLSucceeded and statusRetrievedContentBlob (spec.md §8
	// invariant 1: a URL leaves the retry map on success, not only on
	// retry exhaustion).
	url string
}

// blobErrorEvent is emitted by BlobDiscoverer when a seed URL fails.
type blobErrorEvent struct {
	contentType ContentType
	url         string
	permanent   bool
}

// contentErrorEvent is emitted by BlobFetcher when a blob fetch fails.
type contentErrorEvent struct {
	blob      ContentBlob
	permanent bool
}
