package collector

import (
	"context"
	"fmt"
	"sync"
)

// listStep is one scripted response for a single ListContent call against
// a given URL.
type listStep struct {
	blobs   []ContentBlob
	nextURL string
	status  Status
}

// fetchStep is one scripted response for a single FetchContent call
// against a given blob URL. A stall step blocks until ctx is cancelled,
// used to simulate S8's global-timeout scenario.
type fetchStep struct {
	body   string
	status Status
	stall  bool
}

// fakeApiClient is an in-process ApiClient double driven by a fixed
// script per URL, used by the collector's scenario tests (S1-S8).
type fakeApiClient struct {
	mu sync.Mutex

	listScript  map[string][]listStep
	fetchScript map[string][]fetchStep

	subscribeCalls []ContentType
	listCallCount  map[string]int
	fetchCallCount map[string]int
}

func newFakeApiClient() *fakeApiClient {
	return &fakeApiClient{
		listScript:     make(map[string][]listStep),
		fetchScript:    make(map[string][]fetchStep),
		listCallCount:  make(map[string]int),
		fetchCallCount: make(map[string]int),
	}
}

func (f *fakeApiClient) Subscribe(_ context.Context, contentType ContentType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls = append(f.subscribeCalls, contentType)
	return nil
}

// SeedURL deliberately ignores window: tests exercise hours_to_collect
// values that always produce a single window, and keying on content type
// alone lets tests script a list response before the exact run-time window
// boundaries are known.
func (f *fakeApiClient) SeedURL(contentType ContentType, _ TimeWindow) string {
	return fmt.Sprintf("seed://%s", contentType)
}

func (f *fakeApiClient) scriptList(url string, steps ...listStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listScript[url] = append(f.listScript[url], steps...)
}

func (f *fakeApiClient) scriptFetch(url string, steps ...fetchStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchScript[url] = append(f.fetchScript[url], steps...)
}

func (f *fakeApiClient) ListContent(_ context.Context, listURL string) ([]ContentBlob, string, Status, error) {
	f.mu.Lock()
	steps := f.listScript[listURL]
	idx := f.listCallCount[listURL]
	f.listCallCount[listURL] = idx + 1
	f.mu.Unlock()

	if idx >= len(steps) {
		// Script exhausted: treat as a finished page with no new blobs.
		return nil, "", StatusOK, nil
	}
	step := steps[idx]
	if step.status != StatusOK {
		return nil, "", step.status, fmt.Errorf("scripted %s for %s", step.status, listURL)
	}
	return step.blobs, step.nextURL, StatusOK, nil
}

func (f *fakeApiClient) FetchContent(ctx context.Context, blob ContentBlob) (string, Status, error) {
	f.mu.Lock()
	steps := f.fetchScript[blob.URL]
	idx := f.fetchCallCount[blob.URL]
	f.fetchCallCount[blob.URL] = idx + 1
	f.mu.Unlock()

	if idx >= len(steps) {
		return "[]", StatusOK, nil
	}
	step := steps[idx]
	if step.stall {
		<-ctx.Done()
		return "", StatusTransientError, ctx.Err()
	}
	if step.status != StatusOK {
		return "", step.status, fmt.Errorf("scripted %s for %s", step.status, blob.URL)
	}
	return step.body, StatusOK, nil
}
