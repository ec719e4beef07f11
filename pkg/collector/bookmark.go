package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// bookmarkFilePrefix matches the source's persisted filename convention.
const bookmarkFilePrefix = "office365"

// BookmarkStore is a namespaced, file-backed store of Bookmark values keyed
// by (tenant_id, subscription).
type BookmarkStore struct {
	workingDir string
}

// NewBookmarkStore builds a store rooted at workingDir.
func NewBookmarkStore(workingDir string) *BookmarkStore {
	return &BookmarkStore{workingDir: workingDir}
}

func (s *BookmarkStore) path(tenantID string, subscription ContentType) string {
	filename := fmt.Sprintf("%s-%s-%s.json",
		bookmarkFilePrefix,
		SanitizeForFilename(tenantID),
		SanitizeForFilename(string(subscription)),
	)
	return filepath.Join(s.workingDir, filename)
}

// Load returns the bookmark for (tenantID, subscription), or nil if none
// exists or the file cannot be parsed. Parse/read errors are treated as
// "no bookmark", per spec.md §4.3.
func (s *BookmarkStore) Load(tenantID string, subscription ContentType) *Bookmark {
	data, err := os.ReadFile(s.path(tenantID, subscription))
	if err != nil {
		return nil
	}
	var bm Bookmark
	if err := json.Unmarshal(data, &bm); err != nil {
		return nil
	}
	return &bm
}

// Save writes bm for (tenantID, subscription), creating the working
// directory if necessary.
func (s *BookmarkStore) Save(tenantID string, subscription ContentType, bm Bookmark) error {
	if err := os.MkdirAll(s.workingDir, 0o755); err != nil {
		return fmt.Errorf("creating bookmark directory %s: %w", s.workingDir, err)
	}
	data, err := json.MarshalIndent(bm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bookmark: %w", err)
	}
	path := s.path(tenantID, subscription)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing bookmark file %s: %w", path, err)
	}
	return nil
}
