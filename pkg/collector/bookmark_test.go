package collector

import (
	"testing"
	"time"
)

func TestBookmarkStore_SaveThenLoad(t *testing.T) {
	store := NewBookmarkStore(t.TempDir())

	bm := Bookmark{
		LastLogTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastRun:     time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		FirstRun:    true,
	}
	if err := store.Save("tenant/1", ContentTypeExchange, bm); err != nil {
		t.Fatal(err)
	}

	loaded := store.Load("tenant/1", ContentTypeExchange)
	if loaded == nil {
		t.Fatal("expected a bookmark to load")
	}
	if !loaded.LastLogTime.Equal(bm.LastLogTime) {
		t.Errorf("LastLogTime mismatch: got %s", loaded.LastLogTime)
	}
	if !loaded.FirstRun {
		t.Error("expected FirstRun true")
	}
}

func TestBookmarkStore_LoadMissingReturnsNil(t *testing.T) {
	store := NewBookmarkStore(t.TempDir())
	if bm := store.Load("unknown-tenant", ContentTypeGeneral); bm != nil {
		t.Errorf("expected nil for a missing bookmark, got %+v", bm)
	}
}

func TestBookmarkStore_SanitizesFilenames(t *testing.T) {
	store := NewBookmarkStore(t.TempDir())
	bm := Bookmark{LastLogTime: time.Now(), LastRun: time.Now()}
	if err := store.Save("tenant/id:123", ContentTypeDLPAll, bm); err != nil {
		t.Fatal(err)
	}
	if loaded := store.Load("tenant/id:123", ContentTypeDLPAll); loaded == nil {
		t.Fatal("expected bookmark saved under a sanitized path to be loadable under the same unsanitized key")
	}
}
