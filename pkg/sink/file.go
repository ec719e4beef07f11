package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wisbric/feedrelay/pkg/collector"
)

// DefaultFileSeparator is appended after every JSON record when the
// config doesn't override it, grounded on the original's file_interface.rs
// one-JSON-object-per-line convention.
const DefaultFileSeparator = "\n"

// FileSink writes JSONL (or a custom-separated record stream) to disk,
// either as a single file or split one file per content type.
type FileSink struct {
	mu sync.Mutex

	path                  string
	separateByContentType bool
	separator             string

	// typePaths caches the per-content-type filename derived from path,
	// computed once lazily the first time each content type is seen.
	typePaths map[collector.ContentType]string
}

// NewFileSink builds a file sink writing to path. separator defaults to
// "\n" when empty.
func NewFileSink(path string, separateByContentType bool, separator string) *FileSink {
	if separator == "" {
		separator = DefaultFileSeparator
	}
	return &FileSink{
		path:                  path,
		separateByContentType: separateByContentType,
		separator:             separator,
		typePaths:             make(map[collector.ContentType]string),
	}
}

func (s *FileSink) Send(_ context.Context, buckets map[collector.ContentType][]collector.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.separateByContentType {
		return s.writeAll(s.path, buckets)
	}
	for contentType, records := range buckets {
		if len(records) == 0 {
			continue
		}
		path := s.pathFor(contentType)
		if err := s.writeAll(path, map[collector.ContentType][]collector.LogRecord{contentType: records}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSink) pathFor(contentType collector.ContentType) string {
	if p, ok := s.typePaths[contentType]; ok {
		return p
	}
	dir := filepath.Dir(s.path)
	name := strings.ReplaceAll(string(contentType), ".", "") + ".json"
	p := filepath.Join(dir, name)
	s.typePaths[contentType] = p
	return p
}

func (s *FileSink) writeAll(path string, buckets map[collector.ContentType][]collector.LogRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening file sink path %s: %w", path, err)
	}
	defer f.Close()

	for _, records := range buckets {
		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshaling record for %s: %w", path, err)
			}
			if _, err := f.Write(data); err != nil {
				return fmt.Errorf("writing record to %s: %w", path, err)
			}
			if _, err := f.WriteString(s.separator); err != nil {
				return fmt.Errorf("writing separator to %s: %w", path, err)
			}
		}
	}
	return nil
}
