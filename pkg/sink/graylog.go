package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/feedrelay/pkg/collector"
)

// GraylogSink forwards records to a Graylog input over UDP+GELF.
type GraylogSink struct {
	writer *gelf.Writer
}

// NewGraylogSink dials addr:port as a GELF UDP writer.
func NewGraylogSink(address string, port uint16) (*GraylogSink, error) {
	writer, err := gelf.NewWriter(fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, fmt.Errorf("opening GELF writer for %s:%d: %w", address, port, err)
	}
	return &GraylogSink{writer: writer}, nil
}

func (s *GraylogSink) Send(ctx context.Context, buckets map[collector.ContentType][]collector.LogRecord) error {
	for contentType, records := range buckets {
		for _, record := range records {
			msg := recordToGelfMessage(contentType, record)
			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				return struct{}{}, s.writer.WriteMessage(msg)
			}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
			if err != nil {
				return fmt.Errorf("writing GELF message for %s: %w", contentType, err)
			}
		}
	}
	return nil
}

func recordToGelfMessage(contentType collector.ContentType, record collector.LogRecord) *gelf.Message {
	short := fmt.Sprintf("%v", record["Operation"])
	if short == "<nil>" {
		short = string(contentType)
	}

	extra := make(map[string]interface{}, len(record))
	for k, v := range record {
		extra[k] = v
	}

	return &gelf.Message{
		Version:  "1.1",
		Host:     "feedrelay",
		Short:    short,
		Full:     "",
		TimeUnix: float64(time.Now().Unix()),
		Level:    6, // informational
		Facility: string(contentType),
		Extra:    extra,
	}
}
