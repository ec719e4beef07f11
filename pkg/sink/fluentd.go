package sink

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/fluent/fluent-logger-golang/fluent"

	"github.com/wisbric/feedrelay/pkg/collector"
)

// FluentdSink forwards records over the Fluentd forward protocol (TCP),
// tagged with the configured tenant name (spec.md §6 "Fluentd: ... TCP,
// tag = tenant_name").
type FluentdSink struct {
	logger     *fluent.Fluent
	tenantName string
}

// NewFluentdSink dials address:port as a forward-protocol client.
func NewFluentdSink(tenantName, address string, port uint16) (*FluentdSink, error) {
	logger, err := fluent.New(fluent.Config{FluentHost: address, FluentPort: int(port)})
	if err != nil {
		return nil, fmt.Errorf("opening fluentd client for %s:%d: %w", address, port, err)
	}
	return &FluentdSink{logger: logger, tenantName: tenantName}, nil
}

func (s *FluentdSink) Send(ctx context.Context, buckets map[collector.ContentType][]collector.LogRecord) error {
	for contentType, records := range buckets {
		for _, record := range records {
			message := map[string]interface{}(record)
			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				return struct{}{}, s.logger.Post(s.tenantName, message)
			}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
			if err != nil {
				return fmt.Errorf("posting fluentd record for %s: %w", contentType, err)
			}
		}
	}
	return nil
}

// Close releases the underlying forward-protocol connection.
func (s *FluentdSink) Close() error {
	return s.logger.Close()
}
