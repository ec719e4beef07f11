// Package sink implements collector.Sink for every destination spec.md §6
// names: a JSONL file, Graylog (UDP+GELF), Fluentd (TCP forward
// protocol), and Azure Log Analytics (HMAC-signed HTTPS batches). Each
// sink depends on pkg/collector for the Sink interface and LogRecord/
// ContentType; pkg/collector never imports pkg/sink.
package sink

import "github.com/wisbric/feedrelay/pkg/collector"

// Registry collects the sinks one tenant's Collector should fan a run's
// output out to, adapted from the provider-registry pattern the teacher
// used for its chat-ops integrations: callers Register each configured
// destination, then hand Sinks() to collector.NewCollector.
type Registry struct {
	sinks []collector.Sink
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s to the set a Collector run will fan out to.
func (r *Registry) Register(s collector.Sink) {
	r.sinks = append(r.sinks, s)
}

// Sinks returns every registered sink, in registration order.
func (r *Registry) Sinks() []collector.Sink {
	return r.sinks
}
