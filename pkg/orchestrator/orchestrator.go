// Package orchestrator fans a single collection pass out across every
// configured tenant and, in daemon mode, repeats that on an interval
// (spec.md §4.9).
package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wisbric/feedrelay/internal/config"
	"github.com/wisbric/feedrelay/internal/telemetry"
	"github.com/wisbric/feedrelay/pkg/collector"
	"github.com/wisbric/feedrelay/pkg/throttle"
)

var tracer = telemetry.Tracer("feedrelay/orchestrator")

// TenantResult is one tenant's outcome from a single pass.
type TenantResult struct {
	TenantID      string
	CorrelationID string
	Stats         collector.RunStats
	Err           error
}

// Orchestrator owns the set of sinks and ambient collaborators every
// tenant's Collector shares, and drives either a single pass or a
// daemon-mode loop over them.
type Orchestrator struct {
	cfg            *config.Config
	sinks          []collector.Sink
	logger         *slog.Logger
	metrics        *collector.Metrics
	throttleSignal throttle.Signal
}

// New builds an Orchestrator. throttleSignal may be nil, meaning every
// tenant's rate-limit backoff stays process-local.
func New(cfg *config.Config, sinks []collector.Sink, logger *slog.Logger, metrics *collector.Metrics, throttleSignal throttle.Signal) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		sinks:          sinks,
		logger:         logger,
		metrics:        metrics,
		throttleSignal: throttleSignal,
	}
}

// Run drives collection according to the config: a single pass over every
// tenant, or, in daemon mode, a pass followed by an interval sleep,
// repeated until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.cfg.DaemonMode() {
		o.RunOnce(ctx)
		return ctx.Err()
	}

	interval := o.cfg.IntervalDuration()
	o.logger.Info("starting in daemon mode", "interval", interval)
	for {
		o.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce runs one collection pass for every configured tenant
// concurrently and returns each tenant's outcome. A tenant whose
// Collector.Run fails is logged and skipped; the rest still complete
// (spec.md §7, "tenant-transient errors don't halt the run").
func (o *Orchestrator) RunOnce(ctx context.Context) []TenantResult {
	tenants := o.cfg.Tenants
	if len(tenants) == 0 {
		o.logger.Error("no tenants configured, nothing to collect")
		return nil
	}

	subscriptions, err := o.cfg.Subscriptions()
	if err != nil {
		o.logger.Error("resolving subscriptions", "error", err)
		return nil
	}

	o.logger.Info("running collection pass", "tenants", len(tenants))

	results := make([]TenantResult, len(tenants))
	var wg sync.WaitGroup
	for i, tenant := range tenants {
		wg.Add(1)
		go func(i int, tenant config.TenantConfig) {
			defer wg.Done()
			results[i] = o.runTenant(ctx, tenant, subscriptions)
		}(i, tenant)
	}
	wg.Wait()

	o.logger.Info("collection pass complete", "tenants", len(tenants))
	return results
}

func (o *Orchestrator) runTenant(ctx context.Context, tenant config.TenantConfig, subscriptions []collector.ContentType) TenantResult {
	correlationID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "orchestrator.run_tenant",
		trace.WithAttributes(
			attribute.String("tenant_id", tenant.TenantID),
			attribute.String("correlation_id", correlationID),
		),
	)
	defer span.End()

	logger := o.logger.With("tenant", tenant.TenantID, "correlation_id", correlationID)

	secret, err := tenant.Secret()
	if err != nil {
		logger.Error("resolving tenant secret, skipping tenant", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving tenant secret")
		return TenantResult{TenantID: tenant.TenantID, CorrelationID: correlationID, Err: err}
	}
	endpoints, err := tenant.Endpoints()
	if err != nil {
		logger.Error("resolving tenant endpoints, skipping tenant", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolving tenant endpoints")
		return TenantResult{TenantID: tenant.TenantID, CorrelationID: correlationID, Err: err}
	}

	maxBodyBytes := o.cfg.MaxBodyBytes()
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1024 * 1024
	}

	api := collector.NewHTTPApiClient(collector.TenantCredentials{
		TenantID:     tenant.TenantID,
		ClientID:     tenant.ClientID,
		ClientSecret: secret,
		Endpoints:    endpoints,
	}, &http.Client{Timeout: 30 * time.Second}, maxBodyBytes)

	var filters map[collector.ContentType]map[string]string
	if o.cfg.Collect != nil {
		filters = make(map[collector.ContentType]map[string]string, len(o.cfg.Collect.Filter))
		for name, f := range o.cfg.Collect.Filter {
			ct, err := collector.ParseContentType(name)
			if err != nil {
				continue
			}
			filters[ct] = f
		}
	}

	cc := collector.CollectorConfig{
		TenantID:         tenant.TenantID,
		Subscriptions:    subscriptions,
		Filters:          filters,
		WorkingDir:       o.cfg.WorkingDirFor(),
		OnlyFutureEvents: o.cfg.OnlyFutureEvents,
		HoursToCollect:   o.cfg.HoursToCollect(),
		ThrottleSignal:   o.throttleSignal,
		ThrottleKey:      endpoints.APIHost,
	}
	if o.cfg.Collect != nil {
		cc.CacheSize = o.cfg.Collect.CacheSize
		cc.MaxThreads = o.cfg.Collect.MaxThreads
		cc.Retries = o.cfg.Collect.Retries
		cc.Duplicate = o.cfg.Collect.Duplicate
		if o.cfg.Collect.GlobalTimeout > 0 {
			cc.GlobalTimeout = time.Duration(o.cfg.Collect.GlobalTimeout) * time.Minute
		}
	}

	col := collector.NewCollector(cc, api, o.sinks, logger, o.metrics)

	logger.Info("starting collector run")
	stats, err := col.Run(ctx)
	if err != nil {
		logger.Error("collector run failed, skipping tenant", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "collector run failed")
		return TenantResult{TenantID: tenant.TenantID, CorrelationID: correlationID, Err: err}
	}
	logger.Info("collector run complete", "blobs_found", stats.BlobsFound, "blobs_successful", stats.BlobsSuccessful, "blobs_error", stats.BlobsError)
	span.SetAttributes(
		attribute.Int64("blobs_found", int64(stats.BlobsFound)),
		attribute.Int64("blobs_successful", int64(stats.BlobsSuccessful)),
		attribute.Int64("blobs_error", int64(stats.BlobsError)),
	)
	return TenantResult{TenantID: tenant.TenantID, CorrelationID: correlationID, Stats: stats}
}
