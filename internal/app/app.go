// Package app wires feedrelay's daemon together: config, telemetry, the
// configured sinks, the optional cluster-shared throttle signal, the
// Orchestrator, and the ambient HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/wisbric/feedrelay/internal/config"
	"github.com/wisbric/feedrelay/internal/httpserver"
	"github.com/wisbric/feedrelay/internal/platform"
	"github.com/wisbric/feedrelay/internal/telemetry"
	"github.com/wisbric/feedrelay/pkg/collector"
	"github.com/wisbric/feedrelay/pkg/orchestrator"
	"github.com/wisbric/feedrelay/pkg/sink"
	"github.com/wisbric/feedrelay/pkg/throttle"
)

const version = "0.1.0"

// Run is the daemon's entry point: build the collection pipeline from cfg
// and run it until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.Env.LogFormat, cfg.Env.LogLevel)
	slog.SetDefault(logger)

	if !cfg.IsEnabled() {
		logger.Info("feedrelay is disabled in config, exiting")
		return nil
	}

	logger.Info("starting feedrelay",
		"listen", cfg.Env.ListenAddr(),
		"daemon_mode", cfg.DaemonMode(),
		"tenants", len(cfg.Tenants),
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Env.OTLPEndpoint, "feedrelay", version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	metrics := &collector.Metrics{
		BlobsFound:      telemetry.BlobsFoundTotal,
		BlobsSuccessful: telemetry.BlobsSuccessfulTotal,
		BlobsError:      telemetry.BlobsErrorTotal,
		BlobsRetried:    telemetry.BlobsRetriedTotal,
		RateLimited:     telemetry.RateLimitedTotal,
		CacheSize:       telemetry.KnownBlobsCacheSize,
		BookmarkAge:     telemetry.BookmarkAgeSeconds,
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		return fmt.Errorf("building output sinks: %w", err)
	}
	if len(sinks) == 0 {
		logger.Warn("no output sinks configured, collected records will be discarded")
	}

	throttleSignal, closeThrottle, err := buildThrottleSignal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building throttle signal: %w", err)
	}
	if closeThrottle != nil {
		defer closeThrottle()
	}

	orch := orchestrator.New(cfg, sinks, logger, metrics, throttleSignal)

	srv := httpserver.NewServer(logger, metricsReg)
	httpSrv := &http.Server{
		Addr:    cfg.Env.ListenAddr(),
		Handler: srv,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ambient http server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down ambient http server", "error", err)
		}
	}()

	err = orch.Run(ctx)
	if err != nil && ctx.Err() != nil {
		// Orchestrator.Run surfaces ctx.Err() on a clean shutdown; that's
		// not a failure the caller needs reported as one.
		return nil
	}
	return err
}

// buildSinks constructs one collector.Sink per non-nil output config entry.
func buildSinks(cfg *config.Config) ([]collector.Sink, error) {
	out := cfg.Output
	reg := sink.NewRegistry()

	if out.File != nil {
		separator := out.File.Separator
		if separator == "" {
			separator = sink.DefaultFileSeparator
		}
		reg.Register(sink.NewFileSink(out.File.Path, out.File.SeparateByContentType, separator))
	}

	if out.Graylog != nil {
		s, err := sink.NewGraylogSink(out.Graylog.Address, out.Graylog.Port)
		if err != nil {
			return nil, fmt.Errorf("building graylog sink: %w", err)
		}
		reg.Register(s)
	}

	if out.Fluentd != nil {
		s, err := sink.NewFluentdSink(out.Fluentd.TenantName, out.Fluentd.Address, out.Fluentd.Port)
		if err != nil {
			return nil, fmt.Errorf("building fluentd sink: %w", err)
		}
		reg.Register(s)
	}

	if out.AzureLogAnalytics != nil {
		sharedKey, err := out.AzureLogAnalytics.SharedKey()
		if err != nil {
			return nil, fmt.Errorf("resolving azure log analytics shared key: %w", err)
		}
		watermarkPath := out.AzureLogAnalytics.WatermarkPath
		if watermarkPath == "" {
			watermarkPath = filepath.Join(cfg.WorkingDirFor(), "azureloganalytics_watermark")
		}
		reg.Register(sink.NewAzureLogAnalyticsSink(out.AzureLogAnalytics.WorkspaceID, sharedKey, watermarkPath))
	}

	return reg.Sinks(), nil
}

// buildThrottleSignal returns the cluster-shared throttle signal when
// collect.redis_url is set, or an in-process-only signal otherwise. The
// returned close func is nil when nothing needs closing.
func buildThrottleSignal(ctx context.Context, cfg *config.Config) (throttle.Signal, func(), error) {
	if cfg.Collect == nil || cfg.Collect.RedisURL == "" {
		return throttle.NewInMemorySignal(), nil, nil
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.Collect.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return throttle.NewRedisSignal(rdb, ""), func() { _ = rdb.Close() }, nil
}
