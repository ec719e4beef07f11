// Package config loads and validates the YAML configuration file that
// drives the Orchestrator: enabled tenants, subscriptions, collection
// tuning, and output sinks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/wisbric/feedrelay/pkg/collector"
)

// DefaultIntervalSeconds is used when interval is unset and collect is
// also unset (no hours_to_collect to fall back to).
const DefaultIntervalSeconds = 300

// Config is the root of the YAML file.
type Config struct {
	Enabled           *bool          `yaml:"enabled"`
	Interval          string         `yaml:"interval"`
	CurlMaxSize       string         `yaml:"curl_max_size"`
	OnlyFutureEvents  bool           `yaml:"only_future_events"`
	WorkingDir        string         `yaml:"working_dir"`
	Log               *LogConfig     `yaml:"log"`
	Tenants           []TenantConfig `yaml:"tenants"`
	SubscriptionNames []string       `yaml:"subscriptions"`
	Collect           *CollectConfig `yaml:"collect"`
	Output            OutputConfig   `yaml:"output"`

	// Env is not part of the YAML file; it's filled from the process
	// environment in Load, for the ambient settings that don't belong in
	// a tenant-config file shared across environments.
	Env EnvOverrides `yaml:"-"`
}

// EnvOverrides is the ambient settings pulled from the process
// environment, in the same spirit as the teacher's fully env-driven
// Config.
type EnvOverrides struct {
	Host         string `env:"FEEDRELAY_HOST" envDefault:"0.0.0.0"`
	Port         int    `env:"FEEDRELAY_PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsPath  string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// ListenAddr returns the address the ambient HTTP server should listen on.
func (e EnvOverrides) ListenAddr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// LogConfig is the legacy log sub-block, still parsed so configs that set
// it load, but not read; logging is configured only by EnvOverrides'
// LogLevel/LogFormat.
type LogConfig struct {
	Path  string `yaml:"path"`
	Debug bool   `yaml:"debug"`
}

// TenantConfig is one tenant's credentials and API region.
type TenantConfig struct {
	TenantID         string `yaml:"tenant_id"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretPath string `yaml:"client_secret_path"`
	APIType          string `yaml:"api_type"`
}

// Secret resolves the tenant's client secret: an inline value first, then
// a file path, matching the original's resolution order.
func (t TenantConfig) Secret() (string, error) {
	if t.ClientSecret != "" {
		return t.ClientSecret, nil
	}
	if t.ClientSecretPath != "" {
		data, err := os.ReadFile(t.ClientSecretPath)
		if err != nil {
			return "", fmt.Errorf("reading client secret from %s: %w", t.ClientSecretPath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("tenant %s: either client_secret or client_secret_path must be set", t.TenantID)
}

// Endpoints returns the fixed (login, resource, API host) triple for the
// tenant's api_type. An empty api_type defaults to commercial.
func (t TenantConfig) Endpoints() (collector.Endpoints, error) {
	switch t.APIType {
	case "", "commercial":
		return collector.Endpoints{
			LoginEndpoint: "https://login.microsoftonline.com",
			Resource:      "https://manage.office.com",
			APIHost:       "manage.office.com",
		}, nil
	case "gcc":
		return collector.Endpoints{
			LoginEndpoint: "https://login.microsoftonline.com",
			Resource:      "https://manage-gcc.office.com",
			APIHost:       "manage-gcc.office.com",
		}, nil
	case "gcc-high":
		return collector.Endpoints{
			LoginEndpoint: "https://login.microsoftonline.us",
			Resource:      "https://manage.office365.us",
			APIHost:       "manage.office365.us",
		}, nil
	default:
		return collector.Endpoints{}, fmt.Errorf("tenant %s: invalid api_type %q, must be commercial, gcc, or gcc-high", t.TenantID, t.APIType)
	}
}

// CollectConfig tunes one collection run. All fields are optional; zero
// values fall back to collector.CollectorConfig's own defaults.
type CollectConfig struct {
	WorkingDir     string                       `yaml:"workingDir"`
	CacheSize      int                          `yaml:"cacheSize"`
	ContentTypes   ContentTypesConfig           `yaml:"contentTypes"`
	MaxThreads     int                          `yaml:"maxThreads"`
	GlobalTimeout  int                          `yaml:"globalTimeout"` // minutes
	Retries        int                          `yaml:"retries"`
	HoursToCollect int                          `yaml:"hoursToCollect"`
	SkipKnownLogs  *bool                        `yaml:"skipKnownLogs"`
	Filter         map[string]map[string]string `yaml:"filter"`
	Duplicate      int                          `yaml:"duplicate"`

	// RedisURL activates the cluster-shared throttle signal (pkg/throttle):
	// when set, BeingThrottled state is published to Redis so multiple
	// feedrelay processes collecting disjoint tenants back off together.
	RedisURL string `yaml:"redis_url"`
}

// ContentTypesConfig is the legacy boolean-per-type subscription block,
// kept alongside the top-level subscriptions list for backward
// compatibility with older config files.
type ContentTypesConfig struct {
	General              *bool `yaml:"Audit.General"`
	AzureActiveDirectory *bool `yaml:"Audit.AzureActiveDirectory"`
	Exchange             *bool `yaml:"Audit.Exchange"`
	SharePoint           *bool `yaml:"Audit.SharePoint"`
	DLPAll               *bool `yaml:"DLP.All"`
}

// Strings returns the content type names this block enables.
func (c ContentTypesConfig) Strings() []string {
	var out []string
	add := func(enabled *bool, name string) {
		if enabled != nil && *enabled {
			out = append(out, name)
		}
	}
	add(c.General, string(collector.ContentTypeGeneral))
	add(c.AzureActiveDirectory, string(collector.ContentTypeAzureActiveDirectory))
	add(c.Exchange, string(collector.ContentTypeExchange))
	add(c.SharePoint, string(collector.ContentTypeSharePoint))
	add(c.DLPAll, string(collector.ContentTypeDLPAll))
	return out
}

// OutputConfig is the set of configured sink destinations. Any subset may
// be nil; Collector is built with one Sink per non-nil entry.
type OutputConfig struct {
	File              *FileOutputConfig              `yaml:"file"`
	Graylog           *GraylogOutputConfig           `yaml:"graylog"`
	Fluentd           *FluentdOutputConfig           `yaml:"fluentd"`
	AzureLogAnalytics *AzureLogAnalyticsOutputConfig `yaml:"azureLogAnalytics"`
}

// FileOutputConfig writes JSONL to a path on disk.
type FileOutputConfig struct {
	Path                  string `yaml:"path"`
	SeparateByContentType bool   `yaml:"separateByContentType"`
	Separator             string `yaml:"separator"`
}

// GraylogOutputConfig sends GELF chunks over UDP.
type GraylogOutputConfig struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// FluentdOutputConfig forwards over the Fluentd forward protocol.
type FluentdOutputConfig struct {
	TenantName string `yaml:"tenantName"`
	Address    string `yaml:"address"`
	Port       uint16 `yaml:"port"`
}

// AzureLogAnalyticsOutputConfig posts HMAC-signed batches to a Log
// Analytics workspace. The shared key follows the same inline-then-file
// resolution order as a tenant secret; it is never required to be
// written inline.
type AzureLogAnalyticsOutputConfig struct {
	WorkspaceID     string `yaml:"workspaceId"`
	SharedKeyInline string `yaml:"sharedKey"`
	SharedKeyPath   string `yaml:"sharedKeyPath"`

	// WatermarkPath is where the sink persists its last-flush time
	// between process restarts. Empty defaults to
	// <working_dir>/azureloganalytics_watermark (internal/app.buildSinks).
	WatermarkPath string `yaml:"watermarkPath"`
}

// SharedKey resolves the workspace's shared key: inline value first, then
// a file path.
func (a AzureLogAnalyticsOutputConfig) SharedKey() (string, error) {
	if a.SharedKeyInline != "" {
		return a.SharedKeyInline, nil
	}
	if a.SharedKeyPath != "" {
		data, err := os.ReadFile(a.SharedKeyPath)
		if err != nil {
			return "", fmt.Errorf("reading shared key from %s: %w", a.SharedKeyPath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("azureLogAnalytics workspace %s: either sharedKey or sharedKeyPath must be set", a.WorkspaceID)
}

// Load reads and parses the YAML file at path, overlays EnvOverrides from
// the process environment, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	var envCfg EnvOverrides
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}
	cfg.Env = envCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsEnabled reports whether the pipeline should run at all.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IntervalSeconds returns the daemon-mode sleep between runs. interval
// takes precedence; failing that, hours_to_collect*3600 is used as a
// legacy fallback, then DefaultIntervalSeconds.
func (c *Config) IntervalSeconds() uint64 {
	if c.Interval != "" {
		return parseDurationSeconds(c.Interval, DefaultIntervalSeconds)
	}
	if c.Collect != nil && c.Collect.HoursToCollect > 0 {
		return uint64(c.Collect.HoursToCollect) * 3600
	}
	return DefaultIntervalSeconds
}

// IntervalDuration is IntervalSeconds as a time.Duration, for the
// Orchestrator's daemon-mode ticker.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.IntervalSeconds()) * time.Second
}

// DaemonMode reports whether interval was set, which activates repeated
// runs rather than a single pass (spec.md §4.9).
func (c *Config) DaemonMode() bool {
	return c.Interval != ""
}

// MaxBodyBytes returns curl_max_size parsed into bytes, or 0 if unset.
func (c *Config) MaxBodyBytes() int64 {
	if c.CurlMaxSize == "" {
		return 0
	}
	return parseSizeBytes(c.CurlMaxSize)
}

// subscriptionNames returns the configured content type names: the
// top-level list takes precedence, falling back to collect.contentTypes
// for older configs.
func (c *Config) subscriptionNames() []string {
	if len(c.SubscriptionNames) > 0 {
		return c.SubscriptionNames
	}
	if c.Collect != nil {
		return c.Collect.ContentTypes.Strings()
	}
	return nil
}

// Subscriptions returns the configured content types, parsed and
// validated against the known set.
func (c *Config) Subscriptions() ([]collector.ContentType, error) {
	names := c.subscriptionNames()
	out := make([]collector.ContentType, 0, len(names))
	for _, n := range names {
		ct, err := collector.ParseContentType(n)
		if err != nil {
			return nil, fmt.Errorf("subscriptions: %w", err)
		}
		out = append(out, ct)
	}
	return out, nil
}

// WorkingDirFor resolves the working directory: top-level working_dir
// first, then collect.workingDir, then "./".
func (c *Config) WorkingDirFor() string {
	if c.WorkingDir != "" {
		return c.WorkingDir
	}
	if c.Collect != nil && c.Collect.WorkingDir != "" {
		return c.Collect.WorkingDir
	}
	return "./"
}

// HoursToCollect returns collect.hoursToCollect, defaulting to
// collector.DefaultHoursToCollect.
func (c *Config) HoursToCollect() int {
	if c.Collect != nil && c.Collect.HoursToCollect > 0 {
		return c.Collect.HoursToCollect
	}
	return collector.DefaultHoursToCollect
}

// Validate applies the structural checks config.rs performs: the
// hours_to_collect ceiling, a recognized api_type per tenant, and a
// resolvable secret per tenant.
func (c *Config) Validate() error {
	if c.HoursToCollect() > collector.MaxHoursToCollect {
		return fmt.Errorf("hours_to_collect cannot be more than %d due to Office API limits", collector.MaxHoursToCollect)
	}
	for _, t := range c.Tenants {
		if _, err := t.Endpoints(); err != nil {
			return err
		}
		if _, err := t.Secret(); err != nil {
			return err
		}
	}
	if len(c.subscriptionNames()) == 0 {
		return fmt.Errorf("no subscriptions configured: set subscriptions or collect.contentTypes")
	}
	return nil
}

// parseDurationSeconds parses suffix-based duration strings (s|m|h|d); an
// unsuffixed value is assumed to be seconds. An unparseable number falls
// back to def.
func parseDurationSeconds(s string, def uint64) uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	unit := s[len(s)-1]
	var multiplier uint64
	numPart := s
	switch unit {
	case 's':
		multiplier = 1
		numPart = s[:len(s)-1]
	case 'm':
		multiplier = 60
		numPart = s[:len(s)-1]
	case 'h':
		multiplier = 3600
		numPart = s[:len(s)-1]
	case 'd':
		multiplier = 86400
		numPart = s[:len(s)-1]
	default:
		multiplier = 1
	}
	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return def
	}
	return n * multiplier
}

// parseSizeBytes parses suffix-based size strings (K|M|G, base 1024); an
// unsuffixed value is assumed to be bytes. An unparseable number falls
// back to 1MiB, matching the original's default.
func parseSizeBytes(s string) int64 {
	const defaultBytes = 1024 * 1024
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return defaultBytes
	}
	unit := s[len(s)-1]
	var multiplier int64
	numPart := s
	switch unit {
	case 'K':
		multiplier = 1024
		numPart = s[:len(s)-1]
	case 'M':
		multiplier = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	default:
		multiplier = 1
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return defaultBytes
	}
	return n * multiplier
}
