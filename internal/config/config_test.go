package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wisbric/feedrelay/pkg/collector"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad_HappyPath(t *testing.T) {
	path := writeTestConfig(t, `
enabled: true
interval: 5m
working_dir: /var/lib/feedrelay
only_future_events: true
tenants:
  - tenant_id: tenant-a
    client_id: client-a
    client_secret: super-secret
    api_type: gcc
subscriptions:
  - Audit.Exchange
  - Audit.General
output:
  file:
    path: /var/log/feedrelay/out.jsonl
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsEnabled() {
		t.Fatalf("expected enabled")
	}
	if !cfg.DaemonMode() {
		t.Fatalf("expected daemon mode active")
	}
	if got, want := cfg.IntervalSeconds(), uint64(300); got != want {
		t.Fatalf("interval seconds = %d, want %d", got, want)
	}
	subs, err := cfg.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}

	tenant := cfg.Tenants[0]
	secret, err := tenant.Secret()
	if err != nil {
		t.Fatalf("Secret: %v", err)
	}
	if secret != "super-secret" {
		t.Fatalf("secret = %q", secret)
	}
	endpoints, err := tenant.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if endpoints.APIHost != "manage-gcc.office.com" {
		t.Fatalf("unexpected gcc endpoint: %+v", endpoints)
	}
}

func TestTenantConfig_Endpoints(t *testing.T) {
	cases := []struct {
		apiType string
		host    string
		login   string
	}{
		{"", "manage.office.com", "https://login.microsoftonline.com"},
		{"commercial", "manage.office.com", "https://login.microsoftonline.com"},
		{"gcc", "manage-gcc.office.com", "https://login.microsoftonline.com"},
		{"gcc-high", "manage.office365.us", "https://login.microsoftonline.us"},
	}
	for _, tc := range cases {
		tenant := TenantConfig{TenantID: "t", APIType: tc.apiType}
		ep, err := tenant.Endpoints()
		if err != nil {
			t.Fatalf("api_type %q: %v", tc.apiType, err)
		}
		if ep.APIHost != tc.host || ep.LoginEndpoint != tc.login {
			t.Fatalf("api_type %q: got %+v", tc.apiType, ep)
		}
	}

	if _, err := (TenantConfig{TenantID: "t", APIType: "bogus"}).Endpoints(); err == nil {
		t.Fatalf("expected error for invalid api_type")
	}
}

func TestTenantConfig_Secret_FromPath(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(secretPath, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	tenant := TenantConfig{TenantID: "t", ClientSecretPath: secretPath}
	secret, err := tenant.Secret()
	if err != nil {
		t.Fatalf("Secret: %v", err)
	}
	if secret != "from-file" {
		t.Fatalf("secret = %q, want %q", secret, "from-file")
	}
}

func TestTenantConfig_Secret_Missing(t *testing.T) {
	tenant := TenantConfig{TenantID: "t"}
	if _, err := tenant.Secret(); err == nil {
		t.Fatalf("expected error when neither client_secret nor client_secret_path is set")
	}
}

func TestValidate_HoursToCollectCeiling(t *testing.T) {
	path := writeTestConfig(t, `
tenants:
  - tenant_id: tenant-a
    client_id: client-a
    client_secret: s
subscriptions:
  - Audit.Exchange
collect:
  hoursToCollect: 200
output: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for hours_to_collect > 168")
	}
}

func TestValidate_MissingSecret(t *testing.T) {
	path := writeTestConfig(t, `
tenants:
  - tenant_id: tenant-a
    client_id: client-a
subscriptions:
  - Audit.Exchange
output: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestValidate_NoSubscriptions(t *testing.T) {
	path := writeTestConfig(t, `
tenants:
  - tenant_id: tenant-a
    client_id: client-a
    client_secret: s
output: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no subscriptions configured")
	}
}

func TestContentTypesConfig_LegacyFallback(t *testing.T) {
	path := writeTestConfig(t, `
tenants:
  - tenant_id: tenant-a
    client_id: client-a
    client_secret: s
collect:
  contentTypes:
    Audit.Exchange: true
    Audit.SharePoint: false
output: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	subs, err := cfg.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0] != collector.ContentTypeExchange {
		t.Fatalf("subs = %v", subs)
	}
}

func TestParseDurationSeconds(t *testing.T) {
	cases := map[string]uint64{
		"30s": 30,
		"5m":  300,
		"1h":  3600,
		"1d":  86400,
		"45":  45,
		"":    99,
	}
	for input, want := range cases {
		if got := parseDurationSeconds(input, 99); got != want {
			t.Fatalf("parseDurationSeconds(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseSizeBytes(t *testing.T) {
	cases := map[string]int64{
		"1M":   1024 * 1024,
		"500K": 500 * 1024,
		"2G":   2 * 1024 * 1024 * 1024,
		"1024": 1024,
	}
	for input, want := range cases {
		if got := parseSizeBytes(input); got != want {
			t.Fatalf("parseSizeBytes(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestAzureLogAnalyticsOutputConfig_SharedKey_FromPath(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyPath, []byte("shared-key-value\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	cfg := AzureLogAnalyticsOutputConfig{WorkspaceID: "ws", SharedKeyPath: keyPath}
	key, err := cfg.SharedKey()
	if err != nil {
		t.Fatalf("SharedKey: %v", err)
	}
	if key != "shared-key-value" {
		t.Fatalf("key = %q", key)
	}
}
