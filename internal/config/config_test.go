package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracehub/tracehub/internal/pricing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Fatalf("server address=%q, want 0.0.0.0:8080", cfg.Server.Address())
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Projects.Driver != "sqlite" {
		t.Fatalf("drivers=%q/%q, want sqlite/sqlite", cfg.Storage.Driver, cfg.Projects.Driver)
	}
	if cfg.Storage.Path == cfg.Projects.Path {
		t.Fatalf("column and project stores share path %q", cfg.Storage.Path)
	}
	if cfg.Agents.DefaultTeam != "Agent Projects Team" {
		t.Fatalf("agents.default_team=%q, want Agent Projects Team", cfg.Agents.DefaultTeam)
	}
	if cfg.Ingest.MaxBodyBytes != 10<<20 {
		t.Fatalf("ingest.max_body_bytes=%d, want %d", cfg.Ingest.MaxBodyBytes, 10<<20)
	}
	if cfg.Auth.AdminEnabled {
		t.Fatalf("auth.admin_enabled=%v, want false", cfg.Auth.AdminEnabled)
	}
	if cfg.Observability.OTel.Enabled {
		t.Fatalf("observability.otel.enabled=%v, want false", cfg.Observability.OTel.Enabled)
	}
	if cfg.Observability.OTel.ServiceName != "tracehub" {
		t.Fatalf("observability.otel.service_name=%q, want tracehub", cfg.Observability.OTel.ServiceName)
	}
}

func TestLoadAppliesYAMLAndEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tracehub.yaml")
	configYAML := `server:
  host: 127.0.0.1
  port: 9090
storage:
  driver: postgres
  dsn: postgres://columns
projects:
  driver: sqlite
  path: /tmp/projects.db
ingest:
  max_body_bytes: 2048
  max_decoded_bytes: 4096
agents:
  default_team: Bots
pricing:
  entries:
    - vendor: openai
      model: gpt-custom
      input_per_1k: 0.5
      output_per_1k: 1.5
auth:
  admin_enabled: true
  admin_keys:
    - id: ops
      token: ops-token
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TRACEHUB_PORT", "9191")
	t.Setenv("TRACEHUB_PROJECTS_PATH", "/tmp/env-projects.db")
	t.Setenv("TRACEHUB_AGENTS_DEFAULT_TEAM", "Env Bots")
	t.Setenv("TRACEHUB_ADMIN_KEY", "env-token")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("server.host=%q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("server.port=%d, want env override 9191", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://columns" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
	if cfg.Projects.Path != "/tmp/env-projects.db" {
		t.Fatalf("projects.path=%q, want env override", cfg.Projects.Path)
	}
	if cfg.Ingest.MaxBodyBytes != 2048 || cfg.Ingest.MaxDecodedBytes != 4096 {
		t.Fatalf("ingest=%+v", cfg.Ingest)
	}
	if cfg.Agents.DefaultTeam != "Env Bots" {
		t.Fatalf("agents.default_team=%q, want Env Bots", cfg.Agents.DefaultTeam)
	}
	want := pricing.Entry{Vendor: "openai", Model: "gpt-custom", InputPer1K: 0.5, OutputPer1K: 1.5}
	if len(cfg.Pricing.Entries) != 1 || cfg.Pricing.Entries[0] != want {
		t.Fatalf("pricing.entries=%+v, want [%+v]", cfg.Pricing.Entries, want)
	}
	if !cfg.Auth.AdminEnabled || len(cfg.Auth.AdminKeys) != 2 {
		t.Fatalf("auth=%+v, want yaml key plus env key", cfg.Auth)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(configPath, []byte("server: [\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsUnknownYAMLField(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "unknown.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  hostname: x\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "hostname") {
		t.Fatalf("Load() error=%v, want unknown field error", err)
	}
}

func TestLoadRejectsMultiDocumentYAML(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "multi.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 1\n---\nserver:\n  port: 2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "multiple yaml documents") {
		t.Fatalf("Load() error=%v, want multi-document error", err)
	}
}

func TestLoadInvalidEnvReturnsError(t *testing.T) {
	for _, tc := range []struct{ key, value string }{
		{"TRACEHUB_PORT", "not-a-port"},
		{"TRACEHUB_MAX_BODY_BYTES", "big"},
		{"TRACEHUB_ADMIN_AUTH_ENABLED", "maybe"},
		{"OTEL_TRACES_EXPORTER", "zipkin"},
	} {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); err == nil || !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("Load() error=%v, want error naming %s", err, tc.key)
			}
		})
	}
}

func TestLoadAppliesStandardOTELEnvOverrides(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_SERVICE_NAME", "tracehub-test")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	otel := cfg.Observability.OTel
	if !otel.Enabled {
		t.Fatalf("otel.enabled=%v, want true when OTEL_* env is set", otel.Enabled)
	}
	if otel.Endpoint != "collector:4318" || otel.ServiceName != "tracehub-test" {
		t.Fatalf("otel=%+v", otel)
	}
	if otel.MetricsEnabled || !otel.TracesEnabled {
		t.Fatalf("signals traces=%v metrics=%v, want true/false", otel.TracesEnabled, otel.MetricsEnabled)
	}
	if otel.SamplingRatio != 0.25 {
		t.Fatalf("sampling_ratio=%v, want 0.25", otel.SamplingRatio)
	}
}

func TestLoadAppliesOTELSDKDisabledOverride(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")
	t.Setenv("OTEL_SERVICE_NAME", "ignored-while-disabled")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Observability.OTel.Enabled {
		t.Fatalf("otel.enabled=%v, want false", cfg.Observability.OTel.Enabled)
	}
}

func TestValidateDefaultConfig(t *testing.T) {
	t.Parallel()

	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) error: %v", err)
	}
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "clickhouse" }, "storage.driver"},
		{"storage dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"projects path", func(c *Config) { c.Projects.Path = " " }, "projects.path"},
		{"body limit", func(c *Config) { c.Ingest.MaxBodyBytes = 0 }, "ingest.max_body_bytes"},
		{"decoded limit", func(c *Config) { c.Ingest.MaxDecodedBytes = 1 }, "ingest.max_decoded_bytes"},
		{"default team", func(c *Config) { c.Agents.DefaultTeam = "" }, "agents.default_team"},
		{"pricing", func(c *Config) {
			c.Pricing.Entries = []pricing.Entry{{Vendor: "openai", Model: "m", InputPer1K: -1}}
		}, "pricing.entries[0]"},
		{"admin keys", func(c *Config) { c.Auth.AdminEnabled = true }, "auth.admin_keys"},
		{"admin key token", func(c *Config) {
			c.Auth.AdminEnabled = true
			c.Auth.AdminKeys = []AdminKeyConfig{{ID: "empty"}}
		}, "auth.admin_keys[0]"},
		{"otel sampling", func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.SamplingRatio = 2
		}, "sampling_ratio"},
		{"otel signals", func(c *Config) {
			c.Observability.OTel.Enabled = true
			c.Observability.OTel.TracesEnabled = false
			c.Observability.OTel.MetricsEnabled = false
		}, "traces_enabled"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error=%v, want mention of %q", err, tc.want)
			}
		})
	}
}
