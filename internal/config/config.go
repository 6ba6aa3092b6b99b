package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tracehub/tracehub/internal/pricing"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Projects      StorageConfig       `yaml:"projects"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Agents        AgentsConfig        `yaml:"agents"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects a database. Storage is the column store holding
// spans and agent mappings; Projects is the relational project store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type IngestConfig struct {
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
	MaxDecodedBytes int64 `yaml:"max_decoded_bytes"`
}

type AgentsConfig struct {
	DefaultTeam string `yaml:"default_team"`
}

// PricingConfig adds to or overrides the built-in pricing table.
type PricingConfig struct {
	Entries []pricing.Entry `yaml:"entries"`
}

// AuthConfig guards the management endpoints. Project API keys are always
// required for ingest and reads.
type AuthConfig struct {
	AdminEnabled bool             `yaml:"admin_enabled"`
	AdminHeader  string           `yaml:"admin_header"`
	AdminKeys    []AdminKeyConfig `yaml:"admin_keys"`
}

type AdminKeyConfig struct {
	ID        string `yaml:"id"`
	Token     string `yaml:"token"`
	TokenHash string `yaml:"token_hash"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "tracehub"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/tracehub-spans.db",
		},
		Projects: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/tracehub.db",
		},
		Ingest: IngestConfig{
			MaxBodyBytes:    10 << 20,
			MaxDecodedBytes: 64 << 20,
		},
		Agents: AgentsConfig{
			DefaultTeam: "Agent Projects Team",
		},
		Auth: AuthConfig{
			AdminHeader: "X-Tracehub-Admin-Key",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}
	if err := validateStorage("storage", cfg.Storage); err != nil {
		return err
	}
	if err := validateStorage("projects", cfg.Projects); err != nil {
		return err
	}

	if cfg.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingest.max_body_bytes must be > 0 (got %d)", cfg.Ingest.MaxBodyBytes)
	}
	if cfg.Ingest.MaxDecodedBytes < cfg.Ingest.MaxBodyBytes {
		return fmt.Errorf("ingest.max_decoded_bytes must be >= ingest.max_body_bytes (got %d)", cfg.Ingest.MaxDecodedBytes)
	}
	if strings.TrimSpace(cfg.Agents.DefaultTeam) == "" {
		return errors.New("agents.default_team must not be empty")
	}

	for idx, entry := range cfg.Pricing.Entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("pricing.entries[%d]: %w", idx, err)
		}
	}

	if strings.TrimSpace(cfg.Auth.AdminHeader) == "" {
		return errors.New("auth.admin_header must not be empty")
	}
	if cfg.Auth.AdminEnabled {
		if len(cfg.Auth.AdminKeys) == 0 {
			return errors.New("auth.admin_keys is required when auth.admin_enabled=true")
		}
		for idx, key := range cfg.Auth.AdminKeys {
			if strings.TrimSpace(key.Token) == "" && strings.TrimSpace(key.TokenHash) == "" {
				return fmt.Errorf("auth.admin_keys[%d] must set token or token_hash", idx)
			}
		}
	}

	if err := validateOTelConfig(cfg.Observability.OTel); err != nil {
		return err
	}
	return nil
}

func validateStorage(name string, cfg StorageConfig) error {
	switch strings.TrimSpace(cfg.Driver) {
	case "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return fmt.Errorf("%s.path is required when %s.driver=sqlite", name, name)
		}
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return fmt.Errorf("%s.dsn is required when %s.driver=postgres", name, name)
		}
	default:
		return fmt.Errorf("%s.driver must be one of sqlite, postgres (got %q)", name, cfg.Driver)
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("TRACEHUB_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("TRACEHUB_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid TRACEHUB_PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if driver := os.Getenv("TRACEHUB_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := os.Getenv("TRACEHUB_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if dsn := os.Getenv("TRACEHUB_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if driver := os.Getenv("TRACEHUB_PROJECTS_DRIVER"); driver != "" {
		cfg.Projects.Driver = driver
	}
	if path := os.Getenv("TRACEHUB_PROJECTS_PATH"); path != "" {
		cfg.Projects.Path = path
	}
	if dsn := os.Getenv("TRACEHUB_PROJECTS_DSN"); dsn != "" {
		cfg.Projects.DSN = dsn
	}

	if maxBody := os.Getenv("TRACEHUB_MAX_BODY_BYTES"); maxBody != "" {
		v, err := strconv.ParseInt(maxBody, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TRACEHUB_MAX_BODY_BYTES: %w", err)
		}
		cfg.Ingest.MaxBodyBytes = v
	}
	if team := os.Getenv("TRACEHUB_AGENTS_DEFAULT_TEAM"); team != "" {
		cfg.Agents.DefaultTeam = team
	}

	if adminEnabled := os.Getenv("TRACEHUB_ADMIN_AUTH_ENABLED"); adminEnabled != "" {
		v, err := strconv.ParseBool(adminEnabled)
		if err != nil {
			return fmt.Errorf("invalid TRACEHUB_ADMIN_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.AdminEnabled = v
	}
	if adminKey := strings.TrimSpace(os.Getenv("TRACEHUB_ADMIN_KEY")); adminKey != "" {
		cfg.Auth.AdminKeys = append(cfg.Auth.AdminKeys, AdminKeyConfig{ID: "env", Token: adminKey})
	}

	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.Observability.OTel.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.Observability.OTel.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}

	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}
