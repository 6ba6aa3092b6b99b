package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tracehub/tracehub/internal/agents"
	"github.com/tracehub/tracehub/internal/columnstore"
	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/projects"
	"github.com/tracehub/tracehub/internal/trace"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func reportConfigError(errOut io.Writer, stage string, err error) {
	if stage == configStageLoad {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return
	}
	fmt.Fprintf(errOut, "config is invalid: %v\n", err)
}

func writeIndentedJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// backingStores holds the column store, the project store and the services
// built on them, with their schemas ensured.
type backingStores struct {
	client   columnstore.Client
	projects *projects.SQLStore
	spans    *trace.Store
	agents   *agents.Reconciler
}

func openStores(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	onResolve func(ctx context.Context, agentName string, outcome agents.Outcome),
) (*backingStores, error) {
	client, err := columnstore.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s column store: %w", cfg.Storage.Driver, err)
	}
	projectStore, err := projects.Open(cfg.Projects.Driver, cfg.Projects.Path, cfg.Projects.DSN)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open %s project store: %w", cfg.Projects.Driver, err)
	}
	stores := &backingStores{
		client:   client,
		projects: projectStore,
		spans:    trace.NewStore(client),
		agents: agents.NewReconciler(client, projectStore, agents.Options{
			DefaultTeam: cfg.Agents.DefaultTeam,
			OnResolve:   onResolve,
			Logger:      logger,
		}),
	}

	if err := stores.spans.EnsureSchema(ctx); err != nil {
		stores.Close(logger)
		return nil, fmt.Errorf("ensure span schema: %w", err)
	}
	if err := stores.agents.EnsureSchema(ctx); err != nil {
		stores.Close(logger)
		return nil, fmt.Errorf("ensure agent mapping schema: %w", err)
	}
	return stores, nil
}

func (s *backingStores) Close(logger *slog.Logger) {
	if s == nil {
		return
	}
	if err := s.projects.Close(); err != nil {
		logger.Error("failed to close project store", "error", err)
	}
	if err := s.client.Close(); err != nil {
		logger.Error("failed to close column store", "error", err)
	}
}
