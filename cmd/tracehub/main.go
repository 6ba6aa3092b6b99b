package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracehub/tracehub/internal/agents"
	"github.com/tracehub/tracehub/internal/api"
	"github.com/tracehub/tracehub/internal/auth"
	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/ingest"
	"github.com/tracehub/tracehub/internal/observability"
	"github.com/tracehub/tracehub/internal/pricing"
	"github.com/tracehub/tracehub/internal/usage"
	"github.com/tracehub/tracehub/internal/version"
)

const defaultConfigPath = "tracehub.yaml"

const otelShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return runWithOutput(args, os.Stdout, os.Stderr)
}

func runWithOutput(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		return runServe(nil, out, errOut)
	}

	switch args[0] {
	case "version", "--version", "-v":
		return runVersion(args[1:], out, errOut)
	case "serve":
		return runServe(args[1:], out, errOut)
	case "config":
		return runConfig(args[1:], out, errOut)
	case "agents":
		return runAgents(args[1:], out, errOut)
	case "pricing":
		return runPricing(args[1:], out, errOut)
	default:
		printUsage(errOut)
		return 2
	}
}

func runVersion(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("version", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	formatRaw := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	format, err := normalizeTextJSONFormat("version", *formatRaw, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	info := version.Get()
	if format == "json" {
		if err := writeIndentedJSON(out, info); err != nil {
			fmt.Fprintf(errOut, "failed to write output: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(out, info.String())
	return 0
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}

	logger := newLogger(out)
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	stores, err := openStores(context.Background(), cfg, logger, func(ctx context.Context, _ string, outcome agents.Outcome) {
		otelRuntime.RecordAgentResolution(ctx, string(outcome))
	})
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize storage: %v\n", err)
		return 1
	}
	defer stores.Close(logger)

	adminGuard, err := newAdminGuard(cfg.Auth)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize auth config: %v\n", err)
		return 1
	}

	router := api.NewRouter(api.RouterOptions{
		AppVersion:    version.String(),
		StorageDriver: cfg.Storage.Driver,
		Spans:         stores.spans,
		Projects:      stores.projects,
		Authenticator: auth.NewAuthenticator(stores.projects, stores.agents),
		Agents:        stores.agents,
		Admin:         adminGuard,
		Normalizer:    ingest.Normalizer{MaxDecodedBytes: cfg.Ingest.MaxDecodedBytes},
		Aggregator:    usage.NewAggregator(pricingTable(cfg)),
		MaxBodyBytes:  cfg.Ingest.MaxBodyBytes,
		Metrics:       otelRuntime,
		Logger:        logger,
	})

	var handler http.Handler = api.LoggingMiddleware(logger, router)
	if otelRuntime != nil {
		handler = otelRuntime.WrapHTTPHandler(otelRuntime.SpanEnrichmentMiddleware(handler))
	}
	server := newServer(cfg, handler)

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"storage_driver", cfg.Storage.Driver,
		"projects_driver", cfg.Projects.Driver,
		"config_path", *configPath,
		"admin_auth_enabled", adminGuard.Enabled(),
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("tracehub stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("tracehub failed", "error", err)
			return 1
		}
		return 0
	}
}

func newLogger(out io.Writer) *slog.Logger {
	return slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func newServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

func newAdminGuard(cfg config.AuthConfig) (*auth.AdminGuard, error) {
	options := auth.AdminOptions{Enabled: cfg.AdminEnabled, Header: cfg.AdminHeader}
	for _, key := range cfg.AdminKeys {
		if key.TokenHash != "" {
			options.TokenHashes = append(options.TokenHashes, key.TokenHash)
			continue
		}
		options.Tokens = append(options.Tokens, key.Token)
	}
	return auth.NewAdminGuard(options)
}

func pricingTable(cfg config.Config) *pricing.Table {
	return pricing.Default().With(cfg.Pricing.Entries)
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  tracehub serve [--config path/to/tracehub.yaml]")
	fmt.Fprintln(out, "  tracehub version [--format text|json]")
	fmt.Fprintln(out, "  tracehub config validate [--config path/to/tracehub.yaml]")
	fmt.Fprintln(out, "  tracehub agents resolve [--config path/to/tracehub.yaml] [--format text|json] <agent-name>")
	fmt.Fprintln(out, "  tracehub agents list [--config path/to/tracehub.yaml] [--format text|json]")
	fmt.Fprintln(out, "  tracehub pricing [--config path/to/tracehub.yaml] [--format text|json]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  tracehub config validate [--config path/to/tracehub.yaml]")
}
