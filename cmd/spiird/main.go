// Package main implements the entry point for the spiird search daemon.
// spiird runs a streaming SPIIR matched-filter search: detector strain in,
// ranked candidate events out, with every stage wired over NATS subjects.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/tanghyd/spiir-search/component"
	"github.com/tanghyd/spiir-search/componentregistry"
	"github.com/tanghyd/spiir-search/config"
	"github.com/tanghyd/spiir-search/engine"
	"github.com/tanghyd/spiir-search/metric"
	"github.com/tanghyd/spiir-search/natsclient"
	"github.com/tanghyd/spiir-search/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "spiird"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Setup core infrastructure
	ctx := context.Background()
	natsClient, metricsRegistry, platform, configManager, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)
	defer configManager.Stop(5 * time.Second)

	// Build the search topology from component config
	eng, err := buildEngine(ctx, cfg, natsClient, metricsRegistry, logger, platform)
	if err != nil {
		return err
	}

	// Metrics endpoint serves /metrics and /health for the whole pipeline
	metricsServer, err := startMetricsServer(cfg, metricsRegistry, eng)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				slog.Warn("Error stopping metrics server", "error", err)
			}
		}()
	}

	// Run application with signal handling
	return runWithSignalHandling(ctx, eng, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting spiird (streaming SPIIR search)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupInfrastructure creates and connects core infrastructure components
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, *config.Manager, error) {
	natsClient, metricsRegistry, platform, err := createCoreDependencies(cfg)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, fmt.Errorf("create dependencies: %w", err)
	}

	if err := connectToNATS(ctx, natsClient); err != nil {
		return nil, nil, types.PlatformMeta{}, nil, err
	}

	configManager, err := setupConfigManager(ctx, cfg, natsClient, logger)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, nil, err
	}

	return natsClient, metricsRegistry, platform, configManager, nil
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// setupConfigManager creates and starts the config manager
func setupConfigManager(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (*config.Manager, error) {
	slog.Info("Creating config manager")
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}

	if err := configManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start config manager: %w", err)
	}

	return configManager, nil
}

// startMetricsServer starts the Prometheus endpoint when enabled, with the
// engine's aggregated health behind /health. Returns nil when the metrics
// service is disabled or no listen address is configured.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry, eng *engine.Engine) (*metric.Server, error) {
	if svc, ok := cfg.Services["metrics"]; ok && !svc.Enabled {
		slog.Info("Metrics service disabled in config")
		return nil, nil
	}

	addr := cfg.Platform.MetricsAddr
	if addr == "" {
		slog.Info("No metrics address configured, skipping metrics server")
		return nil, nil
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics port %q: %w", portStr, err)
	}

	server := metric.NewServer(port, "/metrics", registry, cfg.Security)
	server.SetHealthSource(func() ([]byte, bool) {
		report := eng.HealthReport()
		body, err := json.Marshal(report)
		if err != nil {
			return []byte(`{"status":"unknown"}`), false
		}
		return body, report.Healthy
	})

	go func() {
		slog.Info("Starting metrics server", "address", server.Address())
		if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error", "error", err)
		}
	}()

	return server, nil
}

// buildEngine registers component factories and builds the configured topology
func buildEngine(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
	platform types.PlatformMeta,
) (*engine.Engine, error) {
	componentRegistry := component.NewRegistry()
	slog.Debug("Registering search component factories (inputs, pipeline, outputs)")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return nil, fmt.Errorf("register components: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Search component factories registered", "count", len(factories), "factories", factories)

	eng, err := engine.New(engine.Options{
		Registry:        componentRegistry,
		NATSClient:      natsClient,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
		Platform:        platform,
		Security:        cfg.Security,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	slog.Info("Building search topology", "components", len(cfg.Components))
	if err := eng.Build(ctx, cfg.Components); err != nil {
		return nil, fmt.Errorf("build topology: %w", err)
	}

	return eng, nil
}

// runWithSignalHandling starts the engine and handles shutdown signals
func runWithSignalHandling(ctx context.Context, eng *engine.Engine, shutdownTimeout time.Duration) error {
	slog.Debug("Setting up signal handling")
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Starting search pipeline")
	if err := eng.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	slog.Info("spiird started successfully (search pipeline running)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := eng.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping pipeline", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("spiird shutdown complete")
	return nil
}

// createCoreDependencies creates the core dependencies shared by all components
func createCoreDependencies(
	cfg *config.Config,
) (*natsclient.Client, *metric.MetricsRegistry, types.PlatformMeta, error) {
	// Create NATS client
	natsURL := "nats://localhost:4222"

	// Environment variable override takes precedence
	if envURL := os.Getenv("SPIIR_NATS_URLS"); envURL != "" {
		natsURL = envURL
	} else if len(cfg.NATS.URLs) > 0 {
		natsURL = cfg.NATS.URLs[0]
	}

	natsClient, err := natsclient.NewClient(natsURL)
	if err != nil {
		return nil, nil, types.PlatformMeta{}, fmt.Errorf("create NATS client: %w", err)
	}

	// Create metrics registry
	metricsRegistry := metric.NewMetricsRegistry()

	platform := types.PlatformMeta{
		Platform: cfg.Platform.ID,
		Run:      cfg.Platform.Run,
	}

	slog.Info("Platform identity configured",
		"platform", platform.Platform,
		"run", platform.Run,
		"environment", cfg.Platform.Environment)

	return natsClient, metricsRegistry, platform, nil
}

// printHelp prints help information
func printHelp() {
	printDetailedHelp()
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
