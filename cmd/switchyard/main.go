package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/switchyard/pkg/api"
	"github.com/opsline/switchyard/pkg/collector"
	"github.com/opsline/switchyard/pkg/config"
	"github.com/opsline/switchyard/pkg/deploy"
	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/flags"
	"github.com/opsline/switchyard/pkg/log"
	"github.com/opsline/switchyard/pkg/metrics"
	"github.com/opsline/switchyard/pkg/orchestrator"
	"github.com/opsline/switchyard/pkg/rollout"
	"github.com/opsline/switchyard/pkg/storage"
	"github.com/opsline/switchyard/pkg/tracing"
	"github.com/opsline/switchyard/pkg/traffic"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Switchyard - deployment automation and progressive rollouts",
	Long: `Switchyard deploys service versions through a pluggable container
orchestrator and shifts live traffic to them in controlled increments,
validating service-level metrics at every phase and rolling back
automatically on failure or abort.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Switchyard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://localhost:8400", "Switchyard server address")

	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the switchyard server",
	Long: `Run the switchyard control loop: the HTTP API, the deployment
automation layer, and the rollout orchestrator.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("config", "", "Path to the server config file")
	serverCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serverCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serverCmd.Flags().String("log-level", "", "Log level (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("server")

	ctx := context.Background()
	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    "switchyard",
		ServiceVersion: Version,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	metrics.RegisterComponent("store", true, "bbolt open at "+cfg.Storage.DataDir)

	orch, err := orchestrator.New(orchestrator.Config{Driver: cfg.Orchestrator.Driver})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator driver: %w", err)
	}
	metrics.RegisterComponent("orchestrator", true, "driver "+cfg.Orchestrator.Driver)

	broker := events.NewBroker()
	broker.Start()

	automation := deploy.NewAutomation(orch, deploy.Options{
		Store:  store,
		Broker: broker,
	})
	rollouts := rollout.NewOrchestrator(rollout.Deps{
		Automation: automation,
		Collector:  collector.NewStaticPassing(),
		Traffic:    traffic.NewSplitTable(),
		Flags:      flags.NewRegistry(),
		Store:      store,
		Broker:     broker,
	})

	var watchdog *rollout.Watchdog
	if cfg.Watchdog.Enabled {
		watchdog = rollout.NewWatchdog(rollouts, cfg.Watchdog.Interval)
		watchdog.Start()
		logger.Info().Dur("interval", cfg.Watchdog.Interval).Msg("rollout watchdog started")
	}

	apiServer := api.NewServer(automation, rollouts, broker)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(cfg.Server.ListenAddr)
	}()

	logger.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("data_dir", cfg.Storage.DataDir).
		Str("version", Version).
		Msg("switchyard server running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown failed")
	}
	if watchdog != nil {
		watchdog.Stop()
	}
	broker.Stop()
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("store close failed")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
