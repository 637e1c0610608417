package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/fentz26/dutyhub/internal/audit"
	"github.com/fentz26/dutyhub/internal/config"
	"github.com/fentz26/dutyhub/internal/controlplane"
	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/events"
	"github.com/fentz26/dutyhub/internal/observability"
	"github.com/fentz26/dutyhub/internal/store"
)

var (
	listenAddr string
	dbPath     string
	maxDuty    int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the dutyhub daemon",
	Long:  `Starts the dutyhub daemon which provides the HTTP API for duty tracking.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen, "Listen address for the API server")
	daemonCmd.Flags().StringVar(&dbPath, "db", config.DefaultDBPath(), "Path to SQLite database")
	daemonCmd.Flags().IntVar(&maxDuty, "max-duty", 0, "Maximum number of active duties (overrides config)")
}

// loadDaemonConfig reads the config file and applies explicitly set flags on top.
func loadDaemonConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}
	if cmd.Flags().Changed("max-duty") {
		cfg.Duties.MaxDuty = maxDuty
	}
	return cfg, cfg.Validate()
}

func openStore(cfg config.DatabaseConfig) (*store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return store.NewPostgres(cfg.DSN)
	default:
		return store.New(cfg.Path)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)
	logger.Info("starting dutyhub daemon", "version", controlplane.Version, "driver", cfg.Database.Driver, "max_duty", cfg.Duties.MaxDuty)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTelemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: controlplane.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return err
	}

	// Initialize store
	s, err := openStore(cfg.Database)
	if err != nil {
		return err
	}

	// Initialize components
	manager := duties.NewManager(s, &cfg.Duties)
	manager.SetLogger(logger)

	metrics, err := observability.NewMetrics(otel.Meter(observability.InstrumentationName))
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		manager.SetMetrics(metrics)
	}

	var publisher *events.RedisPublisher
	if cfg.Redis.Addr != "" {
		publisher = events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, events will be dropped until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		manager.SetPublisher(publisher)
		logger.Info("publishing duty events", "addr", cfg.Redis.Addr, "channel", publisher.Channel())
	}

	// Create service and server
	service := controlplane.NewService(s, manager, audit.NewPDRWriter(s))
	service.SetLogger(logger)
	server := controlplane.NewServer(service, s, cfg.Listen)
	server.SetLogger(logger)
	server.SetRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	server.SetAdmins(cfg.Admins)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("closing database connection")
	if err := s.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("daemon: %w", runErr)
	}
	logger.Info("shutdown complete")
	return nil
}
