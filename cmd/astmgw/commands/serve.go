package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/astmgw/gateway/internal/config"
	"github.com/astmgw/gateway/internal/logger"
	"github.com/astmgw/gateway/internal/metrics"
	"github.com/astmgw/gateway/internal/telemetry"
	"github.com/astmgw/gateway/pkg/broker"
	"github.com/astmgw/gateway/pkg/gateway"
	"github.com/astmgw/gateway/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and block until interrupted",
	Long: `Start the ASTM instrument gateway in the foreground.

One TCP listener is bound per enabled instrument; a port that cannot be
bound fails startup with a non-zero exit code. SIGINT/SIGTERM trigger a
graceful shutdown: listeners close first, live instrument sessions are
stopped, and background workers drain.

Examples:
  # Start with the default config location
  astmgw serve

  # Start with a custom config file
  astmgw serve --config /etc/astmgw/astmgw.yaml

  # Override a setting via the environment
  ASTMGW_LOGGING_LEVEL=debug astmgw serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gw *gateway.Gateway
	cfg, err := config.Load(GetConfigFile(), func(reloaded *config.Config) {
		if gw != nil {
			gw.ApplyConfig(reloaded)
		}
	})
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceVersion = Version
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	st, err := store.Open(store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", logger.Err(err))
		}
	}()

	b := broker.NewInMemory()
	defer func() { _ = b.Close() }()

	rec := metrics.NewPrometheus(prometheus.NewRegistry())

	gw, err = gateway.New(cfg, st, b, rec)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", logger.Source(sig.String()))
		cancel()
	}()

	return gw.Run(ctx)
}
