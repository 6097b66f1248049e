package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshgate/internal/config"
	"github.com/rmacdonaldsmith/meshgate/internal/gateway"
	"github.com/rmacdonaldsmith/meshgate/internal/logging"
)

// shutdownTimeout bounds the graceful stop after a signal
const shutdownTimeout = 30 * time.Second

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway",
		Long: `Connect to the radio and run the gateway until SIGINT or SIGTERM.
The configuration is read from --config (default ./mesh.yaml), then a .env
file in the working directory, then MESHGATE_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./mesh.yaml)")
	return cmd
}

func runGateway(ctx context.Context, configPath string) error {
	startedAt := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting "+appName,
		"version", appVersion,
		"device", cfg.Meshtastic.Device,
		"sink", cfg.Sink.Type,
		"format", cfg.Bridge.Format)

	g, err := gateway.New(gateway.Options{
		Config:    cfg,
		StartedAt: startedAt,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer g.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("exit requested")
	case runErr = <-g.Errors():
		logger.Error("gateway failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Stop(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", "error", err)
	}
	return runErr
}
