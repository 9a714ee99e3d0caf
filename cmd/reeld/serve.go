package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/reelcore/internal/config"
	"github.com/e7canasta/reelcore/internal/service"
)

const defaultConfigPath = "config/reel.yaml"

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator service",
	Long:  `The serve command loads the configuration, connects to the MQTT broker and runs until SIGINT, SIGTERM or a shutdown command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
}

func serve(ctx context.Context) error {
	// Setup structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting reel service",
		"config", configPath,
		"debug", debug,
		"version", version,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("configuration loaded", "instance_id", cfg.InstanceID)

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create reel service: %w", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		if runErr != nil {
			logger.Error("service error", "error", runErr)
		} else {
			logger.Info("service stopped (via MQTT shutdown command)")
		}
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	logger.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("reel service stopped successfully")
	return nil
}
