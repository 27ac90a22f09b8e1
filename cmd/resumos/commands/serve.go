package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnephew1/resumos/pkg/resumos/bot"
)

// newServeCmd creates the `resumos serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer #resumo commands",
		Long: `Start resumos as a long-running service. On the first run a QR code
is printed; scan it with WhatsApp > Linked devices.

The process exits with an error once WhatsApp cannot be reached after the
configured number of reconnection attempts, so a supervisor can restart it.

Examples:
  resumos serve
  resumos serve --config ./config.yaml --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger, logCloser := bot.NewLogger(cfg.Logging, verbose, os.Stdout)
	defer logCloser.Close()

	if configPath != "" {
		if raw, err := os.ReadFile(configPath); err == nil {
			bot.AuditSecrets(raw, logger)
		}
		logger.Info("config loaded", "path", configPath)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	// ── Resolve secrets ──
	if bot.ResolveAPIKey(cfg, logger) == "" {
		return fmt.Errorf("no API key configured")
	}

	// ── Build the bot ──
	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := b.Run(ctx)
	if runErr == nil {
		logger.Info("shutdown signal received, stopping...")
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	if errors.Is(runErr, bot.ErrChannelFailed) {
		logger.Error("whatsapp unreachable, exiting")
	}
	return runErr
}

// loadConfig loads the --config file or the first one discovered.
func loadConfig(cmd *cobra.Command) (*bot.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, found, err := bot.LoadConfig(path)
	if err != nil {
		return nil, found, fmt.Errorf("loading config: %w", err)
	}
	return cfg, found, nil
}
