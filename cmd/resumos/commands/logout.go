package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/dnephew1/resumos/pkg/resumos/bot"
	"github.com/dnephew1/resumos/pkg/resumos/channels/whatsapp"
)

// newLogoutCmd creates the `resumos logout` command that unlinks the device.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink resumos from WhatsApp and clear the session",
		Long: `Unlink this device from the WhatsApp account and delete the stored
session. The next 'resumos serve' prints a new QR code.

Run it after serve exited because the session was logged out or replaced.

Examples:
  resumos logout
  resumos logout --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger, logCloser := bot.NewLogger(cfg.Logging, verbose, os.Stderr)
	defer logCloser.Close()

	path := cfg.Channels.WhatsApp.DatabasePath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(cmd.OutOrStdout(), "No linked WhatsApp session.")
		return nil
	}

	linked, err := whatsapp.New(cfg.Channels.WhatsApp, nil, logger).Logout(cmd.Context())
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	if !linked {
		fmt.Fprintln(cmd.OutOrStdout(), "No linked WhatsApp session.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out. Run 'resumos serve' to link again.")
	return nil
}
