// Kasalink is a command-line client for Kasa-family smart-home devices.
//
// It discovers plugs, dimmers, power strips, bulbs, and cameras on the
// local network, switches and configures them, reads energy meters, and
// can watch devices for state changes. Devices are controlled directly
// over the LAN; no cloud account is required.
//
// Usage:
//
//	kasalink [command] [flags]
//
// Running without arguments in a terminal launches the interactive
// dashboard. See 'kasalink --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kasalink",
	Short: "Kasa Smart Device Utility",
	Long: `A command-line client for Kasa-family smart plugs, bulbs, and strips.

Provides network discovery, direct switching and configuration
commands, energy readings, and an interactive dashboard. All control
happens over the local network.

If no command is specified and stdout is a terminal, the interactive
dashboard launches automatically.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitializeFromEnv(); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return applyConfigDefaults(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return runDashboard(cmd, args)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kasalink %s\n", version.Full())
	},
}
