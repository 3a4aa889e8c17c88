// Ryobi-gdo controls Ryobi garage door openers through the Ryobi cloud.
//
// It discovers the openers registered to an account, shows their state,
// sends open/close/light commands, and can stay connected to mirror live
// updates into a terminal dashboard, an MQTT broker, or a Prometheus
// endpoint. A built-in simulator stands in for the cloud during testing.
//
// Usage:
//
//	ryobi-gdo [command] [flags]
//
// See 'ryobi-gdo --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/ryobigdo/internal/cloudapi"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Debug("Command failed", zap.Error(err))
		logging.Sync()
		fmt.Fprintf(os.Stderr, "Error: %s\n", cloudapi.ShortMessage(err))
		os.Exit(1)
	}
	logging.Sync()
}

// Global flags
var (
	configPath string
	logLevel   string
	deviceFlag string
	apiURL     string
	wsURL      string
)

var rootCmd = &cobra.Command{
	Use:   "ryobi-gdo",
	Short: "Ryobi Garage Door Opener CLI",
	Long: `Control Ryobi garage door openers through the Ryobi cloud.

Credentials and per-device preferences are read from the config file
(see 'ryobi-gdo config init'). Commands that act on a single opener use
--device when the account has more than one.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/ryobigdo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Device id or name")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Override the cloud HTTP API root")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", "", "Override the cloud websocket URL")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ryobi-gdo %s\n", version.Full())
	},
}
