package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/session"
	"github.com/muurk/ryobigdo/internal/tui"
)

var outputFormat string

func init() {
	devicesCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(lightCmd)
}

// devicesCmd lists the openers on the account
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List garage door openers on the account",
	Long: `Log in to the Ryobi cloud and list every garage door opener registered
to the account, with the module and port used to address commands.

Each device seen is recorded in the config file so it can be given a
nickname or ignored.`,
	Example: `  # Table output
  ryobi-gdo devices

  # JSON for scripting
  ryobi-gdo devices --format json`,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	acct, cfg, err := openAccount(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer acct.Close()

	descs := make([]gdo.Descriptor, 0, len(acct.Controllers()))
	for _, c := range acct.Controllers() {
		d := c.Descriptor()
		descs = append(descs, d)
		cfg.UpdateDeviceSeen(d.DeviceID, d.Serial)
	}
	if path, err := configFile(); err == nil {
		if err := cfg.Save(path); err != nil {
			logging.Warn("Failed to record devices in config", zap.Error(err))
		}
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		data, err := json.MarshalIndent(descs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODULE\tPORT\tVERSION")
	for _, d := range descs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", d.DeviceID, d.DisplayName(), d.ModuleID, d.PortID, d.Version)
	}
	return w.Flush()
}

// statusCmd prints the current state of each opener
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show door and light state",
	Long: `Connect to the Ryobi cloud and print the state of each opener, or only
the one named by --device.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	acct, _, err := openAccount(ctx, nil)
	if err != nil {
		return err
	}
	defer acct.Close()

	controllers := acct.Controllers()
	if deviceFlag != "" {
		c, err := selectDevice(acct)
		if err != nil {
			return err
		}
		controllers = []*session.Controller{c}
	}

	cards := make([]string, 0, len(controllers))
	for _, c := range controllers {
		if err := c.Connect(ctx); err != nil {
			logging.Warn("Live connection failed, showing discovery state",
				zap.String("device_id", c.Descriptor().DeviceID), zap.Error(err))
		}
		cards = append(cards, tui.CardStyle.Render(tui.Card(c.Descriptor(), c.Snapshot(), c.State().String())))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cards, "\n"))
	return nil
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the garage door",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, "open", func(ctx context.Context, c *session.Controller) error {
			return c.OpenDoor(ctx)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the garage door",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, "close", func(ctx context.Context, c *session.Controller) error {
			return c.CloseDoor(ctx)
		})
	},
}

var lightCmd = &cobra.Command{
	Use:       "light on|off",
	Short:     "Switch the opener light",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on := args[0] == "on"
		return sendCommand(cmd, "light "+args[0], func(ctx context.Context, c *session.Controller) error {
			return c.SetLight(ctx, on)
		})
	},
}

// sendCommand sends one command to the selected opener. The controller
// connects on demand.
func sendCommand(cmd *cobra.Command, action string, fn func(context.Context, *session.Controller) error) error {
	ctx := cmd.Context()
	acct, _, err := openAccount(ctx, nil)
	if err != nil {
		return err
	}
	defer acct.Close()

	c, err := selectDevice(acct)
	if err != nil {
		return err
	}
	if err := fn(ctx, c); err != nil {
		return fmt.Errorf("%s %s: %w", action, c.Descriptor().DisplayName(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", action, c.Descriptor().DisplayName())
	return nil
}
