package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/ryobigdo/internal/simulator"
)

// Simulate command flags
var (
	simListen   string
	simUsername string
	simPassword string
	simDeviceID string
	simName     string
	simTravel   time.Duration
)

func init() {
	simulateCmd.Flags().StringVar(&simListen, "listen", "127.0.0.1:8080", "Address to listen on")
	simulateCmd.Flags().StringVar(&simUsername, "username", "demo@example.com", "Account username to accept")
	simulateCmd.Flags().StringVar(&simPassword, "password", "demo", "Account password to accept")
	simulateCmd.Flags().StringVar(&simDeviceID, "device-id", "", "Device id (random when empty)")
	simulateCmd.Flags().StringVar(&simName, "name", "", "Device display name")
	simulateCmd.Flags().DurationVar(&simTravel, "travel-time", simulator.DefaultTravelTime, "Time the door takes to open or close")

	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a local stand-in for the Ryobi cloud",
	Long: `Serve the Ryobi cloud HTTP API and websocket for a single simulated
opener. Point the other commands at it with --api-url and --ws-url, or
the endpoints section of the config file.`,
	Example: `  # Terminal 1
  ryobi-gdo simulate --listen 127.0.0.1:8080

  # Terminal 2
  RYOBI_PASSWORD=demo ryobi-gdo status \
    --api-url http://127.0.0.1:8080/api --ws-url ws://127.0.0.1:8080/api/wsrpc`,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sim := simulator.New(simulator.Options{
		Username:   simUsername,
		Password:   simPassword,
		DeviceID:   simDeviceID,
		DeviceName: simName,
		TravelTime: simTravel,
	})
	defer sim.Close()

	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", simListen, err)
	}

	base := "http://" + ln.Addr().String()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Simulating %s (%s)\n", sim.Options().DeviceName, sim.Options().DeviceID)
	fmt.Fprintf(out, "  API:       %s\n", simulator.APIURL(base))
	fmt.Fprintf(out, "  WebSocket: %s\n", simulator.WebSocketURL(base))
	fmt.Fprintf(out, "  Login:     %s / %s\n", simUsername, simPassword)

	return sim.Serve(cmd.Context(), ln)
}
