package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/ryobigdo/internal/bridge"
	"github.com/muurk/ryobigdo/internal/config"
	"github.com/muurk/ryobigdo/internal/gdo"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/metrics"
	"github.com/muurk/ryobigdo/internal/session"
	"github.com/muurk/ryobigdo/internal/tui"
)

// Watch command flags
var (
	watchTUI    bool
	mqttBroker  string
	metricsAddr string
)

const shutdownTimeout = 5 * time.Second

func init() {
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "Show the interactive dashboard")
	watchCmd.Flags().StringVar(&mqttBroker, "mqtt", "", "Bridge to this MQTT broker (e.g. tcp://localhost:1883)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")

	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and follow live updates",
	Long: `Keep a session open to every opener, reconnecting when the link drops,
and follow state changes as the cloud pushes them.

By default changes are logged. --tui shows an interactive dashboard,
--mqtt mirrors state to a broker and accepts commands from it, and
--metrics-addr exposes Prometheus metrics. The MQTT and metrics settings
can also come from the config file.`,
	Example: `  # Log state changes
  ryobi-gdo watch --log-level info

  # Dashboard
  ryobi-gdo watch --tui

  # Home automation bridge with metrics
  ryobi-gdo watch --mqtt tcp://localhost:1883 --metrics-addr :9108`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	addr := metricsAddr
	if addr == "" && cfg.Metrics != nil {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		collector = metrics.NewCollector()
	}

	if watchTUI {
		// Log output would tear the alternate screen.
		logging.SetLogger(nil)
	}

	var rec session.Recorder
	if collector != nil {
		rec = collector
	}
	acct, _, err := openAccount(cmd.Context(), rec)
	if err != nil {
		return err
	}
	defer acct.Close()

	stop := observe(acct.Controllers(), collector, !watchTUI)
	defer stop()

	g, ctx := errgroup.WithContext(cmd.Context())
	if collector != nil {
		g.Go(func() error { return serveMetrics(ctx, addr, collector.Handler()) })
	}

	if bcfg, ok := bridgeConfig(cfg); ok {
		b := bridge.New(bcfg)
		for _, c := range acct.Controllers() {
			b.Attach(c)
		}
		g.Go(func() error { return b.Run(ctx) })
	}

	// Every subscriber is in place before the first Connect can notify.
	g.Go(func() error { return acct.Run(ctx) })

	if watchTUI {
		devices := make([]tui.Device, 0, len(acct.Controllers()))
		for _, c := range acct.Controllers() {
			devices = append(devices, c)
		}
		g.Go(func() error {
			if err := tui.Run(ctx, devices); err != nil {
				return err
			}
			return errQuit
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// observe subscribes the metrics collector and, when logChanges is set, the
// change logger to every controller. The returned func unsubscribes them.
func observe(controllers []*session.Controller, collector *metrics.Collector, logChanges bool) (stop func()) {
	var unsubs []func()
	for _, c := range controllers {
		desc := c.Descriptor()
		if collector != nil {
			unsubs = append(unsubs, c.Subscribe(collector.Observer(desc.DeviceID)))
			collector.ObserveState(desc.DeviceID, c.Snapshot())
		}
		if logChanges {
			unsubs = append(unsubs, c.Subscribe(logChange(desc)))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// errQuit ends the group when the user leaves the dashboard.
var errQuit = errors.New("quit")

// bridgeConfig merges the --mqtt flag over the config file's mqtt section.
func bridgeConfig(cfg *config.Config) (bridge.Config, bool) {
	var out bridge.Config
	if cfg.MQTT != nil {
		out = bridge.Config{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.Prefix,
		}
	}
	if mqttBroker != "" {
		out.Broker = mqttBroker
	}
	return out, out.Broker != ""
}

func logChange(desc gdo.Descriptor) func(gdo.State) {
	return func(s gdo.State) {
		fields := []zap.Field{
			zap.String("device", desc.DisplayName()),
			zap.String("door", string(s.DoorState())),
			zap.Bool("available", s.Available),
		}
		if pos, ok := s.CoverPosition(); ok {
			fields = append(fields, zap.Int("position", pos))
		}
		if on, ok := s.LightOn(); ok {
			fields = append(fields, zap.Bool("light", on))
		}
		logging.Info("State changed", fields...)
	}
}

// serveMetrics runs the metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
