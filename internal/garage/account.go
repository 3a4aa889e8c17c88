package garage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/muurk/ryobigdo/internal/cloudapi"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoMatchingDevice is returned when a device filter matched nothing.
var ErrNoMatchingDevice = errors.New("no discovered device matches the filter")

// Options configure account bootstrap.
type Options struct {
	// Session is applied to every controller.
	Session session.Options
	// DeviceIDs restricts the account to these devices. Empty means all.
	DeviceIDs []string
	// Ignore drops these devices even when DeviceIDs names them.
	Ignore []string
	// Nicknames override the cloud display name, keyed by device id.
	Nicknames map[string]string
}

// Account holds one session controller per discovered device.
type Account struct {
	controllers []*session.Controller
}

// Connect discovers the account's devices and builds a controller for each.
// Discovery failures abort with a single error; no controller is connected
// until Run or an explicit Connect.
func Connect(ctx context.Context, api cloudapi.Discoverer, opts Options) (*Account, error) {
	devices, err := cloudapi.Discover(ctx, api)
	if err != nil {
		return nil, err
	}

	acct := &Account{}
	for _, dev := range devices {
		desc := dev.Descriptor
		if len(opts.DeviceIDs) > 0 && !slices.Contains(opts.DeviceIDs, desc.DeviceID) {
			logging.Debug("Skipping filtered device", zap.String("device_id", desc.DeviceID))
			continue
		}
		if slices.Contains(opts.Ignore, desc.DeviceID) {
			logging.Debug("Skipping ignored device", zap.String("device_id", desc.DeviceID))
			continue
		}
		if nick := opts.Nicknames[desc.DeviceID]; nick != "" {
			desc.Name = nick
		}
		acct.controllers = append(acct.controllers, session.New(desc, dev.Initial, opts.Session))
	}

	if len(acct.controllers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingDevice, opts.DeviceIDs)
	}

	logging.Info("Account ready",
		zap.String("username", api.Username()),
		zap.Int("devices", len(acct.controllers)))
	return acct, nil
}

// Controllers returns the controllers in discovery order.
func (a *Account) Controllers() []*session.Controller {
	return slices.Clone(a.controllers)
}

// Controller looks up a controller by device id or display name.
func (a *Account) Controller(id string) (*session.Controller, bool) {
	for _, c := range a.controllers {
		if d := c.Descriptor(); d.DeviceID == id || d.Name == id {
			return c, true
		}
	}
	return nil, false
}

// Default returns the only controller, or the one matching id when the
// account holds several devices.
func (a *Account) Default(id string) (*session.Controller, error) {
	if id == "" {
		if len(a.controllers) == 1 {
			return a.controllers[0], nil
		}
		return nil, fmt.Errorf("account has %d devices, pick one with --device", len(a.controllers))
	}
	c, ok := a.Controller(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMatchingDevice, id)
	}
	return c, nil
}

// ConnectAll opens every controller's session. It stops at the first error.
func (a *Account) ConnectAll(ctx context.Context) error {
	for _, c := range a.controllers {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", c.Descriptor().DeviceID, err)
		}
	}
	return nil
}

// Run runs every controller's supervisory loop until ctx is cancelled.
func (a *Account) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.controllers {
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	return g.Wait()
}

// Close closes every session.
func (a *Account) Close() {
	for _, c := range a.controllers {
		_ = c.Close()
	}
}
