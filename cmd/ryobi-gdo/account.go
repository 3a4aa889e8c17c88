package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/ryobigdo/internal/cloudapi"
	"github.com/muurk/ryobigdo/internal/config"
	"github.com/muurk/ryobigdo/internal/garage"
	"github.com/muurk/ryobigdo/internal/logging"
	"github.com/muurk/ryobigdo/internal/session"
)

// PasswordEnvVar supplies the account password without storing it.
const PasswordEnvVar = "RYOBI_PASSWORD"

var errNoUsername = errors.New("no account configured, run 'ryobi-gdo config init'")

// configFile returns the path named by --config, or the default location.
func configFile() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

// loadConfig reads the config file. A missing file yields defaults.
func loadConfig() (*config.Config, error) {
	path, err := configFile()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// password resolves the account password from the config file, the
// environment, or an interactive prompt, in that order.
func password(cfg *config.Config) (string, error) {
	if cfg.Account.Password != "" {
		return cfg.Account.Password, nil
	}
	if p := os.Getenv(PasswordEnvVar); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password in config and %s is not set", PasswordEnvVar)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", cfg.Account.Username)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// newAPIClient builds the cloud client, honoring endpoint overrides from the
// flags first and the config file second.
func newAPIClient(cfg *config.Config) (*cloudapi.Client, error) {
	if cfg.Account.Username == "" {
		return nil, errNoUsername
	}
	pass, err := password(cfg)
	if err != nil {
		return nil, err
	}
	base := firstNonEmpty(apiURL, cfg.Endpoints.API, cloudapi.DefaultBaseURL)
	return cloudapi.NewClientWithURL(base, cfg.Account.Username, pass), nil
}

// sessionOptions maps the config's session preferences onto controller
// options.
func sessionOptions(cfg *config.Config, rec session.Recorder) session.Options {
	p := cfg.Session
	return session.Options{
		URL:               firstNonEmpty(wsURL, cfg.Endpoints.WebSocket, session.DefaultURL),
		AuthPollAttempts:  p.AuthPollAttempts,
		PollInterval:      p.PollInterval,
		WatchdogThreshold: p.WatchdogThreshold,
		SendAttempts:      p.SendAttempts,
		RefreshInterval:   p.RefreshInterval,
		Recorder:          rec,
	}
}

func accountOptions(cfg *config.Config, rec session.Recorder) garage.Options {
	opts := garage.Options{
		Session:   sessionOptions(cfg, rec),
		Nicknames: cfg.Nicknames(),
	}
	for id := range cfg.Devices {
		if cfg.Ignored(id) {
			opts.Ignore = append(opts.Ignore, id)
		}
	}
	return opts
}

// openAccount loads the config, discovers devices, and returns one
// controller per opener. Nothing is connected yet.
func openAccount(ctx context.Context, rec session.Recorder) (*garage.Account, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	acct, err := garage.Connect(ctx, api, accountOptions(cfg, rec))
	if err != nil {
		return nil, nil, fmt.Errorf("discovery failed: %w", err)
	}
	logging.Debug("Opened account", zap.Int("devices", len(acct.Controllers())))
	return acct, cfg, nil
}

// selectDevice picks the controller named by --device, or the only one.
func selectDevice(acct *garage.Account) (*session.Controller, error) {
	if deviceFlag != "" {
		c, ok := acct.Controller(deviceFlag)
		if !ok {
			return nil, fmt.Errorf("%w: %s", garage.ErrNoMatchingDevice, deviceFlag)
		}
		return c, nil
	}
	return acct.Default("")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
