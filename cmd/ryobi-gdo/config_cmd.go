package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/ryobigdo/internal/config"
)

// Config command flags
var (
	initUsername string
	initPassword string
	initForce    bool
)

func init() {
	configInitCmd.Flags().StringVar(&initUsername, "username", "", "Ryobi account email (required)")
	configInitCmd.Flags().StringVar(&initPassword, "password", "", "Store the password in the file (prompted at runtime when omitted)")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	_ = configInitCmd.MarkFlagRequired("username")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configNicknameCmd)
	configCmd.AddCommand(configIgnoreCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file",
	Example: `  ryobi-gdo config init --username me@example.com
  ryobi-gdo config init --username me@example.com --password secret --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFile()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		cfg := config.New()
		cfg.Account = config.Account{Username: initUsername, Password: initPassword}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the config with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configNicknameCmd = &cobra.Command{
	Use:   "nickname <device-id> <name>",
	Short: "Give a device a local display name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(func(cfg *config.Config) error {
			cfg.SetDeviceNickname(args[0], args[1])
			return nil
		})
	},
}

var configIgnoreCmd = &cobra.Command{
	Use:   "ignore <device-id> [true|false]",
	Short: "Skip a device in every command",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignore := true
		if len(args) == 2 {
			switch args[1] {
			case "true":
			case "false":
				ignore = false
			default:
				return errors.New("expected true or false")
			}
		}
		return updateConfig(func(cfg *config.Config) error {
			cfg.EnsureDevice(args[0]).Ignore = ignore
			return nil
		})
	},
}

func updateConfig(fn func(*config.Config) error) error {
	path, err := configFile()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return cfg.Save(path)
}

const mask = "********"

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Account.Password != "" {
		out.Account.Password = mask
	}
	if cfg.MQTT != nil {
		m := *cfg.MQTT
		if m.Password != "" {
			m.Password = mask
		}
		out.MQTT = &m
	}
	return &out
}
