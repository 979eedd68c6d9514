package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ammujacic/agentap/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write daemon configuration values",
	}
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultConfigDir())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			value, err := getConfigKey(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultConfigDir())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := setConfigKey(cfg, args[0], args[1]); err != nil {
				return err
			}
			return config.Save(cfg)
		},
	}
}

// getConfigKey and setConfigKey cover the subset of config.Config fields a
// user is expected to tune from the command line; the rest (machine.*) are
// only ever written by the link flow.
func getConfigKey(cfg *config.Config, key string) (string, error) {
	switch key {
	case "daemon.port":
		return strconv.Itoa(cfg.Daemon.Port), nil
	case "daemon.noTunnel":
		return strconv.FormatBool(cfg.Daemon.NoTunnel), nil
	case "api.url":
		return cfg.API.URL, nil
	case "portal.url":
		return cfg.Portal.URL, nil
	case "adapters.pluginDir":
		return cfg.Adapters.PluginDir, nil
	case "approvals.expirySeconds":
		return strconv.Itoa(cfg.Approvals.ExpirySeconds), nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	default:
		return "", fmt.Errorf("unknown or read-only config key %q", key)
	}
}

func setConfigKey(cfg *config.Config, key, value string) error {
	switch key {
	case "daemon.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("daemon.port must be an integer: %w", err)
		}
		cfg.Daemon.Port = port
	case "daemon.noTunnel":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("daemon.noTunnel must be true or false: %w", err)
		}
		cfg.Daemon.NoTunnel = b
	case "api.url":
		cfg.API.URL = value
	case "portal.url":
		cfg.Portal.URL = value
	case "adapters.pluginDir":
		cfg.Adapters.PluginDir = value
	case "approvals.expirySeconds":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("approvals.expirySeconds must be an integer: %w", err)
		}
		cfg.Approvals.ExpirySeconds = seconds
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	default:
		return fmt.Errorf("unknown or read-only config key %q", key)
	}
	return nil
}
