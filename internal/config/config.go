// Package config loads and saves the daemon's typed configuration record.
// Configuration parsing itself is out of the daemon's specified core, but
// every other component depends on the typed record this package produces.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

// Config holds every configuration section the daemon reads.
type Config struct {
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	API       APIConfig       `mapstructure:"api"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Machine   MachineConfig   `mapstructure:"machine"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Logging   logger.Config   `mapstructure:"logging"`
}

// DaemonConfig controls the WebSocket listener and local directories.
type DaemonConfig struct {
	Port      int    `mapstructure:"port"`
	NoTunnel  bool   `mapstructure:"noTunnel"`
	ConfigDir string `mapstructure:"configDir"`
}

// TunnelConfig persists the last-known tunnel binary location.
type TunnelConfig struct {
	BinaryPath string `mapstructure:"binaryPath"`
}

// AgentsConfig lists which local coding-assistant kinds are enabled.
type AgentsConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// AdaptersConfig points at extra places to look for adapter plugins.
type AdaptersConfig struct {
	PluginDir string   `mapstructure:"pluginDir"`
	Disabled  []string `mapstructure:"disabled"`
}

// APIConfig addresses the remote cloud API this daemon calls.
type APIConfig struct {
	URL string `mapstructure:"url"`
}

// PortalConfig addresses the web dashboard, referenced only for display.
type PortalConfig struct {
	URL string `mapstructure:"url"`
}

// MachineConfig is populated once the workstation completes device linking.
type MachineConfig struct {
	ID          string `mapstructure:"id"`
	UserID      string `mapstructure:"userId"`
	APISecret   string `mapstructure:"apiSecret"`
	TunnelToken string `mapstructure:"tunnelToken"`
	TunnelURL   string `mapstructure:"tunnelUrl"`
}

// Linked reports whether the machine has completed the link flow.
func (m MachineConfig) Linked() bool {
	return m.ID != ""
}

// ApprovalsConfig tunes approval-request behavior.
type ApprovalsConfig struct {
	ExpirySeconds int `mapstructure:"expirySeconds"`
}

const (
	defaultPort          = 9876
	defaultExpirySeconds = 300
	fileName             = "config"
	fileType             = "toml"
	dirMode              = 0o700
	fileMode             = 0o600
)

// DefaultConfigDir returns the platform-appropriate directory this daemon
// stores its config, pidfile and installed hook scripts under.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming", "agentap")
	}
	return filepath.Join(home, ".agentap")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("daemon.port", defaultPort)
	v.SetDefault("daemon.noTunnel", false)
	v.SetDefault("daemon.configDir", configDir)
	v.SetDefault("agents.enabled", []string{"opencode", "claude-code"})
	v.SetDefault("approvals.expirySeconds", defaultExpirySeconds)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("api.url", "API_URL")
	_ = v.BindEnv("portal.url", "PORTAL_URL")
	_ = v.BindEnv("daemon.port", "PORT")
}

// Load reads the config file from configDir, falling back to defaults for
// any missing or corrupt file. The environment variables API_URL,
// PORTAL_URL and PORT always take precedence; no other variable is read.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Configuration corrupt: log and fall back to defaults per spec.md §7.
			logger.Default().Warn("config file unreadable, using defaults",
				zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Daemon.ConfigDir == "" {
		cfg.Daemon.ConfigDir = configDir
	}
	return &cfg, nil
}

// Save persists cfg back to <configDir>/config.toml with 0600/0700 modes.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.Daemon.ConfigDir, dirMode); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType(fileType)
	v.Set("daemon", cfg.Daemon)
	v.Set("tunnel", cfg.Tunnel)
	v.Set("agents", cfg.Agents)
	v.Set("adapters", cfg.Adapters)
	v.Set("api", cfg.API)
	v.Set("portal", cfg.Portal)
	v.Set("machine", cfg.Machine)
	v.Set("approvals", cfg.Approvals)
	v.Set("logging", cfg.Logging)

	path := filepath.Join(cfg.Daemon.ConfigDir, fileName+"."+fileType)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, fileMode)
}

// SaveMachineLink writes the machine section after a successful link and
// persists the whole record.
func SaveMachineLink(cfg *Config, m MachineConfig) error {
	cfg.Machine = m
	return Save(cfg)
}
