package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/daemon"
)

func startCmd() *cobra.Command {
	var (
		port     int
		noTunnel bool
		apiURL   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, port, noTunnel, apiURL)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "WebSocket listen port (default: config value, then 9876)")
	cmd.Flags().BoolVar(&noTunnel, "no-tunnel", false, "disable the named tunnel, advertising a LAN address instead")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "override the remote API base URL")

	return cmd
}

func runStart(cmd *cobra.Command, port int, noTunnel bool, apiURL string) error {
	cfg, err := config.Load(config.DefaultConfigDir())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Daemon.Port = port
	}
	if noTunnel {
		cfg.Daemon.NoTunnel = true
	}
	if apiURL != "" {
		cfg.API.URL = apiURL
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	d := daemon.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	log.Info("agentap started", zap.Int("port", cfg.Daemon.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	d.Stop()
	log.Info("stopped")

	return nil
}
