package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/daemon"
)

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Pair this workstation with a mobile or web client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(cmd.Context())
		},
	}
}

func runLink(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultConfigDir())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Machine.Linked() {
		fmt.Printf("already linked to machine %s; run \"agentap start\" instead\n", cfg.Machine.ID)
		return nil
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	d := daemon.New(cfg, log)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(runCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	start, err := d.CreateLinkRequest(runCtx)
	if err != nil {
		d.Stop()
		return fmt.Errorf("create link request: %w", err)
	}

	fmt.Printf("\nLink code: %s\n\n", start.Code)
	qr, err := qrcode.New(start.QRPayload, qrcode.Medium)
	if err != nil {
		d.Stop()
		return fmt.Errorf("render qr code: %w", err)
	}
	fmt.Println(qr.ToString(false))
	fmt.Println("Scan the code above, or enter it manually, in the agentap mobile/web client.")
	fmt.Println("Waiting for confirmation...")

	dots := 0
	if err := d.WaitForLink(runCtx, start.Code, func() {
		dots++
		fmt.Print(".")
	}); err != nil {
		d.Stop()
		return fmt.Errorf("wait for link: %w", err)
	}

	fmt.Println("\nLinked. agentap is now running in the foreground; press Ctrl-C to stop.")
	log.Info("machine linked", zap.String("machine_id", cfg.Machine.ID))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	d.Stop()
	log.Info("stopped")

	return nil
}
