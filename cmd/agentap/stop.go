package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/pidfile"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	configDir := config.DefaultConfigDir()

	pid, err := pidfile.ReadPID(configDir)
	if err != nil {
		fmt.Println("agentap is not running")
		os.Exit(1)
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	// Same signal cmd/agentap start already handles via signal.Notify, so
	// the daemon runs its normal graceful-shutdown path rather than dying.
	if err := proc.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	fmt.Printf("sent stop signal to agentap (pid %d)\n", pid)
	return nil
}
