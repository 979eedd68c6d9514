package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/pidfile"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running and linked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	configDir := config.DefaultConfigDir()

	port, err := pidfile.Read(configDir)
	if err != nil {
		fmt.Println("agentap: not running")
		os.Exit(1)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil || resp.StatusCode != http.StatusOK {
		fmt.Printf("agentap: pidfile present (port %d) but daemon is not responding\n", port)
		os.Exit(1)
		return nil
	}
	defer resp.Body.Close()

	fmt.Printf("agentap: running on port %d\n", port)

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Machine.Linked() {
		fmt.Printf("linked: yes (machine %s)\n", cfg.Machine.ID)
	} else {
		fmt.Println("linked: no")
		os.Exit(2)
	}

	return nil
}
