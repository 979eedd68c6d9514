package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agentap",
	Short: "agentap — bridge a local coding assistant to the mobile/web client",
	Long: "agentap runs a local daemon that watches Claude Code, OpenCode, Codex and\n" +
		"Aider sessions on this workstation, relays them over a tunnel to a\n" +
		"linked mobile or web client, and brokers tool-call approvals back down.",
}

func init() {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentap %s\n", Version)
		},
	}
}

// Execute runs the root cobra command, exiting 1 on any command error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
