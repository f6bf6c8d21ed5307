// Copyright 2024-2026 Aiku AI

// Command roombridge relays a site's realtime chat room to a Mattermost
// channel and back, linking site accounts to chat accounts with single-use
// codes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "roombridge",
	Short:         "Bridge between a site chat room and Mattermost",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the config file (empty for defaults and environment only)")
	rootCmd.AddCommand(runCmd, mintCodeCmd, versionCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roombridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
