// Package cmd provides the CLI commands for ToolBridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolbridge",
	Short: "ToolBridge - expose REST APIs as MCP tool servers",
	Long: `ToolBridge turns user-declared REST APIs into MCP tool servers.

Each tool server gets a JSON-RPC protocol endpoint and its own OAuth 2.1
authorization surface. Tools, upstream APIs, and field mappings are stored
in SQLite; clients discover tools over the protocol and invoke them with
validated, transformed arguments.

Quick start:
  1. Create a config file: toolbridge.yaml
  2. Run: toolbridge serve

Configuration:
  Config is loaded from toolbridge.yaml in the current directory,
  $HOME/.toolbridge/, or /etc/toolbridge/.

  Environment variables can override config values with the TOOLBRIDGE_ prefix.
  Example: TOOLBRIDGE_SERVER_HTTP_ADDR=:9090

Commands:
  serve          Start the server
  user           Manage login users
  hash-password  Generate an Argon2id hash for a password
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolbridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
