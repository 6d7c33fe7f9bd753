// Package cmd provides the CLI commands for policyshieldd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/policyshield/policyshield/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "policyshieldd",
	Short: "PolicyShield - runtime policy enforcement for AI agent tool calls",
	Long: `PolicyShield sits in front of an AI agent's tool-call surface and
enforces a declarative rule set: allow, block, redact, or require human
approval for a given tool call based on its arguments, session history,
and context.

Configuration:
  Config is loaded from policyshield.yaml in the current directory or
  /etc/policyshield/.

  Environment variables override config values with the POLICYSHIELD_
  prefix. Example: POLICYSHIELD_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the HTTP server
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./policyshield.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
