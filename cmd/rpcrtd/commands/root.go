// Package commands implements the rpcrtd CLI command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "rpcrtd",
	Short: "rpcrtd hosts demo interfaces over the rpcrt DCE/RPC-flavored runtime",
	Long: `rpcrtd is a demo server built on the rpcrt client/server runtime: explicit
bindings, security-package negotiation, an endpoint-map registration/listen
state machine, and an impersonation scope, generalized from DCE/RPC onto a
gRPC-backed transport.

Use "rpcrtd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/rpcrt/rpcrt.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
