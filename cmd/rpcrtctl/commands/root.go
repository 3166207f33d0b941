// Package commands implements the rpcrtctl CLI command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/internal/cli/credentials"
	"github.com/openrpcrt/rpcrt/internal/cli/output"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	outputFormat string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "rpcrtctl",
	Short: "rpcrtctl drives the rpcrt demo server over its RPC runtime",
	Long: `rpcrtctl is a demo client built on the rpcrt client/server runtime: it
resolves a named binding target, negotiates the requested security package,
and invokes interfaces exposed by rpcrtd.

Use "rpcrtctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(contextCmd)
}

func printer() (*output.Printer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, !noColor), nil
}

func openStore() (*credentials.Store, error) {
	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %w", err)
	}
	return store, nil
}
