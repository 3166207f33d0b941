package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("rpcrtctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
