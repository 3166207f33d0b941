package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/internal/rpcconfig"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("cannot determine default configuration directory: %w", err)
		}
		path = filepath.Join(dir, "rpcrt", "rpcrt.yaml")
	}

	if !forceInit {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := rpcconfig.SaveConfig(rpcconfig.Default(), path); err != nil {
		return err
	}

	fmt.Printf("configuration written to %s\n", path)
	fmt.Println("edit it to taste, then start the server with: rpcrtd serve --config " + path)
	return nil
}
