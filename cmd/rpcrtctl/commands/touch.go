package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/pkg/rpcrt/rpcecho"
)

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Call the demo Touch method, exercising impersonation on the server",
	RunE:  runTouch,
}

func runTouch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	bindingCtx, err := store.GetCurrentContext()
	if err != nil {
		return fmt.Errorf("no binding target selected: %w (use \"rpcrtctl context set\" and \"rpcrtctl context use\")", err)
	}

	client, err := newClient(bindingCtx)
	if err != nil {
		return fmt.Errorf("failed to build RPC client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := rpcecho.Touch(ctx, client)
	if err != nil {
		return fmt.Errorf("touch failed: %w", err)
	}

	p, err := printer()
	if err != nil {
		return err
	}
	return p.Print(*resp)
}
