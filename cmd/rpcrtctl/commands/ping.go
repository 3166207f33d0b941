package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/internal/cli/timeutil"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt/rpcecho"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Call the demo ping interface against the current binding target",
	RunE:  runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
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

	resp, err := rpcecho.Ping(ctx, client)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	resp.Uptime = timeutil.FormatUptime(resp.Uptime)
	resp.StartedAt = timeutil.FormatTime(resp.StartedAt)

	p, err := printer()
	if err != nil {
		return err
	}
	return p.Print(*resp)
}
