package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openrpcrt/rpcrt/internal/cli/credentials"
	"github.com/openrpcrt/rpcrt/internal/cli/prompt"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage rpcrtctl binding targets",
}

var (
	ctxDestination string
	ctxEndpoint    string
	ctxObjectUUID  string
	ctxProtoSeq    string
	ctxAuthnLevel  string
	ctxAuthnSec    string
	ctxSPN         string
)

var contextSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a binding target",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextSet,
}

var contextUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current binding target",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextUse,
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List binding targets",
	RunE:  runContextList,
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a binding target",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextDelete,
}

func init() {
	contextSetCmd.Flags().StringVar(&ctxDestination, "destination", "", "destination host")
	contextSetCmd.Flags().StringVar(&ctxEndpoint, "endpoint", "", "endpoint (port or local path)")
	contextSetCmd.Flags().StringVar(&ctxObjectUUID, "object-uuid", "", "object UUID (empty for an unbound handle)")
	contextSetCmd.Flags().StringVar(&ctxProtoSeq, "protocol-sequence", "tcp", "protocol sequence: tcp or local")
	contextSetCmd.Flags().StringVar(&ctxAuthnLevel, "authn-level", "none", "authentication level: none, integrity, privacy")
	contextSetCmd.Flags().StringVar(&ctxAuthnSec, "authn-security", "ntlm", "authentication security package: ntlm, try_kerberos, require_mutual_authn, secure_channel")
	contextSetCmd.Flags().StringVar(&ctxSPN, "spn", "", "service principal name, required for mutual authentication")

	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextUseCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextDeleteCmd)
}

func runContextSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}

	if ctxDestination == "" {
		ctxDestination, err = prompt.InputRequired("Destination host")
		if err != nil {
			return promptErr(err)
		}
		ctxProtoSeq, err = prompt.SelectString("Protocol sequence", []string{"tcp", "local"})
		if err != nil {
			return promptErr(err)
		}
		ctxEndpoint, err = prompt.Input("Endpoint (port or local path)", ctxEndpoint)
		if err != nil {
			return promptErr(err)
		}
		ctxAuthnLevel, err = prompt.SelectString("Authentication level", []string{"none", "integrity", "privacy"})
		if err != nil {
			return promptErr(err)
		}
		if ctxAuthnLevel != "none" {
			ctxAuthnSec, err = prompt.SelectString("Authentication security package",
				[]string{"ntlm", "try_kerberos", "require_mutual_authn", "secure_channel"})
			if err != nil {
				return promptErr(err)
			}
			ctxSPN, err = prompt.InputOptional("Service principal name")
			if err != nil {
				return promptErr(err)
			}
		}
	}

	ctx := &credentials.Context{
		Destination:            ctxDestination,
		Endpoint:               ctxEndpoint,
		ObjectUUID:             ctxObjectUUID,
		ProtocolSequence:       ctxProtoSeq,
		AuthenticationLevel:    ctxAuthnLevel,
		AuthenticationSecurity: ctxAuthnSec,
		SPN:                    ctxSPN,
	}

	if err := store.SetContext(name, ctx); err != nil {
		return fmt.Errorf("failed to save context %q: %w", name, err)
	}

	p, err := printer()
	if err != nil {
		return err
	}
	p.Success(fmt.Sprintf("context %q saved", name))
	return nil
}

func runContextUse(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.UseContext(name); err != nil {
		return fmt.Errorf("failed to switch to context %q: %w", name, err)
	}

	p, err := printer()
	if err != nil {
		return err
	}
	p.Success(fmt.Sprintf("switched to context %q", name))
	return nil
}

func runContextList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	current := store.GetCurrentContextName()
	for _, name := range store.ListContexts() {
		marker := "  "
		if name == current {
			marker = "* "
		}
		fmt.Println(marker + name)
	}
	return nil
}

func promptErr(err error) error {
	if errors.Is(err, prompt.ErrAborted) {
		return fmt.Errorf("aborted")
	}
	return err
}

func runContextDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	ok, err := prompt.Confirm(fmt.Sprintf("Delete binding target %q?", name), false)
	if err != nil {
		return promptErr(err)
	}
	if !ok {
		return nil
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.DeleteContext(name); err != nil {
		return fmt.Errorf("failed to delete context %q: %w", name, err)
	}

	p, err := printer()
	if err != nil {
		return err
	}
	p.Success(fmt.Sprintf("deleted context %q", name))
	return nil
}
