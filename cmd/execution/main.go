// cmd/execution is the operator CLI and process entrypoint for one Titan
// execution-core instance: `run` starts the full wired process, the
// remaining subcommands are a thin signed-HTTP client against a running
// instance's admin surface, mirroring the teacher's cmd/cli/ledger.go
// client/command shape (there: JSON-over-TCP to a ledger daemon; here:
// signed JSON-over-HTTP to the admin surface).
//
// Environment
//
//	TITAN_ENV         – configuration overlay name (see pkg/config.Load)
//	TITAN_ADMIN_ADDR  – admin HTTP address for operator subcommands (default "http://127.0.0.1:8090")
//	TITAN_HMAC_KEY_FILE / TITAN_HMAC_KEY – operator HMAC signing key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "execution",
		Short: "Titan execution core: run the process or operate a running one",
	}
	root.PersistentFlags().String("admin-addr", "", "admin HTTP address (overrides TITAN_ADMIN_ADDR)")
	root.PersistentFlags().String("actor", "", "actor_id to sign operator commands as")
	root.PersistentFlags().String("key-id", "default", "HMAC key_id to sign operator commands with")

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newArmCommand())
	root.AddCommand(newDisarmCommand())
	root.AddCommand(newHaltCommand())
	root.AddCommand(newResumeCommand())
	root.AddCommand(newPositionsCommand())
	root.AddCommand(newOrdersCommand())
	return root
}
