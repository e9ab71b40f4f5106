package main

import (
	"github.com/spf13/cobra"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func newHaltCommand() *cobra.Command {
	var stateHash string
	cmd := &cobra.Command{
		Use:   "halt",
		Short: "hard-halt the execution core, rejecting all intents regardless of arm state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			state, err := client.send(wire.ActionHalt, "", stateHash)
			if err != nil {
				return err
			}
			return printOperatorState(state)
		},
	}
	cmd.Flags().StringVar(&stateHash, "expected-state-hash", "", "optimistic-concurrency guard against the current state_hash")
	return cmd
}
