package main

import (
	"github.com/spf13/cobra"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func newResumeCommand() *cobra.Command {
	var stateHash string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "clear a halt, returning the execution core to its prior arm state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			state, err := client.send(wire.ActionResume, "", stateHash)
			if err != nil {
				return err
			}
			return printOperatorState(state)
		},
	}
	cmd.Flags().StringVar(&stateHash, "expected-state-hash", "", "optimistic-concurrency guard against the current state_hash")
	return cmd
}
