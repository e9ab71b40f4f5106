package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

func newArmCommand() *cobra.Command {
	var policyHash, stateHash string
	cmd := &cobra.Command{
		Use:   "arm",
		Short: "arm the execution core under the given policy hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if policyHash == "" {
				return fmt.Errorf("--policy-hash is required")
			}
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			state, err := client.send(wire.ActionArm, policyHash, stateHash)
			if err != nil {
				return err
			}
			return printOperatorState(state)
		},
	}
	cmd.Flags().StringVar(&policyHash, "policy-hash", "", "digest of the policy being armed")
	cmd.Flags().StringVar(&stateHash, "expected-state-hash", "", "optimistic-concurrency guard against the current state_hash")
	return cmd
}

func printOperatorState(state *wire.OperatorState) error {
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
