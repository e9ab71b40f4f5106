package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the running instance's health and safety-core state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			health, err := client.health()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(health, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
