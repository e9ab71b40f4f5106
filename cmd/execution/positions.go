package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPositionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "positions <venue> <account>",
		Short: "list the shadow positions for one (venue, account)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/execution/get_positions/%s/%s", args[0], args[1])
			return client.printGET(path)
		},
	}
}

func newOrdersCommand() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "orders <venue> <account>",
		Short: "list orders for one (venue, account)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newOperatorClient(cmd)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/execution/get_orders/%s/%s", args[0], args[1])
			if openOnly {
				path += "?open=true"
			}
			return client.printGET(path)
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "only show non-terminal orders")
	return cmd
}

// printGET fetches path from the admin surface and pretty-prints the JSON
// body.
func (c *operatorClient) printGET(path string) error {
	resp, err := c.http.Get(c.adminAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request rejected: status %d", resp.StatusCode)
	}
	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
