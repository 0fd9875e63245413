// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the running checksum and op range of every known bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusJSON, err := getStatus(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(string(statusJSON))
		return nil
	},
}

func getStatus(ctx context.Context) ([]byte, error) {
	e, err := NewEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	statuses, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(statuses, "", "  ")
}
