// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reaps fully-applied pending-delete buckets and clears applied REMOVE rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := NewEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.DeletePendingBuckets(cmd.Context()); err != nil {
			return err
		}

		if err := e.ClearRemoveOps(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("gc complete")
		return nil
	},
}
